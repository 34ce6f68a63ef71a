package http

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// BookingAPI is everything the booking routes need.
type BookingAPI interface {
	BookingCreator
	BookingGetter
}

// CatalogAPI is everything the experience routes need.
type CatalogAPI interface {
	ExperienceAdmin
	AvailabilityProvider
}

// RouterConfig carries the services and settings the router wires up.
type RouterConfig struct {
	Bookings    BookingAPI
	Catalog     CatalogAPI
	Payments    PaymentFinalizer
	CORSOrigins []string
	Logger      *log.Logger
}

// NewRouter assembles the full HTTP surface of the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.NotFound(NotFoundHandler().ServeHTTP)

	r.Get("/health", HealthHandler)

	r.Post("/bookings", HandleCreateBooking(cfg.Bookings))
	r.Get("/bookings/{id}", HandleGetBooking(cfg.Bookings))

	r.Get("/experiences/{id}/availability", HandleAvailability(cfg.Catalog))

	r.Get("/payments/{transactionID}/status", HandlePaymentStatus(cfg.Payments))
	r.Post("/payments/callback", HandlePaymentCallback(cfg.Payments))

	r.Post("/admin/experiences", HandleCreateExperience(cfg.Catalog))
	r.Get("/admin/experiences", HandleListExperiences(cfg.Catalog))

	var handler http.Handler = r
	handler = CORS(cfg.CORSOrigins, handler)
	handler = RequestLogger(handler, cfg.Logger)
	return handler
}
