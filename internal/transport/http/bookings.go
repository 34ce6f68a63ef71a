package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atlastrails/booking-api/internal/app"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

const idempotencyHeader = "Idempotency-Key"

// BookingCreator is the minimal interface needed to create a booking.
type BookingCreator interface {
	CreateBooking(ctx context.Context, in app.CreateBookingInput) (app.CreateBookingResult, error)
}

// BookingGetter is the minimal interface needed to read a booking.
type BookingGetter interface {
	GetBooking(ctx context.Context, id string) (domain.Registration, error)
}

// HandleCreateBooking returns an HTTP handler for creating bookings.
func HandleCreateBooking(svc BookingCreator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookingRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		key := r.Header.Get(idempotencyHeader)
		if key == "" {
			writeError(w, http.StatusBadRequest, codeIdempotencyRequired, domain.ErrIdempotencyKeyRequired.Error())
			return
		}

		result, err := svc.CreateBooking(r.Context(), app.CreateBookingInput{
			UserID:         req.UserID,
			ExperienceID:   req.ExperienceID,
			PricingLines:   req.PricingLines,
			FoodLines:      req.FoodLines,
			IdempotencyKey: key,
		})
		if err != nil {
			writeBookingError(w, err)
			return
		}

		status := http.StatusCreated
		if !result.Created {
			status = http.StatusOK
		}
		writeJSON(w, status, bookingResponse{
			ID:            result.Registration.ID,
			ExperienceID:  result.Registration.ExperienceID,
			Status:        string(result.Registration.PaymentStatus),
			TotalAmount:   result.Registration.TotalAmount,
			TransactionID: result.TransactionID,
			RedirectURL:   result.RedirectURL,
			CreatedAt:     result.Registration.CreatedAt,
		})
	}
}

// HandleGetBooking returns an HTTP handler for reading one booking.
func HandleGetBooking(svc BookingGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, err := svc.GetBooking(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			case errors.Is(err, domain.ErrRegistrationNotFound):
				writeError(w, http.StatusNotFound, codeRegistrationNotFound, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, registrationResponse{
			ID:           reg.ID,
			UserID:       reg.UserID,
			ExperienceID: reg.ExperienceID,
			PricingLines: reg.PricingLines,
			FoodLines:    reg.FoodLines,
			TotalAmount:  reg.TotalAmount,
			Status:       string(reg.PaymentStatus),
			CreatedAt:    reg.CreatedAt,
			UpdatedAt:    reg.UpdatedAt,
		})
	}
}

func writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserRequired):
		writeError(w, http.StatusBadRequest, codeUserRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
	case errors.Is(err, domain.ErrPricingLinesRequired):
		writeError(w, http.StatusBadRequest, codePricingLinesRequired, err.Error())
	case errors.Is(err, domain.ErrInvalidLineItem):
		writeError(w, http.StatusBadRequest, codeInvalidLineItem, err.Error())
	case errors.Is(err, domain.ErrIdempotencyKeyRequired):
		writeError(w, http.StatusBadRequest, codeIdempotencyRequired, err.Error())
	case errors.Is(err, domain.ErrExperienceNotFound):
		writeError(w, http.StatusNotFound, codeExperienceNotFound, err.Error())
	case errors.Is(err, domain.ErrCapacityExhausted):
		writeError(w, http.StatusConflict, codeSoldOut, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, codeIdempotencyConflict, err.Error())
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeError(w, http.StatusInternalServerError, codeGatewayUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

type createBookingRequest struct {
	UserID       string            `json:"user_id"`
	ExperienceID string            `json:"experience_id"`
	PricingLines []domain.LineItem `json:"pricing_lines"`
	FoodLines    []domain.LineItem `json:"food_lines"`
}

type bookingResponse struct {
	ID            string    `json:"id"`
	ExperienceID  string    `json:"experience_id"`
	Status        string    `json:"status"`
	TotalAmount   int64     `json:"total_amount"`
	TransactionID string    `json:"transaction_id,omitempty"`
	RedirectURL   string    `json:"redirect_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type registrationResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	ExperienceID string            `json:"experience_id"`
	PricingLines []domain.LineItem `json:"pricing_lines"`
	FoodLines    []domain.LineItem `json:"food_lines,omitempty"`
	TotalAmount  int64             `json:"total_amount"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
