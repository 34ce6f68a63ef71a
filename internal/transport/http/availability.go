package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/atlastrails/booking-api/internal/app"
	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

// AvailabilityProvider is the minimal interface needed to query capacity.
type AvailabilityProvider interface {
	Availability(ctx context.Context, experienceID string) (app.AvailabilityResult, error)
}

// HandleAvailability returns an HTTP handler for the capacity query.
func HandleAvailability(svc AvailabilityProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := svc.Availability(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrInvalidID):
				writeError(w, http.StatusBadRequest, codeInvalidID, err.Error())
			case errors.Is(err, domain.ErrExperienceNotFound):
				writeError(w, http.StatusNotFound, codeExperienceNotFound, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, availabilityResponse{
			Available: result.Available,
			Total:     result.Total,
		})
	}
}

type availabilityResponse struct {
	Available int `json:"available"`
	Total     int `json:"total"`
}
