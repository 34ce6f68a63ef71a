package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/atlastrails/booking-api/internal/app"
	"github.com/atlastrails/booking-api/internal/domain"
)

// ExperienceAdmin is the minimal interface needed to manage the catalog.
type ExperienceAdmin interface {
	CreateExperience(ctx context.Context, in app.CreateExperienceInput) (domain.Experience, error)
	ListExperiences(ctx context.Context) ([]domain.Experience, error)
}

// HandleCreateExperience returns an HTTP handler for adding an experience.
func HandleCreateExperience(svc ExperienceAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createExperienceRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		exp, err := svc.CreateExperience(r.Context(), app.CreateExperienceInput{
			Name:          req.Name,
			Location:      req.Location,
			Description:   req.Description,
			TotalCapacity: req.TotalCapacity,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNameRequired):
				writeError(w, http.StatusBadRequest, codeNameRequired, err.Error())
			case errors.Is(err, domain.ErrInvalidCapacity):
				writeError(w, http.StatusBadRequest, codeInvalidCapacity, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusCreated, toExperienceResponse(exp))
	}
}

// HandleListExperiences returns an HTTP handler listing the catalog.
func HandleListExperiences(svc ExperienceAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exps, err := svc.ListExperiences(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			return
		}

		out := make([]experienceResponse, 0, len(exps))
		for _, exp := range exps {
			out = append(out, toExperienceResponse(exp))
		}
		writeJSON(w, http.StatusOK, experienceListResponse{Experiences: out})
	}
}

type createExperienceRequest struct {
	Name          string `json:"name"`
	Location      string `json:"location"`
	Description   string `json:"description"`
	TotalCapacity int    `json:"total_capacity"`
}

type experienceResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Location      string    `json:"location,omitempty"`
	Description   string    `json:"description,omitempty"`
	TotalCapacity int       `json:"total_capacity"`
	Available     int       `json:"available"`
	CreatedAt     time.Time `json:"created_at"`
}

type experienceListResponse struct {
	Experiences []experienceResponse `json:"experiences"`
}

func toExperienceResponse(exp domain.Experience) experienceResponse {
	return experienceResponse{
		ID:            exp.ID,
		Name:          exp.Name,
		Location:      exp.Location,
		Description:   exp.Description,
		TotalCapacity: exp.TotalCapacity,
		Available:     exp.Available(),
		CreatedAt:     exp.CreatedAt,
	}
}
