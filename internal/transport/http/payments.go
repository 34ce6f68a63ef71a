package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/atlastrails/booking-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

const verifyHeader = "X-Verify"

// PaymentFinalizer drives a registration to its terminal payment state.
type PaymentFinalizer interface {
	Finalize(ctx context.Context, transactionID string) (domain.PaymentStatus, error)
	HandleCallback(ctx context.Context, body []byte, verify string) (domain.PaymentStatus, error)
}

// HandlePaymentStatus returns an HTTP handler for the polling endpoint. A
// poll does real work: the gateway's answer is applied through the engine
// before the canonical status is returned.
func HandlePaymentStatus(svc PaymentFinalizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		transactionID := chi.URLParam(r, "transactionID")

		status, err := svc.Finalize(r.Context(), transactionID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrSessionNotFound):
				writeError(w, http.StatusNotFound, codeTransactionNotFound, err.Error())
			case errors.Is(err, domain.ErrGatewayUnavailable):
				writeError(w, http.StatusInternalServerError, codeGatewayUnavailable, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, paymentStatusResponse{
			TransactionID: transactionID,
			Status:        string(status),
		})
	}
}

// HandlePaymentCallback returns an HTTP handler for asynchronous gateway
// notifications. The checksum is verified before any local state is
// touched; duplicates resolve to the stored terminal state with a 200 so
// the gateway stops retrying.
func HandlePaymentCallback(svc PaymentFinalizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}

		status, err := svc.HandleCallback(r.Context(), body, r.Header.Get(verifyHeader))
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrGatewayUnavailable):
				writeError(w, http.StatusBadRequest, codeInvalidCallback, "callback rejected")
			case errors.Is(err, domain.ErrSessionNotFound):
				writeError(w, http.StatusNotFound, codeTransactionNotFound, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
			}
			return
		}

		writeJSON(w, http.StatusOK, paymentStatusResponse{Status: string(status)})
	}
}

type paymentStatusResponse struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Status        string `json:"status"`
}
