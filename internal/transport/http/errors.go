package http

import (
	"encoding/json"
	"net/http"
)

const (
	codeNotFound             = "not_found"
	codeInvalidRequestBody   = "invalid_request_body"
	codeUserRequired         = "user_id_required"
	codeInvalidID            = "invalid_id"
	codeNameRequired         = "experience_name_required"
	codeInvalidCapacity      = "invalid_capacity"
	codePricingLinesRequired = "pricing_lines_required"
	codeInvalidLineItem      = "invalid_line_item"
	codeIdempotencyRequired  = "idempotency_key_required"
	codeIdempotencyConflict  = "idempotency_conflict"
	codeSoldOut              = "sold_out"
	codeExperienceNotFound   = "experience_not_found"
	codeRegistrationNotFound = "registration_not_found"
	codeTransactionNotFound  = "transaction_not_found"
	codeGatewayUnavailable   = "gateway_unavailable"
	codeInvalidCallback      = "invalid_callback"
	codeForbidden            = "forbidden"
	codeInternalError        = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
