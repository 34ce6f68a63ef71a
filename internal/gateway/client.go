// Package gateway talks to the external payment processor. Every request
// carries a checksum header derived from the payload and a configured
// signing key; responses and callbacks are verified the same way before any
// field in them is trusted. The package performs no local side effects —
// state changes belong to the reconciliation engine.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atlastrails/booking-api/internal/domain"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// InitiateRequest describes one payment to start. TransactionID is the
// merchant-side correlation id, generated by the caller before any remote
// call so a session can always be tied back to its registration.
type InitiateRequest struct {
	TransactionID string
	Amount        int64
	UserID        string
	RedirectURL   string
	CallbackURL   string
}

// Session is the gateway's answer to a successful initiate.
type Session struct {
	TransactionID string
	RedirectURL   string
}

// StatusResult carries the canonical status plus the raw gateway payload
// for diagnostics. The raw payload is never used to derive amounts.
type StatusResult struct {
	Status Status
	Raw    json.RawMessage
}

// CallbackNotification is a verified, decoded asynchronous notification.
type CallbackNotification struct {
	TransactionID string
	Status        Status
}

// MerchantContext identifies the credentials a session was created under.
type MerchantContext struct {
	ID       string
	KeyIndex int
	Sandbox  bool
}

// Client is the narrow capability surface the reconciliation engine needs.
type Client interface {
	Initiate(ctx context.Context, req InitiateRequest) (Session, error)
	CheckStatus(ctx context.Context, transactionID string) (StatusResult, error)
	DecodeCallback(body []byte, verify string) (CallbackNotification, error)
	Merchant() MerchantContext
}

// Config holds the merchant credentials and environment for the gateway.
type Config struct {
	BaseURL    string
	MerchantID string
	SigningKey string
	KeyIndex   int
	Sandbox    bool
}

const (
	payPath        = "/pg/v1/pay"
	statusPathFmt  = "/pg/v1/status/%s/%s"
	requestTimeout = 15 * time.Second
)

// HTTPClient implements Client over the gateway's signed JSON protocol.
type HTTPClient struct {
	cfg  Config
	http *http.Client
}

func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		cfg:  cfg,
		http: &http.Client{Timeout: requestTimeout},
	}
}

func (c *HTTPClient) Merchant() MerchantContext {
	return MerchantContext{
		ID:       c.cfg.MerchantID,
		KeyIndex: c.cfg.KeyIndex,
		Sandbox:  c.cfg.Sandbox,
	}
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl,omitempty"`
	CallbackURL           string            `json:"callbackUrl,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type envelope struct {
	Request string `json:"request"`
}

type payResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Data    struct {
		MerchantTransactionID string `json:"merchantTransactionId"`
		InstrumentResponse    struct {
			RedirectInfo struct {
				URL string `json:"url"`
			} `json:"redirectInfo"`
		} `json:"instrumentResponse"`
	} `json:"data"`
}

func (c *HTTPClient) Initiate(ctx context.Context, req InitiateRequest) (Session, error) {
	payload := payPayload{
		MerchantID:            c.cfg.MerchantID,
		MerchantTransactionID: req.TransactionID,
		MerchantUserID:        req.UserID,
		Amount:                req.Amount,
		RedirectURL:           req.RedirectURL,
		CallbackURL:           req.CallbackURL,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Session{}, fmt.Errorf("marshal pay payload: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	body, err := c.post(ctx, payPath, envelope{Request: encoded}, checksum(encoded, payPath, c.cfg.SigningKey, c.cfg.KeyIndex))
	if err != nil {
		return Session{}, err
	}

	var resp payResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Session{}, fmt.Errorf("decode pay response: %w", domain.ErrGatewayUnavailable)
	}
	if !resp.Success {
		return Session{}, fmt.Errorf("gateway rejected initiate (%s): %w", resp.Code, domain.ErrGatewayUnavailable)
	}

	return Session{
		TransactionID: req.TransactionID,
		RedirectURL:   resp.Data.InstrumentResponse.RedirectInfo.URL,
	}, nil
}

type statusResponse struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (c *HTTPClient) CheckStatus(ctx context.Context, transactionID string) (StatusResult, error) {
	path := fmt.Sprintf(statusPathFmt, c.cfg.MerchantID, transactionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return StatusResult{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(verifyHeader, checksum("", path, c.cfg.SigningKey, c.cfg.KeyIndex))

	body, err := c.do(req)
	if err != nil {
		return StatusResult{}, err
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusResult{}, fmt.Errorf("decode status response: %w", domain.ErrGatewayUnavailable)
	}
	if resp.Code == "TRANSACTION_NOT_FOUND" {
		return StatusResult{}, domain.ErrSessionNotFound
	}

	status, ok := mapStatusCode(resp.Code)
	if !ok {
		return StatusResult{}, fmt.Errorf("unknown gateway status code %q: %w", resp.Code, domain.ErrGatewayUnavailable)
	}
	return StatusResult{Status: status, Raw: resp.Data}, nil
}

type callbackEnvelope struct {
	Response string `json:"response"`
}

type callbackPayload struct {
	MerchantTransactionID string `json:"merchantTransactionId"`
	Code                  string `json:"code"`
}

// DecodeCallback verifies the checksum on an asynchronous notification and
// decodes it. An unverifiable callback is gateway noise, not a status.
func (c *HTTPClient) DecodeCallback(body []byte, verify string) (CallbackNotification, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return CallbackNotification{}, fmt.Errorf("decode callback envelope: %w", domain.ErrGatewayUnavailable)
	}
	if env.Response == "" {
		return CallbackNotification{}, fmt.Errorf("empty callback response: %w", domain.ErrGatewayUnavailable)
	}
	if !verifyChecksum(verify, env.Response, "", c.cfg.SigningKey, c.cfg.KeyIndex) {
		return CallbackNotification{}, fmt.Errorf("callback checksum mismatch: %w", domain.ErrGatewayUnavailable)
	}

	raw, err := base64.StdEncoding.DecodeString(env.Response)
	if err != nil {
		return CallbackNotification{}, fmt.Errorf("decode callback payload: %w", domain.ErrGatewayUnavailable)
	}
	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return CallbackNotification{}, fmt.Errorf("decode callback payload: %w", domain.ErrGatewayUnavailable)
	}

	status, ok := mapStatusCode(payload.Code)
	if !ok {
		return CallbackNotification{}, fmt.Errorf("unknown callback code %q: %w", payload.Code, domain.ErrGatewayUnavailable)
	}
	return CallbackNotification{
		TransactionID: payload.MerchantTransactionID,
		Status:        status,
	}, nil
}

func mapStatusCode(code string) (Status, bool) {
	switch code {
	case "PAYMENT_SUCCESS":
		return StatusCompleted, true
	case "PAYMENT_ERROR", "PAYMENT_DECLINED", "TIMED_OUT":
		return StatusFailed, true
	case "PAYMENT_PENDING", "PAYMENT_INITIATED":
		return StatusPending, true
	default:
		return "", false
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, verify string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(verifyHeader, verify)

	return c.do(req)
}

// do executes the request and verifies the response checksum before
// returning the body. Anything unverifiable is ErrGatewayUnavailable.
func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", domain.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", domain.ErrGatewayUnavailable)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway status %d: %w", resp.StatusCode, domain.ErrGatewayUnavailable)
	}

	encoded := base64.StdEncoding.EncodeToString(body)
	if !verifyChecksum(resp.Header.Get(verifyHeader), encoded, "", c.cfg.SigningKey, c.cfg.KeyIndex) {
		return nil, fmt.Errorf("response checksum mismatch: %w", domain.ErrGatewayUnavailable)
	}
	return body, nil
}
