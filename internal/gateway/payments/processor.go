// Package payments wraps the external payment processor behind the narrow
// contract the settlement coordinator needs.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reservalo/booking-api/pkg/circuitbreaker"
	apperrors "github.com/reservalo/booking-api/pkg/errors"
)

// Session statuses reported by the processor.
const (
	SessionStatusApproved = "approved"
	SessionStatusRejected = "rejected"
	SessionStatusPending  = "pending"
)

// Session is the opaque redirect handle returned on creation.
type Session struct {
	Ref         string `json:"session_ref"`
	RedirectURL string `json:"redirect_url"`
}

// Confirmation is the processor's verdict on a session.
type Confirmation struct {
	Status     string `json:"status"`
	PaidAmount int64  `json:"paid_amount"`
}

// Processor is the narrow contract with the external card processor.
type Processor interface {
	CreateSession(ctx context.Context, amount int64, currency string, returnURL string) (*Session, error)
	ConfirmSession(ctx context.Context, sessionRef string) (*Confirmation, error)
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

type httpProcessor struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	cb      *circuitbreaker.CircuitBreaker
}

// NewHTTPProcessor builds the production client. Every call is bounded by the
// configured timeout; a timeout surfaces as a retryable upstream failure and
// never a half-applied payment.
func NewHTTPProcessor(cfg Config) Processor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &httpProcessor{
		baseURL: cfg.BaseURL,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		cb: circuitbreaker.New(circuitbreaker.Settings{
			Name:        "payment-processor",
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
	}
}

func (p *httpProcessor) CreateSession(ctx context.Context, amount int64, currency string, returnURL string) (*Session, error) {
	body := map[string]interface{}{
		"amount":     amount,
		"currency":   currency,
		"return_url": returnURL,
	}
	var session Session
	if err := p.post(ctx, "/v1/sessions", body, &session); err != nil {
		return nil, err
	}
	if session.Ref == "" {
		return nil, apperrors.NewUpstreamUnavailable("payment processor", fmt.Errorf("empty session ref"))
	}
	return &session, nil
}

func (p *httpProcessor) ConfirmSession(ctx context.Context, sessionRef string) (*Confirmation, error) {
	body := map[string]interface{}{"session_ref": sessionRef}
	var confirmation Confirmation
	if err := p.post(ctx, "/v1/sessions/confirm", body, &confirmation); err != nil {
		return nil, err
	}
	return &confirmation, nil
}

func (p *httpProcessor) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return apperrors.NewUpstreamUnavailable("payment processor", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return apperrors.NewUpstreamUnavailable("payment processor", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return apperrors.NewPaymentNotConfirmed(fmt.Sprintf("processor rejected request with status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode processor response: %w", err)
		}
		return nil
	})
}
