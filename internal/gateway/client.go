// Package gateway is the HTTP client for the payment processor that collects
// booking deposits and issues refunds.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
)

const defaultMaxRetries = 3

// Config holds the processor endpoint and credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint64
}

// APIError is a non-2xx response from the processor.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment processor returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment processor returned %d: %s", e.StatusCode, e.Message)
}

// Client implements application.PaymentGateway over the processor's REST API.
// Every mutating call carries an Idempotency-Key so transport retries never
// create a second session or refund.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// NewClient creates a processor client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries == 0 {
		retries = defaultMaxRetries
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout},
		maxRetries: retries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			b.MaxElapsedTime = 15 * time.Second
			return b
		},
		logger: logger,
	}
}

type sessionRequest struct {
	AmountCents   int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Description   string            `json:"description,omitempty"`
	ExpiresAt     int64             `json:"expires_at"`
	Metadata      map[string]string `json:"metadata"`
}

type sessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

type refundRequest struct {
	PaymentReference string `json:"payment_reference"`
	AmountCents      int64  `json:"amount"`
	Currency         string `json:"currency"`
	Reason           string `json:"reason,omitempty"`
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateDepositSession opens a checkout session for a booking deposit.
func (c *Client) CreateDepositSession(ctx context.Context, req application.DepositSessionRequest) (*application.GatewaySession, error) {
	body := sessionRequest{
		AmountCents:   req.AmountCents,
		Currency:      strings.ToLower(req.Currency),
		CustomerEmail: req.ClientEmail,
		Description:   req.Description,
		ExpiresAt:     req.ExpiresAt.Unix(),
		Metadata: map[string]string{
			"booking_id":     req.BookingID.String(),
			"booking_number": req.BookingNumber,
		},
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.URL == "" {
		return nil, fmt.Errorf("payment processor returned an incomplete session")
	}

	session := &application.GatewaySession{SessionID: resp.ID, PaymentURL: resp.URL, ExpiresAt: req.ExpiresAt}
	if resp.ExpiresAt > 0 {
		session.ExpiresAt = time.Unix(resp.ExpiresAt, 0).UTC()
	}
	c.logger.Info("deposit session created",
		zap.String("booking_id", req.BookingID.String()),
		zap.String("session_id", resp.ID),
	)
	return session, nil
}

// ExpireSession closes an open session so it can no longer be paid. Expiring
// a session that is already closed is not an error.
func (c *Client) ExpireSession(ctx context.Context, sessionID string) error {
	err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions/"+sessionID+"/expire", "expire-"+sessionID, nil, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.StatusCode == http.StatusNotFound) {
		return nil
	}
	return err
}

// Refund refunds amount of the charge identified by PaymentReference.
func (c *Client) Refund(ctx context.Context, req application.RefundRequest) (*application.RefundReceipt, error) {
	body := refundRequest{
		PaymentReference: req.PaymentReference,
		AmountCents:      req.AmountCents,
		Currency:         strings.ToLower(req.Currency),
		Reason:           req.Reason,
	}

	var resp refundResponse
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "failed" || resp.Status == "canceled" {
		return nil, &APIError{StatusCode: http.StatusOK, Code: "refund_" + resp.Status, Message: "refund was not accepted"}
	}
	return &application.RefundReceipt{RefundID: resp.ID, Status: resp.Status}, nil
}

// do sends one request, retrying transport errors, 429 and 5xx responses.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.send(ctx, method, path, idempotencyKey, payload, out)
		if err == nil {
			return nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("payment processor call failed",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
}

func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
			apiErr.Code = parsed.Error.Code
			apiErr.Message = parsed.Error.Message
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
