package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "sk_test", MaxRetries: 2}, zap.NewNop())
	c.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c
}

func TestCreateDepositSession(t *testing.T) {
	bookingID := uuid.New()
	expires := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "deposit-key", r.Header.Get("Idempotency-Key"))

		var body sessionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(5000), body.AmountCents)
		assert.Equal(t, "usd", body.Currency)
		assert.Equal(t, expires.Unix(), body.ExpiresAt)
		assert.Equal(t, bookingID.String(), body.Metadata["booking_id"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_123","url":"https://pay.example.com/cs_123"}`))
	})

	session, err := c.CreateDepositSession(context.Background(), application.DepositSessionRequest{
		BookingID:      bookingID,
		BookingNumber:  "BR-1",
		AmountCents:    5000,
		Currency:       "USD",
		ExpiresAt:      expires,
		IdempotencyKey: "deposit-key",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.SessionID)
	assert.Equal(t, "https://pay.example.com/cs_123", session.PaymentURL)
	assert.True(t, session.ExpiresAt.Equal(expires))
}

func TestRetriesServerErrorsWithSameIdempotencyKey(t *testing.T) {
	var calls int32
	var keys []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"re_1","status":"succeeded"}`))
	})

	receipt, err := c.Refund(context.Background(), application.RefundRequest{
		PaymentReference: "ch_1", AmountCents: 5000, Currency: "USD", IdempotencyKey: "refund-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", receipt.RefundID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{"refund-1", "refund-1", "refund-1"}, keys)
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"charge_already_refunded","message":"charge already refunded"}}`))
	})

	_, err := c.Refund(context.Background(), application.RefundRequest{PaymentReference: "ch_1", AmountCents: 100})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "charge_already_refunded", apiErr.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRetriesExhausted(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.CreateDepositSession(context.Background(), application.DepositSessionRequest{AmountCents: 100, Currency: "usd"})
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRefundDeclined(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"re_2","status":"failed"}`))
	})

	_, err := c.Refund(context.Background(), application.RefundRequest{PaymentReference: "ch_1", AmountCents: 100})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refund_failed")
}

func TestExpireSessionToleratesClosedSessions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_old/expire", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
	})
	assert.NoError(t, c.ExpireSession(context.Background(), "cs_old"))
}
