package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
)

// SignatureHeader carries the processor's webhook signature in the form
// "t=<unix seconds>,v1=<hex hmac>".
const SignatureHeader = "Payment-Signature"

// DefaultSignatureTolerance bounds the age of an accepted webhook.
const DefaultSignatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// Sign computes the signature header value for body at ts.
func Sign(secret string, body []byte, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeMAC(secret, t, body)
}

// VerifySignature checks header against body. The signed payload is the
// timestamp, a dot, and the raw request body.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if header == "" {
		return ErrMissingSignature
	}

	var ts string
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if ts == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}

	expected := []byte(computeMAC(secret, ts, body))
	for _, c := range candidates {
		if hmac.Equal(expected, []byte(c)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func computeMAC(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Webhook event types the service acts on.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventDepositCompleted  = "payment.deposit.completed"
)

type webhookEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type webhookSession struct {
	ID               string            `json:"id"`
	PaymentReference string            `json:"payment_reference"`
	Status           string            `json:"status"`
	AmountCents      int64             `json:"amount"`
	CompletedAt      int64             `json:"completed_at"`
	Metadata         map[string]string `json:"metadata"`
}

// ParseWebhook decodes a processor webhook body. ok is false for event types
// the service does not handle.
func ParseWebhook(body []byte) (evt bookingDomain.DepositCompletedEvent, ok bool, err error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return evt, false, fmt.Errorf("invalid webhook body: %w", err)
	}
	if env.Type != EventCheckoutCompleted && env.Type != EventDepositCompleted {
		return evt, false, nil
	}

	var data webhookSession
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return evt, false, fmt.Errorf("invalid webhook data: %w", err)
	}

	evt = bookingDomain.DepositCompletedEvent{
		EventID:          env.ID,
		BookingID:        data.Metadata["booking_id"],
		SessionID:        data.ID,
		PaymentReference: data.PaymentReference,
		Status:           data.Status,
		AmountCents:      data.AmountCents,
	}
	switch {
	case data.CompletedAt > 0:
		evt.CompletedAt = time.Unix(data.CompletedAt, 0).UTC()
	case env.Created > 0:
		evt.CompletedAt = time.Unix(env.Created, 0).UTC()
	}
	return evt, true, nil
}
