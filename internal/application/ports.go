package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/kafka"
)

// DepositSessionRequest asks the payment gateway for a new collection session.
type DepositSessionRequest struct {
	BookingID      uuid.UUID
	BookingNumber  string
	AmountCents    int64
	Currency       string
	ClientEmail    string
	Description    string
	ExpiresAt      time.Time
	IdempotencyKey string
}

// GatewaySession is the gateway's handle for a created deposit session.
type GatewaySession struct {
	SessionID  string
	PaymentURL string
	ExpiresAt  time.Time
}

// RefundRequest asks the payment gateway to refund part or all of a charge.
type RefundRequest struct {
	PaymentReference string
	AmountCents      int64
	Currency         string
	Reason           string
	IdempotencyKey   string
}

// RefundReceipt is the gateway's confirmation of an accepted refund.
type RefundReceipt struct {
	RefundID string
	Status   string
}

// PaymentGateway creates deposit sessions and issues refunds.
type PaymentGateway interface {
	CreateDepositSession(ctx context.Context, req DepositSessionRequest) (*GatewaySession, error)
	ExpireSession(ctx context.Context, sessionID string) error
	Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error)
}

// Notification templates.
const (
	TemplateBookingReceived    = "booking_received"
	TemplateBookingRejected    = "booking_rejected"
	TemplateDepositRequest     = "deposit_request"
	TemplateBookingConfirmed   = "booking_confirmed"
	TemplateBookingRescheduled = "booking_rescheduled"
	TemplateBookingCancelled   = "booking_cancelled"
	TemplateBookingNoShow      = "booking_no_show"
	TemplateRefundIssued       = "refund_issued"
)

// Appointment describes a scheduled session for calendar attachments.
type Appointment struct {
	Start         time.Time
	DurationHours float64
	Title         string
	Sequence      int
}

// Notification is a templated client-facing message.
type Notification struct {
	Template      string
	BookingID     uuid.UUID
	BookingNumber string
	StudioID      uuid.UUID
	Recipient     bookingDomain.ClientInfo
	Data          map[string]interface{}
	Appointment   *Appointment
}

// NotificationDispatcher sends client notifications.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// EventPublisher publishes CloudEvents to a topic.
type EventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.CloudEvent) error
}

// StatusUpdate is pushed to live viewers of a booking request.
type StatusUpdate struct {
	BookingID uuid.UUID                   `json:"booking_id"`
	Status    bookingDomain.BookingStatus `json:"status"`
	Version   int64                       `json:"version"`
	Operation string                      `json:"operation,omitempty"`
	Expired   bool                        `json:"deposit_expired,omitempty"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// StatusBroadcaster fans status updates out to live viewers.
type StatusBroadcaster interface {
	Broadcast(ctx context.Context, update StatusUpdate) error
}

// Deduplicator remembers processed inbound events.
type Deduplicator interface {
	// Claim returns true the first time key is seen.
	Claim(ctx context.Context, key string) (bool, error)
	// Release forgets key so a redelivery is processed again.
	Release(ctx context.Context, key string) error
}
