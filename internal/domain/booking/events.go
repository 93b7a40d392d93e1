package booking

import (
	"time"

	"github.com/google/uuid"
)

// Topics.
const (
	TopicBookingEvents       = "booking.events"
	TopicPaymentEvents       = "payment.events"
	TopicNotificationCommand = "notification.commands"
)

// Booking event types published on TopicBookingEvents.
const (
	EventSubmitted        = "booking.submitted"
	EventReviewStarted    = "booking.review_started"
	EventQuoted           = "booking.quoted"
	EventRejected         = "booking.rejected"
	EventDepositRequested = "booking.deposit_requested"
	EventDepositPaid      = "booking.deposit_paid"
	EventConfirmed        = "booking.confirmed"
	EventRescheduled      = "booking.rescheduled"
	EventNoShow           = "booking.no_show"
	EventCompleted        = "booking.completed"
	EventCancelled        = "booking.cancelled"
	EventRefundIssued     = "booking.refund_issued"
	EventRefundFailed     = "booking.refund_failed"
	EventRefundDue        = "booking.refund_due"
	EventDepositExpired   = "booking.deposit_expired"
)

// PaymentDepositCompleted is the payment event type consumed from TopicPaymentEvents.
const PaymentDepositCompleted = "payment.deposit.completed"

// StatusChangedEvent is published for every successful transition.
type StatusChangedEvent struct {
	BookingID       uuid.UUID     `json:"booking_id"`
	BookingNumber   string        `json:"booking_number"`
	StudioID        uuid.UUID     `json:"studio_id"`
	Operation       Operation     `json:"operation"`
	FromStatus      BookingStatus `json:"from_status"`
	Status          BookingStatus `json:"status"`
	Version         int64         `json:"version"`
	DepositCents    *int64        `json:"deposit_cents,omitempty"`
	RefundCents     *int64        `json:"refund_cents,omitempty"`
	ForfeitDeposit  *bool         `json:"forfeit_deposit,omitempty"`
	RescheduleCount int           `json:"reschedule_count"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

// RefundEvent reports a refund outcome or an owed refund.
type RefundEvent struct {
	BookingID        uuid.UUID  `json:"booking_id"`
	BookingNumber    string     `json:"booking_number"`
	StudioID         uuid.UUID  `json:"studio_id"`
	PaymentReference string     `json:"payment_reference"`
	AmountCents      int64      `json:"amount_cents"`
	Currency         string     `json:"currency"`
	RefundType       RefundType `json:"refund_type,omitempty"`
	Error            string     `json:"error,omitempty"`
	OccurredAt       time.Time  `json:"occurred_at"`
}

// DepositExpiredEvent flags a deposit session that lapsed unpaid.
type DepositExpiredEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	BookingNumber string    `json:"booking_number"`
	StudioID      uuid.UUID `json:"studio_id"`
	SessionID     string    `json:"session_id"`
	ExpiredAt     time.Time `json:"expired_at"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// DepositCompletedEvent is the payment processor's completion notice, received
// either on TopicPaymentEvents or through the HTTP webhook.
type DepositCompletedEvent struct {
	EventID          string    `json:"event_id"`
	BookingID        string    `json:"booking_id,omitempty"`
	SessionID        string    `json:"session_id"`
	PaymentReference string    `json:"payment_reference"`
	Status           string    `json:"status"`
	AmountCents      int64     `json:"amount_cents"`
	CompletedAt      time.Time `json:"completed_at"`
}

// EventTypeFor maps an operation to the booking event type it publishes.
func EventTypeFor(op Operation) string {
	switch op {
	case OpStartReview:
		return EventReviewStarted
	case OpSendQuote:
		return EventQuoted
	case OpReject:
		return EventRejected
	case OpRequestDeposit:
		return EventDepositRequested
	case OpMarkDepositPaid:
		return EventDepositPaid
	case OpConfirm:
		return EventConfirmed
	case OpReschedule:
		return EventRescheduled
	case OpMarkNoShow:
		return EventNoShow
	case OpComplete:
		return EventCompleted
	case OpCancel, OpCancelWithRefund:
		return EventCancelled
	case OpIssueRefund:
		return EventRefundIssued
	default:
		return "booking." + string(op)
	}
}
