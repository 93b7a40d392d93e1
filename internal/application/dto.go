package application

import (
	"time"

	"github.com/google/uuid"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
)

// BookingRequestDTO is the staff-facing representation of a booking request.
type BookingRequestDTO struct {
	ID            uuid.UUID                   `json:"id"`
	BookingNumber string                      `json:"booking_number"`
	StudioID      uuid.UUID                   `json:"studio_id"`
	ArtistID      *uuid.UUID                  `json:"artist_id,omitempty"`
	Client        bookingDomain.ClientInfo    `json:"client"`
	Design        bookingDomain.DesignRequest `json:"design"`
	Status        string                      `json:"status"`
	State         bookingDomain.State         `json:"state"`
	Currency      string                      `json:"currency"`

	QuotedPriceCents   *int64   `json:"quoted_price_cents,omitempty"`
	DepositAmountCents *int64   `json:"deposit_amount_cents,omitempty"`
	EstimatedHours     *float64 `json:"estimated_hours,omitempty"`
	QuoteNotes         string   `json:"quote_notes,omitempty"`

	DepositRequestedAt      *time.Time `json:"deposit_requested_at,omitempty"`
	DepositRequestExpiresAt *time.Time `json:"deposit_request_expires_at,omitempty"`
	DepositExpired          bool       `json:"deposit_expired"`
	PaymentURL              string     `json:"payment_url,omitempty"`
	DepositPaidAt           *time.Time `json:"deposit_paid_at,omitempty"`
	PaymentReference        string     `json:"payment_reference,omitempty"`

	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
	RefundAmountCents *int64     `json:"refund_amount_cents,omitempty"`
	RefundType        string     `json:"refund_type,omitempty"`

	ScheduledDate          *time.Time `json:"scheduled_date,omitempty"`
	ScheduledDurationHours *float64   `json:"scheduled_duration_hours,omitempty"`
	RescheduleCount        int        `json:"reschedule_count"`

	CancelledBy        string     `json:"cancelled_by,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	NoShowNotes        string     `json:"no_show_notes,omitempty"`
	ForfeitDeposit     *bool      `json:"forfeit_deposit,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicDepositDTO is the redacted view behind a public payment link.
type PublicDepositDTO struct {
	ClientName         string    `json:"client_name"`
	DesignSummary      string    `json:"design_summary"`
	DepositAmountCents int64     `json:"deposit_amount_cents"`
	Currency           string    `json:"currency"`
	ExpiresAt          time.Time `json:"expires_at"`
	Expired            bool      `json:"expired"`
	Paid               bool      `json:"paid"`
	PaymentURL         string    `json:"payment_url,omitempty"`
}

// Side-effect outcome statuses.
const (
	OutcomeSent    = "sent"
	OutcomeIssued  = "issued"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Outcome reports one external side effect of a transition.
type Outcome struct {
	Status    string `json:"status"`
	Reference string `json:"reference,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SideEffects reports which parts of a transition beyond the status change
// succeeded.
type SideEffects struct {
	Notification *Outcome `json:"notification,omitempty"`
	Refund       *Outcome `json:"refund,omitempty"`
	RefundDue    bool     `json:"refund_due,omitempty"`
}

// TransitionResult is returned by every lifecycle operation.
type TransitionResult struct {
	Booking BookingRequestDTO `json:"booking"`

	DepositAmountCents *int64     `json:"deposit_amount_cents,omitempty"`
	DepositForfeited   *bool      `json:"deposit_forfeited,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	ScheduledDate      *time.Time `json:"scheduled_date,omitempty"`
	DurationHours      *float64   `json:"duration_hours,omitempty"`
	RescheduleCount    *int       `json:"reschedule_count,omitempty"`
	RefundAmountCents  *int64     `json:"refund_amount_cents,omitempty"`

	SideEffects SideEffects `json:"side_effects"`
}

// Webhook outcomes.
const (
	WebhookApplied   = "applied"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// WebhookResult reports how a payment completion was handled.
type WebhookResult struct {
	Outcome   string     `json:"outcome"`
	BookingID *uuid.UUID `json:"booking_id,omitempty"`
	Status    string     `json:"status,omitempty"`
}

// StatsDTO holds booking counts by status.
type StatsDTO struct {
	ByStatus map[string]int64 `json:"by_status"`
	Total    int64            `json:"total"`
}

// SideEffectDTO is one entry of a booking's side-effect log.
type SideEffectDTO struct {
	Operation  string                 `json:"operation"`
	Kind       string                 `json:"kind"`
	Succeeded  bool                   `json:"succeeded"`
	Error      string                 `json:"error,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func toBookingDTO(bk *bookingDomain.BookingRequest, now time.Time) BookingRequestDTO {
	var artistID *uuid.UUID
	if bk.ArtistID() != uuid.Nil {
		id := bk.ArtistID()
		artistID = &id
	}
	return BookingRequestDTO{
		ID:                      bk.ID(),
		BookingNumber:           bk.BookingNumber(),
		StudioID:                bk.StudioID(),
		ArtistID:                artistID,
		Client:                  bk.Client(),
		Design:                  bk.Design(),
		Status:                  string(bk.Status()),
		State:                   bk.State(),
		Currency:                bk.Currency(),
		QuotedPriceCents:        bk.QuotedPriceCents(),
		DepositAmountCents:      bk.DepositAmountCents(),
		EstimatedHours:          bk.EstimatedHours(),
		QuoteNotes:              bk.QuoteNotes(),
		DepositRequestedAt:      bk.DepositRequestedAt(),
		DepositRequestExpiresAt: bk.DepositRequestExpiresAt(),
		DepositExpired:          bk.DepositExpired(now),
		PaymentURL:              bk.PaymentURL(),
		DepositPaidAt:           bk.DepositPaidAt(),
		PaymentReference:        bk.PaymentReference(),
		RefundedAt:              bk.RefundedAt(),
		RefundAmountCents:       bk.RefundAmountCents(),
		RefundType:              string(bk.RefundType()),
		ScheduledDate:           bk.ScheduledDate(),
		ScheduledDurationHours:  bk.ScheduledDurationHours(),
		RescheduleCount:         bk.RescheduleCount(),
		CancelledBy:             string(bk.CancelledBy()),
		CancellationReason:      bk.CancellationReason(),
		CancelledAt:             bk.CancelledAt(),
		RejectionReason:         bk.RejectionReason(),
		NoShowNotes:             bk.NoShowNotes(),
		ForfeitDeposit:          bk.ForfeitDeposit(),
		Version:                 bk.Version(),
		CreatedAt:               bk.CreatedAt(),
		UpdatedAt:               bk.UpdatedAt(),
	}
}

func toPublicDepositDTO(bk *bookingDomain.BookingRequest, now time.Time) PublicDepositDTO {
	view := PublicDepositDTO{
		ClientName:    bk.Client().Name,
		DesignSummary: bk.Design().Summary(),
		Currency:      bk.Currency(),
		Expired:       bk.DepositExpired(now),
		Paid:          bk.HasPaidDeposit(),
	}
	if bk.DepositAmountCents() != nil {
		view.DepositAmountCents = *bk.DepositAmountCents()
	}
	if bk.DepositRequestExpiresAt() != nil {
		view.ExpiresAt = *bk.DepositRequestExpiresAt()
	}
	if bk.Status() == bookingDomain.StatusDepositRequested && !view.Expired {
		view.PaymentURL = bk.PaymentURL()
	}
	return view
}

func toSideEffectDTOs(effects []bookingDomain.SideEffect) []SideEffectDTO {
	out := make([]SideEffectDTO, len(effects))
	for i, e := range effects {
		out[i] = SideEffectDTO{
			Operation:  string(e.Operation),
			Kind:       string(e.Kind),
			Succeeded:  e.Succeeded,
			Error:      e.Error,
			Details:    e.Details,
			OccurredAt: e.OccurredAt,
		}
	}
	return out
}
