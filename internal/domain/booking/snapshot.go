package booking

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is the flat persisted form of a BookingRequest.
type Snapshot struct {
	ID            uuid.UUID
	BookingNumber string
	StudioID      uuid.UUID
	ArtistID      uuid.UUID
	Client        ClientInfo
	Design        DesignRequest
	Status        BookingStatus
	Currency      string

	QuotedPriceCents   *int64
	DepositAmountCents *int64
	EstimatedHours     *float64
	QuoteNotes         string

	DepositRequestedAt      *time.Time
	DepositRequestExpiresAt *time.Time
	DepositSessionID        string
	PaymentToken            string
	PaymentURL              string
	DepositPaidAt           *time.Time
	PaymentReference        string

	RefundedAt        *time.Time
	RefundAmountCents *int64
	RefundType        RefundType
	RefundReference   string
	RefundReason      string

	ScheduledDate          *time.Time
	ScheduledDurationHours *float64
	RescheduleCount        int

	CancelledBy        CancelledBy
	CancellationReason string
	CancelledAt        *time.Time
	RejectionReason    string
	NoShowNotes        string
	ForfeitDeposit     *bool

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReconstructBookingRequest rebuilds a BookingRequest from persistence data (no validation).
func ReconstructBookingRequest(s Snapshot) *BookingRequest {
	return &BookingRequest{
		id:                      s.ID,
		bookingNumber:           s.BookingNumber,
		studioID:                s.StudioID,
		artistID:                s.ArtistID,
		client:                  s.Client,
		design:                  s.Design,
		status:                  s.Status,
		currency:                s.Currency,
		quotedPriceCents:        s.QuotedPriceCents,
		depositAmountCents:      s.DepositAmountCents,
		estimatedHours:          s.EstimatedHours,
		quoteNotes:              s.QuoteNotes,
		depositRequestedAt:      s.DepositRequestedAt,
		depositRequestExpiresAt: s.DepositRequestExpiresAt,
		depositSessionID:        s.DepositSessionID,
		paymentToken:            s.PaymentToken,
		paymentURL:              s.PaymentURL,
		depositPaidAt:           s.DepositPaidAt,
		paymentReference:        s.PaymentReference,
		refundedAt:              s.RefundedAt,
		refundAmountCents:       s.RefundAmountCents,
		refundType:              s.RefundType,
		refundReference:         s.RefundReference,
		refundReason:            s.RefundReason,
		scheduledDate:           s.ScheduledDate,
		scheduledDurationHours:  s.ScheduledDurationHours,
		rescheduleCount:         s.RescheduleCount,
		cancelledBy:             s.CancelledBy,
		cancellationReason:      s.CancellationReason,
		cancelledAt:             s.CancelledAt,
		rejectionReason:         s.RejectionReason,
		noShowNotes:             s.NoShowNotes,
		forfeitDeposit:          s.ForfeitDeposit,
		version:                 s.Version,
		persistedStatus:         s.Status,
		createdAt:               s.CreatedAt,
		updatedAt:               s.UpdatedAt,
	}
}

// Snapshot returns the flat persisted form of the aggregate.
func (b *BookingRequest) Snapshot() Snapshot {
	return Snapshot{
		ID:                      b.id,
		BookingNumber:           b.bookingNumber,
		StudioID:                b.studioID,
		ArtistID:                b.artistID,
		Client:                  b.client,
		Design:                  b.design,
		Status:                  b.status,
		Currency:                b.currency,
		QuotedPriceCents:        b.quotedPriceCents,
		DepositAmountCents:      b.depositAmountCents,
		EstimatedHours:          b.estimatedHours,
		QuoteNotes:              b.quoteNotes,
		DepositRequestedAt:      b.depositRequestedAt,
		DepositRequestExpiresAt: b.depositRequestExpiresAt,
		DepositSessionID:        b.depositSessionID,
		PaymentToken:            b.paymentToken,
		PaymentURL:              b.paymentURL,
		DepositPaidAt:           b.depositPaidAt,
		PaymentReference:        b.paymentReference,
		RefundedAt:              b.refundedAt,
		RefundAmountCents:       b.refundAmountCents,
		RefundType:              b.refundType,
		RefundReference:         b.refundReference,
		RefundReason:            b.refundReason,
		ScheduledDate:           b.scheduledDate,
		ScheduledDurationHours:  b.scheduledDurationHours,
		RescheduleCount:         b.rescheduleCount,
		CancelledBy:             b.cancelledBy,
		CancellationReason:      b.cancellationReason,
		CancelledAt:             b.cancelledAt,
		RejectionReason:         b.rejectionReason,
		NoShowNotes:             b.noShowNotes,
		ForfeitDeposit:          b.forfeitDeposit,
		Version:                 b.version,
		CreatedAt:               b.createdAt,
		UpdatedAt:               b.updatedAt,
	}
}
