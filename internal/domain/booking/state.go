package booking

import "time"

// State is a tagged view of a booking request that carries only the fields
// meaningful in its status. Switch on the concrete type to read them.
type State interface {
	Status() BookingStatus
}

// Quote is the staff quote.
type Quote struct {
	PriceCents     int64    `json:"price_cents"`
	DepositCents   *int64   `json:"deposit_cents,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
}

// PaidDeposit is a collected deposit.
type PaidDeposit struct {
	AmountCents      int64     `json:"amount_cents"`
	PaymentReference string    `json:"payment_reference"`
	PaidAt           time.Time `json:"paid_at"`
}

// Schedule is the appointment slot.
type Schedule struct {
	Date            time.Time `json:"date"`
	DurationHours   float64   `json:"duration_hours"`
	RescheduleCount int       `json:"reschedule_count"`
}

// Refund is the single refund issued for a booking.
type Refund struct {
	Type        RefundType `json:"type"`
	AmountCents int64      `json:"amount_cents"`
	Reference   string     `json:"reference,omitempty"`
	RefundedAt  time.Time  `json:"refunded_at"`
}

// Cancellation records who cancelled and whether the deposit is forfeited.
type Cancellation struct {
	By             CancelledBy `json:"by"`
	Reason         string      `json:"reason,omitempty"`
	At             time.Time   `json:"at"`
	ForfeitDeposit bool        `json:"forfeit_deposit"`
}

type PendingState struct{}

type ReviewingState struct{}

type QuotedState struct {
	Quote Quote `json:"quote"`
}

type DepositRequestedState struct {
	Quote   Quote          `json:"quote"`
	Session DepositSession `json:"session"`
}

type DepositPaidState struct {
	Quote   Quote       `json:"quote"`
	Deposit PaidDeposit `json:"deposit"`
}

type ConfirmedState struct {
	Quote    Quote       `json:"quote"`
	Deposit  PaidDeposit `json:"deposit"`
	Schedule Schedule    `json:"schedule"`
}

type CompletedState struct {
	Schedule Schedule     `json:"schedule"`
	Deposit  *PaidDeposit `json:"deposit,omitempty"`
}

type NoShowState struct {
	Schedule       Schedule     `json:"schedule"`
	Deposit        *PaidDeposit `json:"deposit,omitempty"`
	ForfeitDeposit bool         `json:"forfeit_deposit"`
	Notes          string       `json:"notes,omitempty"`
	Refund         *Refund      `json:"refund,omitempty"`
}

type RejectedState struct {
	Reason string `json:"reason,omitempty"`
}

type CancelledState struct {
	Cancellation Cancellation `json:"cancellation"`
	Deposit      *PaidDeposit `json:"deposit,omitempty"`
	Refund       *Refund      `json:"refund,omitempty"`
}

func (PendingState) Status() BookingStatus          { return StatusPending }
func (ReviewingState) Status() BookingStatus        { return StatusReviewing }
func (QuotedState) Status() BookingStatus           { return StatusQuoted }
func (DepositRequestedState) Status() BookingStatus { return StatusDepositRequested }
func (DepositPaidState) Status() BookingStatus      { return StatusDepositPaid }
func (ConfirmedState) Status() BookingStatus        { return StatusConfirmed }
func (CompletedState) Status() BookingStatus        { return StatusCompleted }
func (NoShowState) Status() BookingStatus           { return StatusNoShow }
func (RejectedState) Status() BookingStatus         { return StatusRejected }
func (CancelledState) Status() BookingStatus        { return StatusCancelled }

// State returns the tagged view for the current status.
func (b *BookingRequest) State() State {
	switch b.status {
	case StatusPending:
		return PendingState{}
	case StatusReviewing:
		return ReviewingState{}
	case StatusQuoted:
		return QuotedState{Quote: b.quote()}
	case StatusDepositRequested:
		return DepositRequestedState{Quote: b.quote(), Session: b.session()}
	case StatusDepositPaid:
		return DepositPaidState{Quote: b.quote(), Deposit: derefDeposit(b.paidDeposit())}
	case StatusConfirmed:
		return ConfirmedState{Quote: b.quote(), Deposit: derefDeposit(b.paidDeposit()), Schedule: b.schedule()}
	case StatusCompleted:
		return CompletedState{Schedule: b.schedule(), Deposit: b.paidDeposit()}
	case StatusNoShow:
		return NoShowState{
			Schedule:       b.schedule(),
			Deposit:        b.paidDeposit(),
			ForfeitDeposit: b.forfeitDeposit != nil && *b.forfeitDeposit,
			Notes:          b.noShowNotes,
			Refund:         b.refund(),
		}
	case StatusRejected:
		return RejectedState{Reason: b.rejectionReason}
	default:
		c := Cancellation{
			By:             b.cancelledBy,
			Reason:         b.cancellationReason,
			ForfeitDeposit: b.forfeitDeposit != nil && *b.forfeitDeposit,
		}
		if b.cancelledAt != nil {
			c.At = *b.cancelledAt
		}
		return CancelledState{Cancellation: c, Deposit: b.paidDeposit(), Refund: b.refund()}
	}
}

func (b *BookingRequest) quote() Quote {
	q := Quote{DepositCents: b.depositAmountCents, EstimatedHours: b.estimatedHours}
	if b.quotedPriceCents != nil {
		q.PriceCents = *b.quotedPriceCents
	}
	return q
}

func (b *BookingRequest) session() DepositSession {
	s := DepositSession{
		SessionID:  b.depositSessionID,
		Token:      b.paymentToken,
		PaymentURL: b.paymentURL,
	}
	if b.depositAmountCents != nil {
		s.AmountCents = *b.depositAmountCents
	}
	if b.depositRequestedAt != nil {
		s.RequestedAt = *b.depositRequestedAt
	}
	if b.depositRequestExpiresAt != nil {
		s.ExpiresAt = *b.depositRequestExpiresAt
	}
	return s
}

func (b *BookingRequest) paidDeposit() *PaidDeposit {
	if !b.HasPaidDeposit() {
		return nil
	}
	d := &PaidDeposit{PaymentReference: b.paymentReference, PaidAt: *b.depositPaidAt}
	if b.depositAmountCents != nil {
		d.AmountCents = *b.depositAmountCents
	}
	return d
}

func (b *BookingRequest) schedule() Schedule {
	s := Schedule{RescheduleCount: b.rescheduleCount}
	if b.scheduledDate != nil {
		s.Date = *b.scheduledDate
	}
	if b.scheduledDurationHours != nil {
		s.DurationHours = *b.scheduledDurationHours
	}
	return s
}

func (b *BookingRequest) refund() *Refund {
	if b.refundedAt == nil {
		return nil
	}
	r := &Refund{Type: b.refundType, Reference: b.refundReference, RefundedAt: *b.refundedAt}
	if b.refundAmountCents != nil {
		r.AmountCents = *b.refundAmountCents
	}
	return r
}

func derefDeposit(d *PaidDeposit) PaidDeposit {
	if d == nil {
		return PaidDeposit{}
	}
	return *d
}
