package booking

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/inkbook/service-booking/internal/platform/domain"
)

const bookingNumberChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// BookingRequest is the aggregate root for the booking lifecycle.
type BookingRequest struct {
	id            uuid.UUID
	bookingNumber string
	studioID      uuid.UUID
	artistID      uuid.UUID
	client        ClientInfo
	design        DesignRequest
	status        BookingStatus
	currency      string

	quotedPriceCents   *int64
	depositAmountCents *int64
	estimatedHours     *float64
	quoteNotes         string

	depositRequestedAt      *time.Time
	depositRequestExpiresAt *time.Time
	depositSessionID        string
	paymentToken            string
	paymentURL              string
	depositPaidAt           *time.Time
	paymentReference        string

	refundedAt        *time.Time
	refundAmountCents *int64
	refundType        RefundType
	refundReference   string
	refundReason      string

	scheduledDate          *time.Time
	scheduledDurationHours *float64
	rescheduleCount        int

	cancelledBy        CancelledBy
	cancellationReason string
	cancelledAt        *time.Time
	rejectionReason    string
	noShowNotes        string
	forfeitDeposit     *bool

	version         int64
	persistedStatus BookingStatus
	createdAt       time.Time
	updatedAt       time.Time
}

// generateBookingNumber creates a booking number in the format "BR-XXXXXX".
func generateBookingNumber() (string, error) {
	result := make([]byte, 6)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bookingNumberChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking number: %w", err)
		}
		result[i] = bookingNumberChars[n.Int64()]
	}
	return "BR-" + string(result), nil
}

// NewPaymentToken returns an unguessable token for the public payment page.
func NewPaymentToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate payment token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewBookingRequest creates a submitted booking request with status=pending.
func NewBookingRequest(
	studioID uuid.UUID,
	artistID uuid.UUID,
	client ClientInfo,
	design DesignRequest,
	currency string,
	now time.Time,
) (*BookingRequest, error) {
	if studioID == uuid.Nil {
		return nil, domain.NewValidationError("studio ID is required")
	}
	if strings.TrimSpace(client.Name) == "" {
		return nil, domain.NewValidationError("client name is required")
	}
	if _, err := mail.ParseAddress(client.Email); err != nil {
		return nil, domain.NewValidationError("client email is invalid")
	}
	if strings.TrimSpace(design.Description) == "" {
		return nil, domain.NewValidationError("design description is required")
	}
	if len(currency) != 3 {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid currency: %q", currency))
	}

	bookingNumber, err := generateBookingNumber()
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	return &BookingRequest{
		id:            uuid.New(),
		bookingNumber: bookingNumber,
		studioID:      studioID,
		artistID:      artistID,
		client:        client,
		design:        design,
		status:        StatusPending,
		currency:      strings.ToUpper(currency),
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// --- Getters ---

// ID returns the booking request's unique identifier.
func (b *BookingRequest) ID() uuid.UUID { return b.id }

// BookingNumber returns the human-readable booking number.
func (b *BookingRequest) BookingNumber() string { return b.bookingNumber }

// StudioID returns the owning studio.
func (b *BookingRequest) StudioID() uuid.UUID { return b.studioID }

// ArtistID returns the requested artist, or uuid.Nil for "any artist".
func (b *BookingRequest) ArtistID() uuid.UUID { return b.artistID }

// Client returns the client contact details.
func (b *BookingRequest) Client() ClientInfo { return b.client }

// Design returns the requested design.
func (b *BookingRequest) Design() DesignRequest { return b.design }

// Status returns the current lifecycle status.
func (b *BookingRequest) Status() BookingStatus { return b.status }

// Currency returns the ISO currency code for all amounts.
func (b *BookingRequest) Currency() string { return b.currency }

// QuotedPriceCents returns the staff quote, or nil before quoting.
func (b *BookingRequest) QuotedPriceCents() *int64 { return b.quotedPriceCents }

// DepositAmountCents returns the deposit amount, or nil if none is set.
func (b *BookingRequest) DepositAmountCents() *int64 { return b.depositAmountCents }

// EstimatedHours returns the staff estimate of session length.
func (b *BookingRequest) EstimatedHours() *float64 { return b.estimatedHours }

// QuoteNotes returns staff notes attached to the quote. Never shown publicly.
func (b *BookingRequest) QuoteNotes() string { return b.quoteNotes }

// DepositRequestedAt returns when the current deposit session was created.
func (b *BookingRequest) DepositRequestedAt() *time.Time { return b.depositRequestedAt }

// DepositRequestExpiresAt returns when the current deposit session expires.
func (b *BookingRequest) DepositRequestExpiresAt() *time.Time { return b.depositRequestExpiresAt }

// DepositSessionID returns the payment gateway's id for the current session.
func (b *BookingRequest) DepositSessionID() string { return b.depositSessionID }

// PaymentToken returns the opaque token of the public payment page.
func (b *BookingRequest) PaymentToken() string { return b.paymentToken }

// PaymentURL returns the gateway checkout URL of the current session.
func (b *BookingRequest) PaymentURL() string { return b.paymentURL }

// DepositPaidAt returns when the deposit was collected.
func (b *BookingRequest) DepositPaidAt() *time.Time { return b.depositPaidAt }

// PaymentReference returns the gateway's charge handle.
func (b *BookingRequest) PaymentReference() string { return b.paymentReference }

// RefundedAt returns when the single refund was issued.
func (b *BookingRequest) RefundedAt() *time.Time { return b.refundedAt }

// RefundAmountCents returns the refunded amount.
func (b *BookingRequest) RefundAmountCents() *int64 { return b.refundAmountCents }

// RefundType returns full or partial once refunded.
func (b *BookingRequest) RefundType() RefundType { return b.refundType }

// RefundReference returns the gateway's refund handle.
func (b *BookingRequest) RefundReference() string { return b.refundReference }

// RefundReason returns the staff reason for the refund.
func (b *BookingRequest) RefundReason() string { return b.refundReason }

// ScheduledDate returns the appointment start.
func (b *BookingRequest) ScheduledDate() *time.Time { return b.scheduledDate }

// ScheduledDurationHours returns the appointment length.
func (b *BookingRequest) ScheduledDurationHours() *float64 { return b.scheduledDurationHours }

// RescheduleCount returns how many times the appointment was moved.
func (b *BookingRequest) RescheduleCount() int { return b.rescheduleCount }

// CancelledBy returns the cancelling party.
func (b *BookingRequest) CancelledBy() CancelledBy { return b.cancelledBy }

// CancellationReason returns the cancellation reason.
func (b *BookingRequest) CancellationReason() string { return b.cancellationReason }

// CancelledAt returns when the booking was cancelled.
func (b *BookingRequest) CancelledAt() *time.Time { return b.cancelledAt }

// RejectionReason returns the reason given when the request was rejected.
func (b *BookingRequest) RejectionReason() string { return b.rejectionReason }

// NoShowNotes returns staff notes recorded with a no-show.
func (b *BookingRequest) NoShowNotes() string { return b.noShowNotes }

// ForfeitDeposit returns the forfeiture decision recorded at cancellation or no-show.
func (b *BookingRequest) ForfeitDeposit() *bool { return b.forfeitDeposit }

// Version returns the entity version for optimistic locking.
func (b *BookingRequest) Version() int64 { return b.version }

// PersistedStatus returns the status the stored record had when this
// aggregate was loaded or last saved. Updates compare against it.
func (b *BookingRequest) PersistedStatus() BookingStatus { return b.persistedStatus }

// CreatedAt returns the creation timestamp.
func (b *BookingRequest) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (b *BookingRequest) UpdatedAt() time.Time { return b.updatedAt }

// HasPaidDeposit reports whether a deposit charge exists.
func (b *BookingRequest) HasPaidDeposit() bool {
	return b.depositPaidAt != nil && b.paymentReference != ""
}

// DepositExpired reports whether the outstanding deposit session has expired at now.
func (b *BookingRequest) DepositExpired(now time.Time) bool {
	return b.status == StatusDepositRequested &&
		b.depositRequestExpiresAt != nil &&
		!now.Before(*b.depositRequestExpiresAt)
}

// --- Guards ---

// Guard returns an InvalidTransition error if op cannot run from the current status.
func (b *BookingRequest) Guard(op Operation) error {
	if !b.status.Permits(op) {
		return domain.NewInvalidTransitionError(string(b.status), string(op))
	}
	return nil
}

// GuardRequestDeposit checks every precondition of request_deposit without mutating.
func (b *BookingRequest) GuardRequestDeposit(amountCents int64) error {
	if err := b.Guard(OpRequestDeposit); err != nil {
		return err
	}
	if b.quotedPriceCents == nil {
		return domain.NewGuardError("QUOTE_REQUIRED", "a quote must be sent before requesting a deposit")
	}
	if amountCents <= 0 {
		return domain.NewValidationError("deposit amount must be positive")
	}
	if amountCents > *b.quotedPriceCents {
		return domain.NewValidationError(fmt.Sprintf(
			"deposit amount %d exceeds quoted price %d", amountCents, *b.quotedPriceCents))
	}
	return nil
}

// --- Behavior ---

// StartReview transitions the request from pending to reviewing.
func (b *BookingRequest) StartReview(now time.Time) error {
	if err := b.Guard(OpStartReview); err != nil {
		return err
	}
	b.apply(OpStartReview, now)
	return nil
}

// SendQuote records the staff quote. From reviewing it moves the request to
// quoted; while quoted it re-quotes in place. A nil deposit keeps the current
// deposit, which must still fit under the new price.
func (b *BookingRequest) SendQuote(priceCents int64, depositCents *int64, estimatedHours *float64, notes string, now time.Time) error {
	if err := b.Guard(OpSendQuote); err != nil {
		return err
	}
	if priceCents <= 0 {
		return domain.NewValidationError("quoted price must be positive")
	}
	if estimatedHours != nil && *estimatedHours <= 0 {
		return domain.NewValidationError("estimated hours must be positive")
	}

	deposit := b.depositAmountCents
	if depositCents != nil {
		if *depositCents <= 0 {
			return domain.NewValidationError("deposit amount must be positive")
		}
		deposit = depositCents
	}
	if deposit != nil && *deposit > priceCents {
		return domain.NewValidationError(fmt.Sprintf(
			"deposit amount %d exceeds quoted price %d", *deposit, priceCents))
	}

	b.quotedPriceCents = int64Ptr(priceCents)
	b.depositAmountCents = copyInt64(deposit)
	if estimatedHours != nil {
		b.estimatedHours = float64Ptr(*estimatedHours)
	}
	b.quoteNotes = notes
	b.apply(OpSendQuote, now)
	return nil
}

// Reject transitions the request from reviewing to rejected.
func (b *BookingRequest) Reject(reason string, now time.Time) error {
	if err := b.Guard(OpReject); err != nil {
		return err
	}
	b.rejectionReason = reason
	b.apply(OpReject, now)
	return nil
}

// RequestDeposit records a newly created deposit session. Any previous session
// is superseded; its id is returned so the caller can expire it at the gateway.
func (b *BookingRequest) RequestDeposit(amountCents int64, session DepositSession, now time.Time) (string, error) {
	if err := b.GuardRequestDeposit(amountCents); err != nil {
		return "", err
	}
	if err := session.validate(); err != nil {
		return "", err
	}

	superseded := ""
	if b.depositSessionID != "" && b.depositSessionID != session.SessionID {
		superseded = b.depositSessionID
	}

	requestedAt := now.UTC()
	expiresAt := session.ExpiresAt.UTC()
	b.depositAmountCents = int64Ptr(amountCents)
	b.depositRequestedAt = &requestedAt
	b.depositRequestExpiresAt = &expiresAt
	b.depositSessionID = session.SessionID
	b.paymentToken = session.Token
	b.paymentURL = session.PaymentURL
	b.apply(OpRequestDeposit, now)
	return superseded, nil
}

// MarkDepositPaid applies a payment-completion callback for sessionID. It
// returns applied=false without error when the same completion was already
// recorded, so duplicate deliveries are harmless. A zero amountCents means the
// gateway did not report the collected amount.
func (b *BookingRequest) MarkDepositPaid(sessionID, paymentReference string, amountCents int64, completedAt, now time.Time) (bool, error) {
	if sessionID == "" || paymentReference == "" {
		return false, domain.NewValidationError("session ID and payment reference are required")
	}
	if b.depositPaidAt != nil && b.depositSessionID == sessionID && b.paymentReference == paymentReference {
		return false, nil
	}
	if err := b.Guard(OpMarkDepositPaid); err != nil {
		return false, err
	}
	if sessionID != b.depositSessionID {
		return false, domain.NewGuardError("DEPOSIT_SESSION_SUPERSEDED",
			fmt.Sprintf("deposit session %s is not the current session of booking %s", sessionID, b.bookingNumber))
	}
	if b.depositRequestExpiresAt != nil && completedAt.After(*b.depositRequestExpiresAt) {
		return false, domain.NewGuardError("DEPOSIT_SESSION_EXPIRED",
			fmt.Sprintf("deposit session %s expired at %s", sessionID, b.depositRequestExpiresAt.Format(time.RFC3339)))
	}
	if amountCents != 0 && b.depositAmountCents != nil && amountCents != *b.depositAmountCents {
		return false, domain.NewGuardError("DEPOSIT_AMOUNT_MISMATCH",
			fmt.Sprintf("paid amount %d does not match deposit %d", amountCents, *b.depositAmountCents))
	}

	paidAt := completedAt.UTC()
	b.depositPaidAt = &paidAt
	b.paymentReference = paymentReference
	b.apply(OpMarkDepositPaid, now)
	return true, nil
}

// Confirm schedules the appointment and moves deposit_paid to confirmed.
func (b *BookingRequest) Confirm(scheduledDate time.Time, durationHours float64, now time.Time) error {
	if err := b.Guard(OpConfirm); err != nil {
		return err
	}
	if scheduledDate.IsZero() {
		return domain.NewValidationError("scheduled date is required")
	}
	if durationHours <= 0 {
		return domain.NewValidationError("duration must be positive")
	}
	date := scheduledDate.UTC()
	b.scheduledDate = &date
	b.scheduledDurationHours = float64Ptr(durationHours)
	b.apply(OpConfirm, now)
	return nil
}

// Reschedule moves a confirmed appointment. A nil duration keeps the current one.
func (b *BookingRequest) Reschedule(newDate time.Time, newDurationHours *float64, now time.Time) error {
	if err := b.Guard(OpReschedule); err != nil {
		return err
	}
	if newDate.IsZero() {
		return domain.NewValidationError("new date is required")
	}
	if newDurationHours != nil && *newDurationHours <= 0 {
		return domain.NewValidationError("duration must be positive")
	}
	date := newDate.UTC()
	b.scheduledDate = &date
	if newDurationHours != nil {
		b.scheduledDurationHours = float64Ptr(*newDurationHours)
	}
	b.rescheduleCount++
	b.apply(OpReschedule, now)
	return nil
}

// MarkNoShow records that the client did not attend a confirmed appointment.
func (b *BookingRequest) MarkNoShow(notes string, forfeitDeposit bool, now time.Time) error {
	if err := b.Guard(OpMarkNoShow); err != nil {
		return err
	}
	b.noShowNotes = notes
	b.forfeitDeposit = boolPtr(forfeitDeposit)
	b.apply(OpMarkNoShow, now)
	return nil
}

// Complete moves a confirmed appointment to completed.
func (b *BookingRequest) Complete(now time.Time) error {
	if err := b.Guard(OpComplete); err != nil {
		return err
	}
	b.apply(OpComplete, now)
	return nil
}

// Cancel cancels the booking. allowPaid extends the guard to bookings whose
// deposit is already paid. Forfeiture is only meaningful for a paid deposit,
// so it is recorded as false otherwise. The return value reports whether a
// paid, unforfeited deposit is now owed back to the client.
func (b *BookingRequest) Cancel(by CancelledBy, reason string, forfeitDeposit, allowPaid bool, now time.Time) (bool, error) {
	permitted := b.status.Permits(OpCancel) || (allowPaid && containsStatus(paidCancelSources, b.status))
	if !permitted {
		return false, domain.NewInvalidTransitionError(string(b.status), string(OpCancel))
	}
	if !by.IsValid() {
		return false, domain.NewValidationError(fmt.Sprintf("invalid cancelled_by: %q", by))
	}

	paid := b.HasPaidDeposit()
	b.markCancelled(by, reason, paid && forfeitDeposit, now)
	b.apply(OpCancel, now)
	return paid && !forfeitDeposit, nil
}

// CancelForRefund is the first step of cancel_with_refund: it records the
// cancellation of a paid booking without forfeiture and returns the refund
// amount, validated before anything is mutated.
func (b *BookingRequest) CancelForRefund(by CancelledBy, reason string, refundType RefundType, requestedCents *int64, now time.Time) (int64, error) {
	if err := b.Guard(OpCancelWithRefund); err != nil {
		return 0, err
	}
	if !by.IsValid() {
		return 0, domain.NewValidationError(fmt.Sprintf("invalid cancelled_by: %q", by))
	}
	if b.paymentReference == "" {
		return 0, domain.NewGuardError("PAYMENT_REFERENCE_MISSING", "booking has no payment reference to refund")
	}
	amount, err := refundAmount(b.depositAmountCents, refundType, requestedCents)
	if err != nil {
		return 0, err
	}

	b.markCancelled(by, reason, false, now)
	b.apply(OpCancelWithRefund, now)
	return amount, nil
}

func (b *BookingRequest) markCancelled(by CancelledBy, reason string, forfeit bool, now time.Time) {
	at := now.UTC()
	b.cancelledBy = by
	b.cancellationReason = reason
	b.cancelledAt = &at
	b.forfeitDeposit = boolPtr(forfeit)
}

// IncrementVersion bumps the version for optimistic locking.
func (b *BookingRequest) IncrementVersion() {
	b.version++
}

// MarkPersisted records that the current state is what storage now holds.
func (b *BookingRequest) MarkPersisted() {
	b.persistedStatus = b.status
}

func (b *BookingRequest) apply(op Operation, now time.Time) {
	b.status = b.status.TargetOf(op)
	b.updatedAt = now.UTC()
}

// CheckInvariants verifies the consistency rules between payment and booking
// state. Every transition must leave them holding.
func (b *BookingRequest) CheckInvariants() error {
	if b.depositAmountCents != nil {
		if b.quotedPriceCents == nil {
			return fmt.Errorf("booking %s: deposit set without quote", b.id)
		}
		if *b.depositAmountCents > *b.quotedPriceCents {
			return fmt.Errorf("booking %s: deposit %d exceeds quote %d", b.id, *b.depositAmountCents, *b.quotedPriceCents)
		}
	}
	if b.depositPaidAt != nil && b.paymentReference == "" {
		return fmt.Errorf("booking %s: deposit paid without payment reference", b.id)
	}
	if b.refundedAt != nil && b.depositPaidAt == nil {
		return fmt.Errorf("booking %s: refund recorded without paid deposit", b.id)
	}
	if (b.status == StatusCancelled || b.status == StatusNoShow) && b.forfeitDeposit == nil {
		return fmt.Errorf("booking %s: status %s without forfeiture decision", b.id, b.status)
	}
	if b.rescheduleCount < 0 {
		return fmt.Errorf("booking %s: negative reschedule count", b.id)
	}
	return nil
}

func int64Ptr(v int64) *int64       { return &v }
func float64Ptr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool          { return &v }

func copyInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	return int64Ptr(*p)
}
