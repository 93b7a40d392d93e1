package booking

import (
	"fmt"
	"time"

	"github.com/inkbook/service-booking/internal/platform/domain"
)

// RefundType distinguishes a full deposit refund from a partial one.
type RefundType string

const (
	RefundFull    RefundType = "full"
	RefundPartial RefundType = "partial"
)

// IsValid returns true if the refund type is recognized.
func (t RefundType) IsValid() bool {
	return t == RefundFull || t == RefundPartial
}

// refundAmount resolves the amount to refund against the deposit.
//
// Rules:
//   - full refunds exactly the deposit; a supplied amount must match it
//   - partial refunds the supplied amount, which must be in (0, deposit]
func refundAmount(depositCents *int64, refundType RefundType, requestedCents *int64) (int64, error) {
	if !refundType.IsValid() {
		return 0, domain.NewValidationError(fmt.Sprintf("invalid refund type: %q", refundType))
	}
	if depositCents == nil || *depositCents <= 0 {
		return 0, domain.NewGuardError("DEPOSIT_MISSING", "booking has no deposit to refund")
	}

	switch refundType {
	case RefundFull:
		if requestedCents != nil && *requestedCents != *depositCents {
			return 0, domain.NewValidationError(fmt.Sprintf(
				"full refund amount must equal the deposit %d", *depositCents))
		}
		return *depositCents, nil
	default:
		if requestedCents == nil {
			return 0, domain.NewValidationError("partial refund requires an amount")
		}
		if *requestedCents <= 0 {
			return 0, domain.NewValidationError("refund amount must be positive")
		}
		if *requestedCents > *depositCents {
			return 0, domain.NewValidationError(fmt.Sprintf(
				"refund amount %d exceeds deposit %d", *requestedCents, *depositCents))
		}
		return *requestedCents, nil
	}
}

// GuardRefund checks every precondition of issue_refund without mutating and
// returns the amount to send to the payment gateway.
func (b *BookingRequest) GuardRefund(refundType RefundType, requestedCents *int64) (int64, error) {
	if err := b.Guard(OpIssueRefund); err != nil {
		return 0, err
	}
	if b.paymentReference == "" || b.depositPaidAt == nil {
		return 0, domain.NewGuardError("PAYMENT_REFERENCE_MISSING", "booking has no paid deposit to refund")
	}
	if b.refundedAt != nil {
		return 0, domain.NewGuardError("REFUND_ALREADY_ISSUED",
			fmt.Sprintf("a refund was already issued at %s", b.refundedAt.Format(time.RFC3339)))
	}
	return refundAmount(b.depositAmountCents, refundType, requestedCents)
}

// RecordRefund stores the outcome of a successful gateway refund. Status does
// not change; a booking can be refunded at most once.
func (b *BookingRequest) RecordRefund(refundType RefundType, amountCents int64, refundReference, reason string, now time.Time) error {
	if _, err := b.GuardRefund(refundType, int64Ptr(amountCents)); err != nil {
		return err
	}
	at := now.UTC()
	b.refundedAt = &at
	b.refundAmountCents = int64Ptr(amountCents)
	b.refundType = refundType
	b.refundReference = refundReference
	b.refundReason = reason
	b.apply(OpIssueRefund, now)
	return nil
}
