package booking

import (
	"time"

	"github.com/inkbook/service-booking/internal/platform/domain"
)

// DefaultDepositExpiryDays is the studio default lifetime of a deposit session.
const DefaultDepositExpiryDays = 7

// MaxDepositExpiryDays bounds how long a deposit link may stay payable.
const MaxDepositExpiryDays = 30

// DepositSession is a time-bounded payment-collection handle created with the
// payment gateway for one deposit amount.
type DepositSession struct {
	SessionID   string    `json:"session_id"`
	Token       string    `json:"-"`
	PaymentURL  string    `json:"payment_url"`
	AmountCents int64     `json:"amount_cents"`
	RequestedAt time.Time `json:"requested_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (s DepositSession) validate() error {
	if s.SessionID == "" {
		return domain.NewValidationError("deposit session ID is required")
	}
	if s.Token == "" {
		return domain.NewValidationError("deposit session token is required")
	}
	if s.ExpiresAt.IsZero() {
		return domain.NewValidationError("deposit session expiry is required")
	}
	return nil
}

// DepositExpiry returns the expiry of a session created at now that stays
// payable for days.
func DepositExpiry(now time.Time, days int) time.Time {
	return now.UTC().AddDate(0, 0, days)
}
