package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows a booking request listing.
type ListFilter struct {
	StudioID *uuid.UUID
	ArtistID *uuid.UUID
	Status   *BookingStatus
}

// BookingRepository defines the persistence contract for booking request aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking request by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*BookingRequest, error)

	// FindByDepositSession retrieves the booking request whose current deposit
	// session has the given gateway id.
	FindByDepositSession(ctx context.Context, sessionID string) (*BookingRequest, error)

	// FindByPaymentToken retrieves the booking request behind a public payment link.
	FindByPaymentToken(ctx context.Context, token string) (*BookingRequest, error)

	// List retrieves booking requests matching filter with pagination, newest first.
	List(ctx context.Context, filter ListFilter, page, limit int) ([]*BookingRequest, int64, error)

	// FindExpiredDepositRequests retrieves deposit_requested bookings whose session expired before now.
	FindExpiredDepositRequests(ctx context.Context, now time.Time, limit int) ([]*BookingRequest, error)

	// CountByStatus returns booking counts grouped by status (admin).
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// Save persists a new booking request.
	Save(ctx context.Context, bk *BookingRequest) error

	// Update persists changes to an existing booking request. The write is a
	// compare-and-set on the previously persisted version and status and fails
	// with a conflict error if either changed since the aggregate was read.
	Update(ctx context.Context, bk *BookingRequest) error

	// Erase physically deletes a booking request and its side-effect log.
	Erase(ctx context.Context, id uuid.UUID) error
}

// SideEffectKind names an external call made as part of a transition.
type SideEffectKind string

const (
	SideEffectNotification SideEffectKind = "notification"
	SideEffectPayment      SideEffectKind = "payment"
	SideEffectRefund       SideEffectKind = "refund"
	SideEffectEvent        SideEffectKind = "event"
)

// SideEffect is the recorded outcome of one external call.
type SideEffect struct {
	ID         uuid.UUID
	BookingID  uuid.UUID
	Operation  Operation
	Kind       SideEffectKind
	Succeeded  bool
	Error      string
	Details    map[string]interface{}
	OccurredAt time.Time
}

// SideEffectRepository stores transition side-effect outcomes.
type SideEffectRepository interface {
	Record(ctx context.Context, effect SideEffect) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]SideEffect, error)
}
