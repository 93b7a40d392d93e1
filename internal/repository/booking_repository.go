package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/domain"
)

// BookingRequestModel is the GORM model for the booking_requests table.
type BookingRequestModel struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey"`
	BookingNumber string         `gorm:"uniqueIndex;not null;size:20"`
	StudioID      uuid.UUID      `gorm:"type:uuid;index;not null"`
	ArtistID      *uuid.UUID     `gorm:"type:uuid;index"`
	Client        datatypes.JSON `gorm:"type:jsonb;not null"`
	Design        datatypes.JSON `gorm:"type:jsonb;not null"`
	Status        string         `gorm:"not null;size:30;index"`
	Currency      string         `gorm:"not null;size:3;default:'USD'"`

	QuotedPriceCents   *int64   `gorm:""`
	DepositAmountCents *int64   `gorm:""`
	EstimatedHours     *float64 `gorm:""`
	QuoteNotes         string   `gorm:"size:2000"`

	DepositRequestedAt      *time.Time `gorm:""`
	DepositRequestExpiresAt *time.Time `gorm:"index"`
	DepositSessionID        string     `gorm:"size:100;index"`
	PaymentToken            string     `gorm:"size:100;index"`
	PaymentURL              string     `gorm:"size:500"`
	DepositPaidAt           *time.Time `gorm:""`
	PaymentReference        string     `gorm:"size:100"`

	RefundedAt        *time.Time `gorm:""`
	RefundAmountCents *int64     `gorm:""`
	RefundType        string     `gorm:"size:10"`
	RefundReference   string     `gorm:"size:100"`
	RefundReason      string     `gorm:"size:1000"`

	ScheduledDate          *time.Time `gorm:""`
	ScheduledDurationHours *float64   `gorm:""`
	RescheduleCount        int        `gorm:"not null;default:0"`

	CancelledBy        string     `gorm:"size:10"`
	CancellationReason string     `gorm:"size:1000"`
	CancelledAt        *time.Time `gorm:""`
	RejectionReason    string     `gorm:"size:1000"`
	NoShowNotes        string     `gorm:"size:1000"`
	ForfeitDeposit     *bool      `gorm:""`

	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingRequestModel) TableName() string {
	return "booking_requests"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking request by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.BookingRequest, error) {
	return r.findOne(ctx, "BookingRequest", id.String(), "id = ?", id)
}

// FindByDepositSession retrieves a booking request by its current deposit session.
func (r *GormBookingRepository) FindByDepositSession(ctx context.Context, sessionID string) (*bookingDomain.BookingRequest, error) {
	return r.findOne(ctx, "DepositSession", sessionID, "deposit_session_id = ?", sessionID)
}

// FindByPaymentToken retrieves a booking request by its public payment token.
func (r *GormBookingRepository) FindByPaymentToken(ctx context.Context, token string) (*bookingDomain.BookingRequest, error) {
	if token == "" {
		return nil, domain.NewNotFoundError("PaymentLink", token)
	}
	return r.findOne(ctx, "PaymentLink", token, "payment_token = ?", token)
}

func (r *GormBookingRepository) findOne(ctx context.Context, entity, key string, query string, args ...interface{}) (*bookingDomain.BookingRequest, error) {
	var model BookingRequestModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError(entity, key)
		}
		return nil, fmt.Errorf("failed to find booking request: %w", err)
	}
	return toDomainBooking(&model)
}

// List retrieves booking requests matching filter with pagination.
func (r *GormBookingRepository) List(ctx context.Context, filter bookingDomain.ListFilter, page, limit int) ([]*bookingDomain.BookingRequest, int64, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if filter.StudioID != nil {
			db = db.Where("studio_id = ?", *filter.StudioID)
		}
		if filter.ArtistID != nil {
			db = db.Where("artist_id = ?", *filter.ArtistID)
		}
		if filter.Status != nil {
			db = db.Where("status = ?", string(*filter.Status))
		}
		return db
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&BookingRequestModel{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count booking requests: %w", err)
	}

	var models []BookingRequestModel
	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Scopes(scope).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list booking requests: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// FindExpiredDepositRequests retrieves deposit_requested bookings whose session expired before now.
func (r *GormBookingRepository) FindExpiredDepositRequests(ctx context.Context, now time.Time, limit int) ([]*bookingDomain.BookingRequest, error) {
	var models []BookingRequestModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND deposit_request_expires_at <= ?", string(bookingDomain.StatusDepositRequested), now.UTC()).
		Order("deposit_request_expires_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find expired deposit requests: %w", err)
	}
	return toDomainBookings(models)
}

// Save persists a new booking request.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.BookingRequest) error {
	model, err := toBookingModel(bk)
	if err != nil {
		return fmt.Errorf("failed to convert booking request to model: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save booking request: %w", err)
	}
	bk.MarkPersisted()
	return nil
}

// Update persists changes to an existing booking request with optimistic locking.
func (r *GormBookingRepository) Update(ctx context.Context, bk *bookingDomain.BookingRequest) error {
	model, err := toBookingModel(bk)
	if err != nil {
		return fmt.Errorf("failed to convert booking request to model: %w", err)
	}

	// Only update if version and status still match what was read
	// (current version - 1 since IncrementVersion was called).
	expectedVersion := bk.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&BookingRequestModel{}).
		Where("id = ? AND version = ? AND status = ?", model.ID, expectedVersion, string(bk.PersistedStatus())).
		Updates(map[string]interface{}{
			"status":                     model.Status,
			"quoted_price_cents":         model.QuotedPriceCents,
			"deposit_amount_cents":       model.DepositAmountCents,
			"estimated_hours":            model.EstimatedHours,
			"quote_notes":                model.QuoteNotes,
			"deposit_requested_at":       model.DepositRequestedAt,
			"deposit_request_expires_at": model.DepositRequestExpiresAt,
			"deposit_session_id":         model.DepositSessionID,
			"payment_token":              model.PaymentToken,
			"payment_url":                model.PaymentURL,
			"deposit_paid_at":            model.DepositPaidAt,
			"payment_reference":          model.PaymentReference,
			"refunded_at":                model.RefundedAt,
			"refund_amount_cents":        model.RefundAmountCents,
			"refund_type":                model.RefundType,
			"refund_reference":           model.RefundReference,
			"refund_reason":              model.RefundReason,
			"scheduled_date":             model.ScheduledDate,
			"scheduled_duration_hours":   model.ScheduledDurationHours,
			"reschedule_count":           model.RescheduleCount,
			"cancelled_by":               model.CancelledBy,
			"cancellation_reason":        model.CancellationReason,
			"cancelled_at":               model.CancelledAt,
			"rejection_reason":           model.RejectionReason,
			"no_show_notes":              model.NoShowNotes,
			"forfeit_deposit":            model.ForfeitDeposit,
			"version":                    model.Version,
			"updated_at":                 model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update booking request: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking request was modified by another transaction")
	}

	bk.MarkPersisted()
	return nil
}

// Erase physically deletes a booking request and its side-effect log.
func (r *GormBookingRepository) Erase(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("booking_id = ?", id).Delete(&SideEffectModel{}).Error; err != nil {
			return fmt.Errorf("failed to erase side effects: %w", err)
		}
		result := tx.Where("id = ?", id).Delete(&BookingRequestModel{})
		if result.Error != nil {
			return fmt.Errorf("failed to erase booking request: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return domain.NewNotFoundError("BookingRequest", id.String())
		}
		return nil
	})
}

// CountByStatus returns booking counts grouped by status (admin).
func (r *GormBookingRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&BookingRequestModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.BookingRequest) (*BookingRequestModel, error) {
	s := bk.Snapshot()

	clientJSON, err := json.Marshal(s.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client: %w", err)
	}

	designJSON, err := json.Marshal(s.Design)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal design: %w", err)
	}

	var artistID *uuid.UUID
	if s.ArtistID != uuid.Nil {
		id := s.ArtistID
		artistID = &id
	}

	return &BookingRequestModel{
		ID:                      s.ID,
		BookingNumber:           s.BookingNumber,
		StudioID:                s.StudioID,
		ArtistID:                artistID,
		Client:                  datatypes.JSON(clientJSON),
		Design:                  datatypes.JSON(designJSON),
		Status:                  string(s.Status),
		Currency:                s.Currency,
		QuotedPriceCents:        s.QuotedPriceCents,
		DepositAmountCents:      s.DepositAmountCents,
		EstimatedHours:          s.EstimatedHours,
		QuoteNotes:              s.QuoteNotes,
		DepositRequestedAt:      s.DepositRequestedAt,
		DepositRequestExpiresAt: s.DepositRequestExpiresAt,
		DepositSessionID:        s.DepositSessionID,
		PaymentToken:            s.PaymentToken,
		PaymentURL:              s.PaymentURL,
		DepositPaidAt:           s.DepositPaidAt,
		PaymentReference:        s.PaymentReference,
		RefundedAt:              s.RefundedAt,
		RefundAmountCents:       s.RefundAmountCents,
		RefundType:              string(s.RefundType),
		RefundReference:         s.RefundReference,
		RefundReason:            s.RefundReason,
		ScheduledDate:           s.ScheduledDate,
		ScheduledDurationHours:  s.ScheduledDurationHours,
		RescheduleCount:         s.RescheduleCount,
		CancelledBy:             string(s.CancelledBy),
		CancellationReason:      s.CancellationReason,
		CancelledAt:             s.CancelledAt,
		RejectionReason:         s.RejectionReason,
		NoShowNotes:             s.NoShowNotes,
		ForfeitDeposit:          s.ForfeitDeposit,
		Version:                 s.Version,
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}, nil
}

func toDomainBooking(m *BookingRequestModel) (*bookingDomain.BookingRequest, error) {
	var client bookingDomain.ClientInfo
	if err := json.Unmarshal(m.Client, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}

	var design bookingDomain.DesignRequest
	if err := json.Unmarshal(m.Design, &design); err != nil {
		return nil, fmt.Errorf("failed to unmarshal design: %w", err)
	}

	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}

	artistID := uuid.Nil
	if m.ArtistID != nil {
		artistID = *m.ArtistID
	}

	return bookingDomain.ReconstructBookingRequest(bookingDomain.Snapshot{
		ID:                      m.ID,
		BookingNumber:           m.BookingNumber,
		StudioID:                m.StudioID,
		ArtistID:                artistID,
		Client:                  client,
		Design:                  design,
		Status:                  status,
		Currency:                m.Currency,
		QuotedPriceCents:        m.QuotedPriceCents,
		DepositAmountCents:      m.DepositAmountCents,
		EstimatedHours:          m.EstimatedHours,
		QuoteNotes:              m.QuoteNotes,
		DepositRequestedAt:      utcPtr(m.DepositRequestedAt),
		DepositRequestExpiresAt: utcPtr(m.DepositRequestExpiresAt),
		DepositSessionID:        m.DepositSessionID,
		PaymentToken:            m.PaymentToken,
		PaymentURL:              m.PaymentURL,
		DepositPaidAt:           utcPtr(m.DepositPaidAt),
		PaymentReference:        m.PaymentReference,
		RefundedAt:              utcPtr(m.RefundedAt),
		RefundAmountCents:       m.RefundAmountCents,
		RefundType:              bookingDomain.RefundType(m.RefundType),
		RefundReference:         m.RefundReference,
		RefundReason:            m.RefundReason,
		ScheduledDate:           utcPtr(m.ScheduledDate),
		ScheduledDurationHours:  m.ScheduledDurationHours,
		RescheduleCount:         m.RescheduleCount,
		CancelledBy:             bookingDomain.CancelledBy(m.CancelledBy),
		CancellationReason:      m.CancellationReason,
		CancelledAt:             utcPtr(m.CancelledAt),
		RejectionReason:         m.RejectionReason,
		NoShowNotes:             m.NoShowNotes,
		ForfeitDeposit:          m.ForfeitDeposit,
		Version:                 m.Version,
		CreatedAt:               m.CreatedAt.UTC(),
		UpdatedAt:               m.UpdatedAt.UTC(),
	}), nil
}

func toDomainBookings(models []BookingRequestModel) ([]*bookingDomain.BookingRequest, error) {
	bookings := make([]*bookingDomain.BookingRequest, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
