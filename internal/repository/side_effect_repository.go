package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
)

// maxEffectErrorRunes matches the width of booking_side_effects.error.
const maxEffectErrorRunes = 1000

// SideEffectModel is the GORM model for the booking_side_effects table.
type SideEffectModel struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	BookingID  uuid.UUID      `gorm:"type:uuid;index;not null"`
	Operation  string         `gorm:"size:30;not null"`
	Kind       string         `gorm:"size:20;not null"`
	Succeeded  bool           `gorm:"not null"`
	Error      string         `gorm:"size:1000"`
	Details    datatypes.JSON `gorm:"type:jsonb"`
	OccurredAt time.Time      `gorm:"not null;index"`
}

// TableName returns the table name for the GORM model.
func (SideEffectModel) TableName() string {
	return "booking_side_effects"
}

// GormSideEffectRepository is the GORM-based implementation of SideEffectRepository.
type GormSideEffectRepository struct {
	db *gorm.DB
}

// NewGormSideEffectRepository creates a new GormSideEffectRepository.
func NewGormSideEffectRepository(db *gorm.DB) *GormSideEffectRepository {
	return &GormSideEffectRepository{db: db}
}

// Record appends one side-effect outcome.
func (r *GormSideEffectRepository) Record(ctx context.Context, effect bookingDomain.SideEffect) error {
	if effect.ID == uuid.Nil {
		effect.ID = uuid.New()
	}
	details, err := json.Marshal(effect.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal side effect details: %w", err)
	}

	model := SideEffectModel{
		ID:         effect.ID,
		BookingID:  effect.BookingID,
		Operation:  string(effect.Operation),
		Kind:       string(effect.Kind),
		Succeeded:  effect.Succeeded,
		Error:      truncateRunes(effect.Error, maxEffectErrorRunes),
		Details:    datatypes.JSON(details),
		OccurredAt: effect.OccurredAt.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("failed to record side effect: %w", err)
	}
	return nil
}

// ListByBooking returns the side-effect log of a booking, oldest first.
func (r *GormSideEffectRepository) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]bookingDomain.SideEffect, error) {
	var models []SideEffectModel
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("occurred_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list side effects: %w", err)
	}

	effects := make([]bookingDomain.SideEffect, len(models))
	for i, m := range models {
		var details map[string]interface{}
		if len(m.Details) > 0 {
			if err := json.Unmarshal(m.Details, &details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal side effect details: %w", err)
			}
		}
		effects[i] = bookingDomain.SideEffect{
			ID:         m.ID,
			BookingID:  m.BookingID,
			Operation:  bookingDomain.Operation(m.Operation),
			Kind:       bookingDomain.SideEffectKind(m.Kind),
			Succeeded:  m.Succeeded,
			Error:      m.Error,
			Details:    details,
			OccurredAt: m.OccurredAt.UTC(),
		}
	}
	return effects, nil
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
