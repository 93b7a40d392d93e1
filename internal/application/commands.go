package application

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/domain"
)

// Actor is the authenticated staff member invoking an operation.
type Actor struct {
	UserID   uuid.UUID
	Role     string
	StudioID uuid.UUID
}

// IsAdmin reports whether the actor may act on any studio.
func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

// SubmitCommand is a client's public booking request submission.
type SubmitCommand struct {
	StudioID       uuid.UUID   `json:"-" validate:"required"`
	ArtistID       *uuid.UUID  `json:"artist_id"`
	ClientName     string      `json:"client_name" validate:"required,max=200"`
	ClientEmail    string      `json:"client_email" validate:"required,email,max=254"`
	ClientPhone    string      `json:"client_phone" validate:"omitempty,max=40"`
	Description    string      `json:"description" validate:"required,max=5000"`
	Placement      string      `json:"placement" validate:"omitempty,max=200"`
	SizeCm         float64     `json:"size_cm" validate:"gte=0,lte=500"`
	ColorWork      bool        `json:"color_work"`
	PreferredDates []time.Time `json:"preferred_dates" validate:"max=10"`
}

// UpdateQuoteCommand sends or revises the staff quote.
type UpdateQuoteCommand struct {
	QuotedPriceCents   int64    `json:"quoted_price_cents" validate:"required,gt=0"`
	EstimatedHours     *float64 `json:"estimated_hours" validate:"omitempty,gt=0"`
	DepositAmountCents *int64   `json:"deposit_amount_cents" validate:"omitempty,gt=0"`
	Notes              string   `json:"notes" validate:"max=2000"`
}

// RejectCommand rejects a request under review.
type RejectCommand struct {
	Reason       string `json:"reason" validate:"max=1000"`
	NotifyClient bool   `json:"notify_client"`
}

// RequestDepositCommand creates a deposit session. The client is notified
// with the payment link unless NotifyClient is explicitly false.
type RequestDepositCommand struct {
	DepositAmountCents int64  `json:"deposit_amount_cents" validate:"required,gt=0"`
	ExpiresInDays      int    `json:"expires_in_days" validate:"omitempty,gte=1,lte=30"`
	Message            string `json:"message" validate:"max=2000"`
	NotifyClient       *bool  `json:"notify_client"`
}

// ConfirmCommand schedules the appointment.
type ConfirmCommand struct {
	ScheduledDate time.Time `json:"scheduled_date" validate:"required"`
	DurationHours float64   `json:"duration_hours" validate:"required,gt=0,lte=24"`
	NotifyClient  bool      `json:"notify_client"`
}

// RescheduleCommand moves a confirmed appointment.
type RescheduleCommand struct {
	NewDate          time.Time `json:"new_date" validate:"required"`
	NewDurationHours *float64  `json:"new_duration_hours" validate:"omitempty,gt=0,lte=24"`
	Reason           string    `json:"reason" validate:"max=1000"`
	NotifyClient     bool      `json:"notify_client"`
}

// CancelCommand cancels a booking without refunding it.
type CancelCommand struct {
	Reason         string `json:"reason" validate:"max=1000"`
	CancelledBy    string `json:"cancelled_by" validate:"required,oneof=studio artist client"`
	ForfeitDeposit bool   `json:"forfeit_deposit"`
	NotifyClient   bool   `json:"notify_client"`
}

// NoShowCommand records a missed appointment.
type NoShowCommand struct {
	Notes          string `json:"notes" validate:"max=1000"`
	ForfeitDeposit bool   `json:"forfeit_deposit"`
	NotifyClient   bool   `json:"notify_client"`
}

// CompleteCommand closes an attended appointment.
type CompleteCommand struct{}

// IssueRefundCommand refunds a cancelled or no-show booking.
type IssueRefundCommand struct {
	RefundType   string `json:"refund_type" validate:"required,oneof=full partial"`
	AmountCents  *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
	Reason       string `json:"reason" validate:"max=1000"`
	NotifyClient bool   `json:"notify_client"`
}

// CancelWithRefundCommand cancels a paid booking and refunds it.
type CancelWithRefundCommand struct {
	Reason       string `json:"reason" validate:"max=1000"`
	CancelledBy  string `json:"cancelled_by" validate:"required,oneof=studio artist client"`
	RefundType   string `json:"refund_type" validate:"required,oneof=full partial"`
	AmountCents  *int64 `json:"amount_cents" validate:"omitempty,gt=0"`
	NotifyClient bool   `json:"notify_client"`
}

// ListQuery filters a staff listing.
type ListQuery struct {
	Status   string
	StudioID *uuid.UUID
	ArtistID *uuid.UUID
	Page     int
	Limit    int
}

var validate = validator.New()

// validateCommand checks cmd's struct tags and reports every failing field
// as a single validation error.
func validateCommand(cmd interface{}) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return domain.NewValidationError(err.Error())
	}

	msgs := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		msgs = append(msgs, validationMessage(fe))
	}
	sort.Strings(msgs)
	return domain.NewValidationError(strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be greater than %s", field, boundParam(fe))
	case "lt", "lte", "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

func boundParam(fe validator.FieldError) string {
	if fe.Tag() == "gte" {
		return "or equal to " + fe.Param()
	}
	return fe.Param()
}

func toListFilter(q ListQuery) (bookingDomain.ListFilter, error) {
	filter := bookingDomain.ListFilter{StudioID: q.StudioID, ArtistID: q.ArtistID}
	if q.Status != "" {
		status, err := bookingDomain.ParseBookingStatus(q.Status)
		if err != nil {
			return filter, domain.NewValidationError(err.Error())
		}
		filter.Status = &status
	}
	return filter, nil
}
