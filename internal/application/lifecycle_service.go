package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/auth"
	"github.com/inkbook/service-booking/internal/platform/domain"
	"github.com/inkbook/service-booking/internal/platform/kafka"
)

const (
	eventSource      = "service-booking"
	maxWriteAttempts = 2

	opSubmit bookingDomain.Operation = "submit"
)

// systemActor is used for transitions driven by the payment gateway.
var systemActor = Actor{Role: auth.RoleAdmin}

// errNoChange aborts a mutation that turned out to be a no-op.
var errNoChange = errors.New("no change")

// LifecycleOptions configures studio policy for the lifecycle.
type LifecycleOptions struct {
	Currency                     string
	DefaultDepositExpiryDays     int
	AllowCancelPaidWithoutRefund bool
	// PublicPayURL prefixes the payment token in client payment links. When
	// empty the gateway's checkout URL is sent instead.
	PublicPayURL string
	Now          func() time.Time
}

// Collaborators are the external systems the lifecycle drives.
type Collaborators struct {
	Payments    PaymentGateway
	Notifier    NotificationDispatcher
	Publisher   EventPublisher
	Broadcaster StatusBroadcaster
	Dedup       Deduplicator
}

// LifecycleService is the application service orchestrating booking request
// transitions and their side effects.
type LifecycleService struct {
	repo    bookingDomain.BookingRepository
	effects bookingDomain.SideEffectRepository
	ext     Collaborators
	opts    LifecycleOptions
	logger  *zap.Logger
}

// NewLifecycleService creates a new LifecycleService.
func NewLifecycleService(
	repo bookingDomain.BookingRepository,
	effects bookingDomain.SideEffectRepository,
	ext Collaborators,
	opts LifecycleOptions,
	logger *zap.Logger,
) *LifecycleService {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.DefaultDepositExpiryDays <= 0 {
		opts.DefaultDepositExpiryDays = bookingDomain.DefaultDepositExpiryDays
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &LifecycleService{
		repo:    repo,
		effects: effects,
		ext:     ext,
		opts:    opts,
		logger:  logger,
	}
}

func (s *LifecycleService) now() time.Time {
	return s.opts.Now().UTC()
}

// Submit records a client's booking request with status pending.
func (s *LifecycleService) Submit(ctx context.Context, cmd SubmitCommand) (*BookingRequestDTO, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	artistID := uuid.Nil
	if cmd.ArtistID != nil {
		artistID = *cmd.ArtistID
	}

	bk, err := bookingDomain.NewBookingRequest(
		cmd.StudioID,
		artistID,
		bookingDomain.ClientInfo{Name: cmd.ClientName, Email: cmd.ClientEmail, Phone: cmd.ClientPhone},
		bookingDomain.DesignRequest{
			Description:    cmd.Description,
			Placement:      cmd.Placement,
			SizeCm:         cmd.SizeCm,
			ColorWork:      cmd.ColorWork,
			PreferredDates: cmd.PreferredDates,
		},
		s.opts.Currency,
		s.now(),
	)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Save(ctx, bk); err != nil {
		return nil, fmt.Errorf("failed to save booking request: %w", err)
	}

	s.logger.Info("booking request submitted",
		zap.String("booking_id", bk.ID().String()),
		zap.String("booking_number", bk.BookingNumber()),
		zap.String("studio_id", bk.StudioID().String()),
	)

	s.afterTransition(ctx, opSubmit, "", bk)
	s.notify(ctx, opSubmit, bk, TemplateBookingReceived, nil, nil)

	result := toBookingDTO(bk, s.now())
	return &result, nil
}

// StartReview moves a pending request into review.
func (s *LifecycleService) StartReview(ctx context.Context, actor Actor, id uuid.UUID) (*TransitionResult, error) {
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.StartReview(now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpStartReview, from, bk)
	return s.result(bk), nil
}

// UpdateQuote sends the quote from reviewing, or revises it while quoted.
func (s *LifecycleService) UpdateQuote(ctx context.Context, actor Actor, id uuid.UUID, cmd UpdateQuoteCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.SendQuote(cmd.QuotedPriceCents, cmd.DepositAmountCents, cmd.EstimatedHours, cmd.Notes, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpSendQuote, from, bk)

	result := s.result(bk)
	result.DepositAmountCents = bk.DepositAmountCents()
	return result, nil
}

// Reject declines a request under review.
func (s *LifecycleService) Reject(ctx context.Context, actor Actor, id uuid.UUID, cmd RejectCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.Reject(cmd.Reason, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpReject, from, bk)

	result := s.result(bk)
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpReject, bk, TemplateBookingRejected,
			map[string]interface{}{"reason": cmd.Reason}, nil)
	}
	return result, nil
}

// RequestDeposit creates a payment session for the deposit and sends the
// client the payment link. A previous session is superseded and expired at
// the gateway.
func (s *LifecycleService) RequestDeposit(ctx context.Context, actor Actor, id uuid.UUID, cmd RequestDepositCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	days := cmd.ExpiresInDays
	if days == 0 {
		days = s.opts.DefaultDepositExpiryDays
	}

	var (
		session    *GatewaySession
		token      string
		expiresAt  time.Time
		superseded string
	)
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		if err := bk.GuardRequestDeposit(cmd.DepositAmountCents); err != nil {
			return err
		}
		if session == nil {
			expiresAt = bookingDomain.DepositExpiry(now, days)
			created, err := s.ext.Payments.CreateDepositSession(ctx, DepositSessionRequest{
				BookingID:      bk.ID(),
				BookingNumber:  bk.BookingNumber(),
				AmountCents:    cmd.DepositAmountCents,
				Currency:       bk.Currency(),
				ClientEmail:    bk.Client().Email,
				Description:    bk.Design().Summary(),
				ExpiresAt:      expiresAt,
				IdempotencyKey: fmt.Sprintf("deposit-%s-%d", bk.ID(), bk.Version()),
			})
			if err != nil {
				s.recordEffect(ctx, bk.ID(), bookingDomain.OpRequestDeposit, bookingDomain.SideEffectPayment, err,
					map[string]interface{}{"action": "create_session", "amount_cents": cmd.DepositAmountCents})
				return domain.NewExternalServiceError("payment gateway", err)
			}
			if token, err = bookingDomain.NewPaymentToken(); err != nil {
				return err
			}
			session = created
			s.recordEffect(ctx, bk.ID(), bookingDomain.OpRequestDeposit, bookingDomain.SideEffectPayment, nil,
				map[string]interface{}{"action": "create_session", "session_id": created.SessionID, "amount_cents": cmd.DepositAmountCents})
		}

		var err error
		superseded, err = bk.RequestDeposit(cmd.DepositAmountCents, bookingDomain.DepositSession{
			SessionID:  session.SessionID,
			Token:      token,
			PaymentURL: session.PaymentURL,
			ExpiresAt:  expiresAt,
		}, now)
		return err
	})
	if err != nil {
		if session != nil {
			s.expireSession(ctx, id, bookingDomain.OpRequestDeposit, session.SessionID)
		}
		return nil, err
	}

	if superseded != "" {
		s.expireSession(ctx, bk.ID(), bookingDomain.OpRequestDeposit, superseded)
	}
	s.afterTransition(ctx, bookingDomain.OpRequestDeposit, from, bk)

	result := s.result(bk)
	result.DepositAmountCents = bk.DepositAmountCents()
	result.ExpiresAt = bk.DepositRequestExpiresAt()
	if cmd.NotifyClient == nil || *cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpRequestDeposit, bk, TemplateDepositRequest,
			map[string]interface{}{
				"payment_link": s.paymentLink(bk),
				"amount_cents": cmd.DepositAmountCents,
				"currency":     bk.Currency(),
				"expires_at":   bk.DepositRequestExpiresAt(),
				"message":      cmd.Message,
			}, nil)
	}
	return result, nil
}

// Confirm schedules a paid booking.
func (s *LifecycleService) Confirm(ctx context.Context, actor Actor, id uuid.UUID, cmd ConfirmCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.Confirm(cmd.ScheduledDate, cmd.DurationHours, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpConfirm, from, bk)

	result := s.result(bk)
	result.ScheduledDate = bk.ScheduledDate()
	result.DurationHours = bk.ScheduledDurationHours()
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpConfirm, bk, TemplateBookingConfirmed,
			nil, appointmentOf(bk))
	}
	return result, nil
}

// Reschedule moves a confirmed appointment.
func (s *LifecycleService) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, cmd RescheduleCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.Reschedule(cmd.NewDate, cmd.NewDurationHours, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpReschedule, from, bk)

	count := bk.RescheduleCount()
	result := s.result(bk)
	result.ScheduledDate = bk.ScheduledDate()
	result.DurationHours = bk.ScheduledDurationHours()
	result.RescheduleCount = &count
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpReschedule, bk, TemplateBookingRescheduled,
			map[string]interface{}{"reason": cmd.Reason}, appointmentOf(bk))
	}
	return result, nil
}

// Cancel cancels a booking without refunding it. When the studio allows it, a
// paid booking may be cancelled this way; if its deposit is not forfeited a
// refund_due event is raised for follow-up.
func (s *LifecycleService) Cancel(ctx context.Context, actor Actor, id uuid.UUID, cmd CancelCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	var refundDue bool
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		var err error
		refundDue, err = bk.Cancel(bookingDomain.CancelledBy(cmd.CancelledBy), cmd.Reason, cmd.ForfeitDeposit,
			s.opts.AllowCancelPaidWithoutRefund, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if from == bookingDomain.StatusDepositRequested && bk.DepositSessionID() != "" {
		s.expireSession(ctx, bk.ID(), bookingDomain.OpCancel, bk.DepositSessionID())
	}
	s.afterTransition(ctx, bookingDomain.OpCancel, from, bk)

	result := s.result(bk)
	result.DepositAmountCents = bk.DepositAmountCents()
	result.DepositForfeited = bk.ForfeitDeposit()
	if refundDue {
		result.SideEffects.RefundDue = true
		s.publishEvent(ctx, bk.ID(), bookingDomain.OpCancel, bookingDomain.EventRefundDue, s.refundEvent(bk, 0, "", ""))
		s.logger.Warn("paid booking cancelled without refund",
			zap.String("booking_id", bk.ID().String()),
			zap.String("payment_reference", bk.PaymentReference()),
		)
	}
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpCancel, bk, TemplateBookingCancelled,
			map[string]interface{}{"reason": cmd.Reason, "deposit_forfeited": *bk.ForfeitDeposit()}, nil)
	}
	return result, nil
}

// MarkNoShow records that the client missed a confirmed appointment.
func (s *LifecycleService) MarkNoShow(ctx context.Context, actor Actor, id uuid.UUID, cmd NoShowCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}

	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.MarkNoShow(cmd.Notes, cmd.ForfeitDeposit, now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpMarkNoShow, from, bk)

	result := s.result(bk)
	result.DepositAmountCents = bk.DepositAmountCents()
	result.DepositForfeited = bk.ForfeitDeposit()
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpMarkNoShow, bk, TemplateBookingNoShow,
			map[string]interface{}{"deposit_forfeited": cmd.ForfeitDeposit}, nil)
	}
	return result, nil
}

// Complete closes an attended appointment.
func (s *LifecycleService) Complete(ctx context.Context, actor Actor, id uuid.UUID) (*TransitionResult, error) {
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.Complete(now)
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpComplete, from, bk)
	return s.result(bk), nil
}

// IssueRefund refunds the deposit of a cancelled or no-show booking. A gateway
// failure aborts the operation with nothing recorded on the booking.
func (s *LifecycleService) IssueRefund(ctx context.Context, actor Actor, id uuid.UUID, cmd IssueRefundCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	refundType := bookingDomain.RefundType(cmd.RefundType)

	var (
		receipt *RefundReceipt
		amount  int64
	)
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		if receipt == nil {
			guarded, err := bk.GuardRefund(refundType, cmd.AmountCents)
			if err != nil {
				return err
			}
			issued, err := s.refund(ctx, bk, bookingDomain.OpIssueRefund, guarded, cmd.Reason)
			if err != nil {
				return domain.NewExternalServiceError("payment gateway", err)
			}
			receipt, amount = issued, guarded
		}
		return bk.RecordRefund(refundType, amount, receipt.RefundID, cmd.Reason, now)
	})
	if err != nil {
		if receipt != nil {
			s.logger.Error("refund issued at gateway but not recorded",
				zap.String("booking_id", id.String()),
				zap.String("refund_id", receipt.RefundID),
				zap.Error(err),
			)
		}
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpIssueRefund, from, bk)

	result := s.result(bk)
	result.RefundAmountCents = bk.RefundAmountCents()
	result.SideEffects.Refund = &Outcome{Status: OutcomeIssued, Reference: receipt.RefundID}
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpIssueRefund, bk, TemplateRefundIssued,
			map[string]interface{}{"amount_cents": amount, "currency": bk.Currency()}, nil)
	}
	return result, nil
}

// CancelWithRefund cancels a paid booking, then refunds it. The cancellation
// is persisted first and stands even when the refund fails; the result
// reports the refund outcome separately so it can be retried with IssueRefund.
func (s *LifecycleService) CancelWithRefund(ctx context.Context, actor Actor, id uuid.UUID, cmd CancelWithRefundCommand) (*TransitionResult, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	refundType := bookingDomain.RefundType(cmd.RefundType)

	var amount int64
	bk, from, err := s.mutate(ctx, actor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		var err error
		amount, err = bk.CancelForRefund(bookingDomain.CancelledBy(cmd.CancelledBy), cmd.Reason, refundType, cmd.AmountCents, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterTransition(ctx, bookingDomain.OpCancelWithRefund, from, bk)

	refunded, outcome := s.refundCancelled(ctx, actor, bk, refundType, amount, cmd.Reason)
	if refunded != nil {
		bk = refunded
	}

	result := s.result(bk)
	result.DepositAmountCents = bk.DepositAmountCents()
	result.DepositForfeited = bk.ForfeitDeposit()
	result.SideEffects.Refund = outcome
	if outcome.Status == OutcomeIssued {
		result.RefundAmountCents = &amount
	}
	if cmd.NotifyClient {
		result.SideEffects.Notification = s.notify(ctx, bookingDomain.OpCancelWithRefund, bk, TemplateBookingCancelled,
			map[string]interface{}{
				"reason":        cmd.Reason,
				"refund_status": outcome.Status,
				"amount_cents":  amount,
				"currency":      bk.Currency(),
			}, nil)
	}
	return result, nil
}

// refundCancelled is the second step of CancelWithRefund. It returns the
// re-read booking when the refund was recorded.
func (s *LifecycleService) refundCancelled(
	ctx context.Context,
	actor Actor,
	cancelled *bookingDomain.BookingRequest,
	refundType bookingDomain.RefundType,
	amount int64,
	reason string,
) (*bookingDomain.BookingRequest, *Outcome) {
	receipt, err := s.refund(ctx, cancelled, bookingDomain.OpCancelWithRefund, amount, reason)
	if err != nil {
		s.publishEvent(ctx, cancelled.ID(), bookingDomain.OpCancelWithRefund, bookingDomain.EventRefundFailed,
			s.refundEvent(cancelled, amount, refundType, err.Error()))
		return nil, &Outcome{Status: OutcomeFailed, Error: err.Error()}
	}

	bk, from, err := s.mutate(ctx, actor, cancelled.ID(), func(bk *bookingDomain.BookingRequest, now time.Time) error {
		return bk.RecordRefund(refundType, amount, receipt.RefundID, reason, now)
	})
	if err != nil {
		s.logger.Error("refund issued at gateway but not recorded",
			zap.String("booking_id", cancelled.ID().String()),
			zap.String("refund_id", receipt.RefundID),
			zap.Error(err),
		)
		return nil, &Outcome{
			Status:    OutcomeIssued,
			Reference: receipt.RefundID,
			Error:     fmt.Sprintf("refund not recorded: %v", err),
		}
	}
	s.afterTransition(ctx, bookingDomain.OpIssueRefund, from, bk)
	return bk, &Outcome{Status: OutcomeIssued, Reference: receipt.RefundID}
}

// refund calls the gateway and logs the outcome on the booking.
func (s *LifecycleService) refund(ctx context.Context, bk *bookingDomain.BookingRequest, op bookingDomain.Operation, amount int64, reason string) (*RefundReceipt, error) {
	receipt, err := s.ext.Payments.Refund(ctx, RefundRequest{
		PaymentReference: bk.PaymentReference(),
		AmountCents:      amount,
		Currency:         bk.Currency(),
		Reason:           reason,
		IdempotencyKey:   refundKey(bk.ID(), amount),
	})
	details := map[string]interface{}{"amount_cents": amount, "payment_reference": bk.PaymentReference()}
	if err != nil {
		s.logger.Error("refund failed",
			zap.String("booking_id", bk.ID().String()),
			zap.Int64("amount_cents", amount),
			zap.Error(err),
		)
		s.recordEffect(ctx, bk.ID(), op, bookingDomain.SideEffectRefund, err, details)
		return nil, err
	}
	details["refund_id"] = receipt.RefundID
	s.recordEffect(ctx, bk.ID(), op, bookingDomain.SideEffectRefund, nil, details)
	return receipt, nil
}

// refundKey identifies one logical refund attempt. A retry of the same amount
// reuses the key; a corrected amount gets a fresh one.
func refundKey(bookingID uuid.UUID, amount int64) string {
	return fmt.Sprintf("refund-%s-%d", bookingID, amount)
}

// HandleDepositCompleted applies a payment-completion notice from the
// gateway. Redelivery of the same notice is acknowledged without effect.
func (s *LifecycleService) HandleDepositCompleted(ctx context.Context, evt bookingDomain.DepositCompletedEvent) (*WebhookResult, error) {
	if evt.SessionID == "" || evt.PaymentReference == "" {
		return nil, domain.NewValidationError("session_id and payment_reference are required")
	}
	switch evt.Status {
	case "", "completed", "succeeded", "paid":
	default:
		s.logger.Info("ignoring non-completed payment notice",
			zap.String("session_id", evt.SessionID),
			zap.String("status", evt.Status),
		)
		return &WebhookResult{Outcome: WebhookIgnored}, nil
	}

	key := evt.EventID
	if key == "" {
		key = evt.SessionID + ":" + evt.PaymentReference
	}
	key = "payment:" + key

	if s.ext.Dedup != nil {
		first, err := s.ext.Dedup.Claim(ctx, key)
		if err != nil {
			s.logger.Warn("webhook de-duplication unavailable", zap.Error(err))
		} else if !first {
			s.logger.Debug("duplicate payment notice", zap.String("key", key))
			return &WebhookResult{Outcome: WebhookDuplicate}, nil
		}
	}

	result, err := s.applyDepositPaid(ctx, evt)
	if err != nil && s.ext.Dedup != nil && retryable(err) {
		if relErr := s.ext.Dedup.Release(ctx, key); relErr != nil {
			s.logger.Warn("failed to release webhook key", zap.String("key", key), zap.Error(relErr))
		}
	}
	return result, err
}

func (s *LifecycleService) applyDepositPaid(ctx context.Context, evt bookingDomain.DepositCompletedEvent) (*WebhookResult, error) {
	id, err := s.resolveDepositBooking(ctx, evt)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			s.logger.Warn("payment notice for unknown deposit session",
				zap.String("session_id", evt.SessionID),
			)
			return &WebhookResult{Outcome: WebhookIgnored}, nil
		}
		return nil, err
	}

	bk, from, err := s.mutate(ctx, systemActor, id, func(bk *bookingDomain.BookingRequest, now time.Time) error {
		completedAt := evt.CompletedAt
		if completedAt.IsZero() {
			completedAt = now
		}
		applied, err := bk.MarkDepositPaid(evt.SessionID, evt.PaymentReference, evt.AmountCents, completedAt, now)
		if err != nil {
			return err
		}
		if !applied {
			return errNoChange
		}
		return nil
	})
	if errors.Is(err, errNoChange) {
		return &WebhookResult{Outcome: WebhookDuplicate, BookingID: &id}, nil
	}
	if err != nil {
		s.logger.Warn("payment notice rejected",
			zap.String("booking_id", id.String()),
			zap.String("session_id", evt.SessionID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("deposit paid",
		zap.String("booking_id", bk.ID().String()),
		zap.String("payment_reference", bk.PaymentReference()),
	)
	s.afterTransition(ctx, bookingDomain.OpMarkDepositPaid, from, bk)
	return &WebhookResult{Outcome: WebhookApplied, BookingID: &id, Status: string(bk.Status())}, nil
}

func (s *LifecycleService) resolveDepositBooking(ctx context.Context, evt bookingDomain.DepositCompletedEvent) (uuid.UUID, error) {
	if evt.BookingID != "" {
		id, err := uuid.Parse(evt.BookingID)
		if err != nil {
			return uuid.Nil, domain.NewValidationError("invalid booking_id in payment notice")
		}
		return id, nil
	}
	bk, err := s.repo.FindByDepositSession(ctx, evt.SessionID)
	if err != nil {
		return uuid.Nil, err
	}
	return bk.ID(), nil
}

// --- Queries ---

// Get returns one booking request.
func (s *LifecycleService) Get(ctx context.Context, actor Actor, id uuid.UUID) (*BookingRequestDTO, error) {
	bk, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk, s.now())
	return &result, nil
}

// List returns a page of booking requests visible to actor.
func (s *LifecycleService) List(ctx context.Context, actor Actor, q ListQuery) (*domain.PaginatedResult[BookingRequestDTO], error) {
	if !actor.IsAdmin() {
		studioID := actor.StudioID
		q.StudioID = &studioID
	}
	filter, err := toListFilter(q)
	if err != nil {
		return nil, err
	}
	page, limit := normalizePage(q.Page, q.Limit)

	bookings, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	dtos := make([]BookingRequestDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk, now)
	}
	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// SideEffects returns the side-effect log of a booking request.
func (s *LifecycleService) SideEffects(ctx context.Context, actor Actor, id uuid.UUID) ([]SideEffectDTO, error) {
	if _, err := s.load(ctx, actor, id); err != nil {
		return nil, err
	}
	effects, err := s.effects.ListByBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return toSideEffectDTOs(effects), nil
}

// PublicDepositView returns the redacted payment-page view behind token.
func (s *LifecycleService) PublicDepositView(ctx context.Context, token string) (*PublicDepositDTO, error) {
	bk, err := s.repo.FindByPaymentToken(ctx, token)
	if err != nil {
		return nil, err
	}
	view := toPublicDepositDTO(bk, s.now())
	return &view, nil
}

// Stats returns booking counts by status (admin).
func (s *LifecycleService) Stats(ctx context.Context) (*StatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	stats := &StatsDTO{ByStatus: counts}
	for _, c := range counts {
		stats.Total += c
	}
	return stats, nil
}

// ExpiredDeposits lists deposit_requested bookings whose session has lapsed (admin).
func (s *LifecycleService) ExpiredDeposits(ctx context.Context, limit int) ([]BookingRequestDTO, error) {
	_, limit = normalizePage(1, limit)
	now := s.now()
	bookings, err := s.repo.FindExpiredDepositRequests(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	dtos := make([]BookingRequestDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk, now)
	}
	return dtos, nil
}

// Erase permanently deletes a booking request. Only admins and the owning
// studio may erase.
func (s *LifecycleService) Erase(ctx context.Context, actor Actor, id uuid.UUID) error {
	if actor.Role == auth.RoleArtist {
		return domain.NewForbiddenError("artists cannot erase booking requests")
	}
	bk, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.Erase(ctx, id); err != nil {
		return err
	}
	s.logger.Info("booking request erased",
		zap.String("booking_id", id.String()),
		zap.String("booking_number", bk.BookingNumber()),
		zap.String("actor_id", actor.UserID.String()),
	)
	return nil
}

// --- Helpers ---

func (s *LifecycleService) load(ctx context.Context, actor Actor, id uuid.UUID) (*bookingDomain.BookingRequest, error) {
	bk, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, bk); err != nil {
		return nil, err
	}
	return bk, nil
}

func authorize(actor Actor, bk *bookingDomain.BookingRequest) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.StudioID == uuid.Nil || actor.StudioID != bk.StudioID() {
		return domain.NewForbiddenError("booking request belongs to another studio")
	}
	if actor.Role == auth.RoleArtist && bk.ArtistID() != uuid.Nil && bk.ArtistID() != actor.UserID {
		return domain.NewForbiddenError("booking request is assigned to another artist")
	}
	return nil
}

// mutate re-reads the booking, applies fn and writes the result with a
// compare-and-set. A conflicting write is retried once on a fresh read.
func (s *LifecycleService) mutate(
	ctx context.Context,
	actor Actor,
	id uuid.UUID,
	fn func(bk *bookingDomain.BookingRequest, now time.Time) error,
) (*bookingDomain.BookingRequest, bookingDomain.BookingStatus, error) {
	for attempt := 1; ; attempt++ {
		bk, err := s.load(ctx, actor, id)
		if err != nil {
			return nil, "", err
		}
		from := bk.Status()

		if err := fn(bk, s.now()); err != nil {
			return nil, "", err
		}

		if err := bk.CheckInvariants(); err != nil {
			s.logger.Error("transition would break booking invariants",
				zap.String("booking_id", id.String()),
				zap.String("from", string(from)),
				zap.String("to", string(bk.Status())),
				zap.Error(err),
			)
			return nil, "", fmt.Errorf("refusing to persist booking: %w", err)
		}

		bk.IncrementVersion()
		err = s.repo.Update(ctx, bk)
		if err == nil {
			return bk, from, nil
		}
		if attempt < maxWriteAttempts && domain.IsKind(err, domain.KindConflict) {
			s.logger.Warn("booking request modified concurrently, retrying on fresh read",
				zap.String("booking_id", id.String()),
			)
			continue
		}
		return nil, "", err
	}
}

func (s *LifecycleService) result(bk *bookingDomain.BookingRequest) *TransitionResult {
	return &TransitionResult{Booking: toBookingDTO(bk, s.now())}
}

// afterTransition publishes the status change and pushes it to live viewers.
func (s *LifecycleService) afterTransition(ctx context.Context, op bookingDomain.Operation, from bookingDomain.BookingStatus, bk *bookingDomain.BookingRequest) {
	eventType := bookingDomain.EventTypeFor(op)
	if op == opSubmit {
		eventType = bookingDomain.EventSubmitted
	}
	evt := bookingDomain.StatusChangedEvent{
		BookingID:       bk.ID(),
		BookingNumber:   bk.BookingNumber(),
		StudioID:        bk.StudioID(),
		Operation:       op,
		FromStatus:      from,
		Status:          bk.Status(),
		Version:         bk.Version(),
		DepositCents:    bk.DepositAmountCents(),
		RefundCents:     bk.RefundAmountCents(),
		ForfeitDeposit:  bk.ForfeitDeposit(),
		RescheduleCount: bk.RescheduleCount(),
		OccurredAt:      s.now(),
	}
	s.publishEvent(ctx, bk.ID(), op, eventType, evt)

	if s.ext.Broadcaster == nil {
		return
	}
	update := StatusUpdate{
		BookingID: bk.ID(),
		Status:    bk.Status(),
		Version:   bk.Version(),
		Operation: string(op),
		UpdatedAt: bk.UpdatedAt(),
	}
	if err := s.ext.Broadcaster.Broadcast(ctx, update); err != nil {
		s.logger.Warn("failed to broadcast status update",
			zap.String("booking_id", bk.ID().String()),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) publishEvent(ctx context.Context, bookingID uuid.UUID, op bookingDomain.Operation, eventType string, data interface{}) {
	cloudEvent, err := kafka.NewCloudEvent(eventSource, eventType, data)
	if err != nil {
		s.logger.Error("failed to create cloud event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		return
	}
	cloudEvent.Subject = bookingID.String()

	if err := s.ext.Publisher.PublishEvent(ctx, bookingDomain.TopicBookingEvents, cloudEvent); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("topic", bookingDomain.TopicBookingEvents),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
		s.recordEffect(ctx, bookingID, op, bookingDomain.SideEffectEvent, err,
			map[string]interface{}{"event_type": eventType})
	}
}

// notify dispatches a client notification after the status is persisted.
// Failures are logged and recorded but never undo the transition.
func (s *LifecycleService) notify(
	ctx context.Context,
	op bookingDomain.Operation,
	bk *bookingDomain.BookingRequest,
	template string,
	data map[string]interface{},
	appt *Appointment,
) *Outcome {
	err := s.ext.Notifier.Dispatch(ctx, Notification{
		Template:      template,
		BookingID:     bk.ID(),
		BookingNumber: bk.BookingNumber(),
		StudioID:      bk.StudioID(),
		Recipient:     bk.Client(),
		Data:          data,
		Appointment:   appt,
	})
	s.recordEffect(ctx, bk.ID(), op, bookingDomain.SideEffectNotification, err,
		map[string]interface{}{"template": template})
	if err != nil {
		s.logger.Error("failed to notify client",
			zap.String("booking_id", bk.ID().String()),
			zap.String("template", template),
			zap.Error(err),
		)
		return &Outcome{Status: OutcomeFailed, Error: err.Error()}
	}
	return &Outcome{Status: OutcomeSent}
}

func (s *LifecycleService) expireSession(ctx context.Context, bookingID uuid.UUID, op bookingDomain.Operation, sessionID string) {
	err := s.ext.Payments.ExpireSession(ctx, sessionID)
	s.recordEffect(ctx, bookingID, op, bookingDomain.SideEffectPayment, err,
		map[string]interface{}{"action": "expire_session", "session_id": sessionID})
	if err != nil {
		s.logger.Warn("failed to expire deposit session",
			zap.String("booking_id", bookingID.String()),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) recordEffect(
	ctx context.Context,
	bookingID uuid.UUID,
	op bookingDomain.Operation,
	kind bookingDomain.SideEffectKind,
	cause error,
	details map[string]interface{},
) {
	if s.effects == nil {
		return
	}
	effect := bookingDomain.SideEffect{
		BookingID:  bookingID,
		Operation:  op,
		Kind:       kind,
		Succeeded:  cause == nil,
		Details:    details,
		OccurredAt: s.now(),
	}
	if cause != nil {
		effect.Error = cause.Error()
	}
	if err := s.effects.Record(ctx, effect); err != nil {
		s.logger.Error("failed to record side effect",
			zap.String("booking_id", bookingID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) refundEvent(bk *bookingDomain.BookingRequest, amount int64, refundType bookingDomain.RefundType, failure string) bookingDomain.RefundEvent {
	if amount == 0 && bk.DepositAmountCents() != nil {
		amount = *bk.DepositAmountCents()
	}
	return bookingDomain.RefundEvent{
		BookingID:        bk.ID(),
		BookingNumber:    bk.BookingNumber(),
		StudioID:         bk.StudioID(),
		PaymentReference: bk.PaymentReference(),
		AmountCents:      amount,
		Currency:         bk.Currency(),
		RefundType:       refundType,
		Error:            failure,
		OccurredAt:       s.now(),
	}
}

func (s *LifecycleService) paymentLink(bk *bookingDomain.BookingRequest) string {
	if s.opts.PublicPayURL == "" {
		return bk.PaymentURL()
	}
	return s.opts.PublicPayURL + bk.PaymentToken()
}

func appointmentOf(bk *bookingDomain.BookingRequest) *Appointment {
	if bk.ScheduledDate() == nil || bk.ScheduledDurationHours() == nil {
		return nil
	}
	return &Appointment{
		Start:         *bk.ScheduledDate(),
		DurationHours: *bk.ScheduledDurationHours(),
		Title:         fmt.Sprintf("Tattoo appointment %s", bk.BookingNumber()),
		Sequence:      bk.RescheduleCount(),
	}
}

// retryable reports whether a failed webhook should be accepted again on redelivery.
func retryable(err error) bool {
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindInvalidTransition, domain.KindNotFound, domain.KindForbidden:
		return false
	}
	return true
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
