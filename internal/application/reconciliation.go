package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bookingDomain "github.com/inkbook/service-booking/internal/domain/booking"
	"github.com/inkbook/service-booking/internal/platform/kafka"
)

// DefaultReconcileInterval is the fallback sweep period.
const DefaultReconcileInterval = 30 * time.Second

const expiredSweepLimit = 100

type watch struct {
	viewers int
	status  bookingDomain.BookingStatus
	version int64
	seen    bool
}

// ReconciliationPoller periodically re-reads bookings that live viewers are
// watching and pushes any change that arrived out-of-band. It also flags
// deposit sessions that expired unpaid. It never changes a booking's status.
type ReconciliationPoller struct {
	repo        bookingDomain.BookingRepository
	publisher   EventPublisher
	broadcaster StatusBroadcaster
	interval    time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu      sync.Mutex
	watched map[uuid.UUID]*watch
	flagged map[uuid.UUID]string
}

// NewReconciliationPoller creates a poller sweeping every interval.
func NewReconciliationPoller(
	repo bookingDomain.BookingRepository,
	publisher EventPublisher,
	broadcaster StatusBroadcaster,
	interval time.Duration,
	logger *zap.Logger,
) *ReconciliationPoller {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	return &ReconciliationPoller{
		repo:        repo,
		publisher:   publisher,
		broadcaster: broadcaster,
		interval:    interval,
		now:         time.Now,
		logger:      logger,
		watched:     make(map[uuid.UUID]*watch),
		flagged:     make(map[uuid.UUID]string),
	}
}

// Watch registers a live viewer of id. The returned func unregisters it.
func (p *ReconciliationPoller) Watch(id uuid.UUID) func() {
	p.mu.Lock()
	w, ok := p.watched[id]
	if !ok {
		w = &watch{}
		p.watched[id] = w
	}
	w.viewers++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if w, ok := p.watched[id]; ok {
				w.viewers--
				if w.viewers <= 0 {
					delete(p.watched, id)
				}
			}
		})
	}
}

// Watching returns the number of bookings with live viewers.
func (p *ReconciliationPoller) Watching() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watched)
}

// Run sweeps on every tick until ctx is cancelled.
func (p *ReconciliationPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("reconciliation poller started", zap.Duration("interval", p.interval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconciliation poller stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (p *ReconciliationPoller) Sweep(ctx context.Context) {
	p.refreshWatched(ctx)
	p.flagExpiredDeposits(ctx)
}

func (p *ReconciliationPoller) refreshWatched(ctx context.Context) {
	p.mu.Lock()
	ids := make([]uuid.UUID, 0, len(p.watched))
	for id := range p.watched {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	now := p.now().UTC()
	for _, id := range ids {
		bk, err := p.repo.FindByID(ctx, id)
		if err != nil {
			p.logger.Warn("reconciliation read failed", zap.String("booking_id", id.String()), zap.Error(err))
			continue
		}

		p.mu.Lock()
		w, ok := p.watched[id]
		changed := ok && (!w.seen || w.status != bk.Status() || w.version != bk.Version())
		if ok {
			w.seen, w.status, w.version = true, bk.Status(), bk.Version()
		}
		p.mu.Unlock()
		if !changed {
			continue
		}

		update := StatusUpdate{
			BookingID: bk.ID(),
			Status:    bk.Status(),
			Version:   bk.Version(),
			Expired:   bk.DepositExpired(now),
			UpdatedAt: bk.UpdatedAt(),
		}
		if err := p.broadcaster.Broadcast(ctx, update); err != nil {
			p.logger.Warn("failed to broadcast reconciled status", zap.String("booking_id", id.String()), zap.Error(err))
		}
	}
}

// flagExpiredDeposits publishes one deposit_expired event per lapsed session.
func (p *ReconciliationPoller) flagExpiredDeposits(ctx context.Context) {
	now := p.now().UTC()
	expired, err := p.repo.FindExpiredDepositRequests(ctx, now, expiredSweepLimit)
	if err != nil {
		p.logger.Error("failed to find expired deposit requests", zap.Error(err))
		return
	}

	current := make(map[uuid.UUID]bool, len(expired))
	for _, bk := range expired {
		current[bk.ID()] = true
	}
	if len(expired) < expiredSweepLimit {
		p.mu.Lock()
		for id := range p.flagged {
			if !current[id] {
				delete(p.flagged, id)
			}
		}
		p.mu.Unlock()
	}

	for _, bk := range expired {
		p.mu.Lock()
		already := p.flagged[bk.ID()] == bk.DepositSessionID()
		p.mu.Unlock()
		if already {
			continue
		}

		evt := bookingDomain.DepositExpiredEvent{
			BookingID:     bk.ID(),
			BookingNumber: bk.BookingNumber(),
			StudioID:      bk.StudioID(),
			SessionID:     bk.DepositSessionID(),
			ExpiredAt:     *bk.DepositRequestExpiresAt(),
			OccurredAt:    now,
		}
		cloudEvent, err := kafka.NewCloudEvent(eventSource, bookingDomain.EventDepositExpired, evt)
		if err != nil {
			p.logger.Error("failed to create cloud event", zap.Error(err))
			continue
		}
		cloudEvent.Subject = bk.ID().String()
		if err := p.publisher.PublishEvent(ctx, bookingDomain.TopicBookingEvents, cloudEvent); err != nil {
			p.logger.Error("failed to publish deposit expiry",
				zap.String("booking_id", bk.ID().String()),
				zap.Error(err),
			)
			continue
		}

		p.mu.Lock()
		p.flagged[bk.ID()] = bk.DepositSessionID()
		p.mu.Unlock()

		p.logger.Info("deposit session expired unpaid",
			zap.String("booking_id", bk.ID().String()),
			zap.String("session_id", bk.DepositSessionID()),
		)
		if err := p.broadcaster.Broadcast(ctx, StatusUpdate{
			BookingID: bk.ID(),
			Status:    bk.Status(),
			Version:   bk.Version(),
			Expired:   true,
			UpdatedAt: bk.UpdatedAt(),
		}); err != nil {
			p.logger.Warn("failed to broadcast deposit expiry", zap.String("booking_id", bk.ID().String()), zap.Error(err))
		}
	}
}
