package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkbook/service-booking/internal/application"
)

// StatusChannel is the Redis pub/sub channel carrying status updates between
// instances.
const StatusChannel = "booking:status"

const subscriberBuffer = 8

// Hub fans status updates out to the live viewers connected to this
// instance. It satisfies application.StatusBroadcaster on its own when the
// service runs as a single instance.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]map[chan application.StatusUpdate]struct{}
	logger *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		subs:   make(map[uuid.UUID]map[chan application.StatusUpdate]struct{}),
		logger: logger,
	}
}

// Subscribe returns a channel of updates for bookingID and a func that
// unsubscribes and closes it.
func (h *Hub) Subscribe(bookingID uuid.UUID) (<-chan application.StatusUpdate, func()) {
	ch := make(chan application.StatusUpdate, subscriberBuffer)

	h.mu.Lock()
	if h.subs[bookingID] == nil {
		h.subs[bookingID] = make(map[chan application.StatusUpdate]struct{})
	}
	h.subs[bookingID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[bookingID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, bookingID)
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of viewers of bookingID.
func (h *Hub) Subscribers(bookingID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[bookingID])
}

// Broadcast delivers update to local viewers. A viewer whose buffer is full
// misses the update; the reconciliation poller catches it up.
func (h *Hub) Broadcast(_ context.Context, update application.StatusUpdate) error {
	h.deliver(update)
	return nil
}

func (h *Hub) deliver(update application.StatusUpdate) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[update.BookingID] {
		select {
		case ch <- update:
		default:
			h.logger.Warn("status viewer is slow, dropping update",
				zap.String("booking_id", update.BookingID.String()),
				zap.Int64("version", update.Version),
			)
		}
	}
}

// RedisBroadcaster publishes status updates on Redis so every instance's Hub
// receives them.
type RedisBroadcaster struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRedisBroadcaster creates a broadcaster relaying through client to hub.
func NewRedisBroadcaster(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, hub: hub, logger: logger}
}

// Broadcast publishes update to StatusChannel.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, update application.StatusUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal status update: %w", err)
	}
	if err := b.client.Publish(ctx, StatusChannel, string(payload)).Err(); err != nil {
		return fmt.Errorf("publish status update: %w", err)
	}
	return nil
}

// Run relays updates from StatusChannel into the local hub until ctx is
// cancelled.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, StatusChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", StatusChannel, err)
	}
	b.logger.Info("status relay subscribed", zap.String("channel", StatusChannel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.relay(msg.Payload)
		}
	}
}

func (b *RedisBroadcaster) relay(payload string) {
	var update application.StatusUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		b.logger.Error("failed to decode status update", zap.Error(err))
		return
	}
	b.hub.deliver(update)
}
