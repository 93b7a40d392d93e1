package application

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/inkbook/service-booking/internal/platform/kafka"
)

type mockPaymentGateway struct {
	mock.Mock
}

func (m *mockPaymentGateway) CreateDepositSession(ctx context.Context, req DepositSessionRequest) (*GatewaySession, error) {
	args := m.Called(ctx, req)
	if s, ok := args.Get(0).(*GatewaySession); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPaymentGateway) ExpireSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *mockPaymentGateway) Refund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*RefundReceipt); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent []Notification
}

func (n *fakeNotifier) Dispatch(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.sent))
	for i, msg := range n.sent {
		out[i] = msg.Template
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.CloudEvent
}

func (p *recordingPublisher) PublishEvent(_ context.Context, _ string, event kafka.CloudEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type recordingBroadcaster struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, update StatusUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, update)
	return nil
}

func (b *recordingBroadcaster) all() []StatusUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]StatusUpdate(nil), b.updates...)
}

type memoryDedup struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (d *memoryDedup) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keys == nil {
		d.keys = make(map[string]bool)
	}
	if d.keys[key] {
		return false, nil
	}
	d.keys[key] = true
	return true, nil
}

func (d *memoryDedup) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
	return nil
}
