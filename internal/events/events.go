package events

import (
	"context"
	"sync"
)

// OrderChanged is emitted on every applied order transition. Delivery and
// fan-out beyond the hub are the subscriber's concern.
type OrderChanged struct {
	OrderID string `json:"orderId"`
	Kind    string `json:"kind"`
}

type Publisher interface {
	Publish(ctx context.Context, ev OrderChanged)
}

// MemoryPublisher records events for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []OrderChanged
}

func (p *MemoryPublisher) Publish(ctx context.Context, ev OrderChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *MemoryPublisher) Events() []OrderChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]OrderChanged(nil), p.events...)
}

// NopPublisher drops events.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev OrderChanged) {}
