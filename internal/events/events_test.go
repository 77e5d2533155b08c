package events

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryPublisherRecordsEvents(t *testing.T) {
	ctx := context.Background()
	pub := &MemoryPublisher{}

	pub.Publish(ctx, OrderChanged{OrderID: "order-1", Kind: "created"})
	pub.Publish(ctx, OrderChanged{OrderID: "order-1", Kind: "matched"})

	got := pub.Events()
	if len(got) != 2 {
		t.Fatalf("recorded %d events, want 2", len(got))
	}
	if got[0].Kind != "created" || got[1].Kind != "matched" {
		t.Errorf("events out of order: %+v", got)
	}

	// The returned slice is a copy.
	got[0].Kind = "mutated"
	if pub.Events()[0].Kind != "created" {
		t.Error("Events() returned an aliased slice")
	}
}

func TestMemoryPublisherConcurrentPublish(t *testing.T) {
	ctx := context.Background()
	pub := &MemoryPublisher{}

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			pub.Publish(ctx, OrderChanged{OrderID: "order-1", Kind: "created"})
		}()
	}
	wg.Wait()

	if got := len(pub.Events()); got != n {
		t.Errorf("recorded %d events, want %d", got, n)
	}
}
