package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubscribeReceivesMatchingEvent(t *testing.T) {
	b := New(nil)
	var got Event
	done := make(chan struct{})

	b.Subscribe(NameFilter{Name: "task_assigned"}, func(ctx context.Context, ev Event) {
		got = ev
		close(done)
	})

	if err := b.Publish(context.Background(), Event{Name: "task_assigned", Kind: KindNotification}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	if got.Name != "task_assigned" {
		t.Fatalf("expected task_assigned, got %q", got.Name)
	}
}

func TestNonMatchingFilterNeverDelivers(t *testing.T) {
	b := New(nil)
	delivered := make(chan struct{}, 1)

	b.Subscribe(NameFilter{Name: "other_event"}, func(ctx context.Context, ev Event) {
		delivered <- struct{}{}
	})

	_ = b.Publish(context.Background(), Event{Name: "task_assigned", Kind: KindNotification})

	select {
	case <-delivered:
		t.Fatal("handler should not have received a non-matching event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotentAndStopsDelivery(t *testing.T) {
	b := New(nil)
	var count atomicCounter

	id := b.Subscribe(MatchAll, func(ctx context.Context, ev Event) {
		count.inc()
	})

	b.Unsubscribe(id)
	b.Unsubscribe(id) // must not panic or error

	_ = b.Publish(context.Background(), Event{Name: "x", Kind: KindNotification})
	time.Sleep(50 * time.Millisecond)

	if count.get() != 0 {
		t.Fatalf("expected no deliveries after unsubscribe, got %d", count.get())
	}
}

func TestPerSourceOrdering(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var order []int

	done := make(chan struct{})
	const total = 50

	b.Subscribe(SourceFilter{Sources: []string{"agent-1"}}, func(ctx context.Context, ev Event) {
		mu.Lock()
		order = append(order, ev.Payload.(int))
		if len(order) == total {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < total; i++ {
		_ = b.Publish(context.Background(), Event{Name: "seq", Kind: KindNotification, Source: "agent-1", Payload: i})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected strictly increasing order, got %v", order)
		}
	}
}

func TestHandlerPanicDoesNotCrashBus(t *testing.T) {
	b := New(nil)
	recoveredCh := make(chan struct{})

	b.Subscribe(NameFilter{Name: "boom"}, func(ctx context.Context, ev Event) {
		panic("handler exploded")
	})
	b.Subscribe(NameFilter{Name: "boom"}, func(ctx context.Context, ev Event) {
		close(recoveredCh)
	})

	_ = b.Publish(context.Background(), Event{Name: "boom", Kind: KindNotification})

	select {
	case <-recoveredCh:
	case <-time.After(time.Second):
		t.Fatal("expected the second subscription to still receive the event")
	}

	// The panicking subscription records its error on its own dispatcher
	// goroutine, which may still be running when the second handler fires.
	deadline := time.Now().Add(time.Second)
	for b.Metrics().HandlerErrors == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m := b.Metrics(); m.HandlerErrors == 0 {
		t.Fatal("expected a recorded handler error")
	}
}

func TestDropOldestOverflow(t *testing.T) {
	b := New(nil)
	var once sync.Once
	release := make(chan struct{})

	b.Subscribe(NameFilter{Name: "flood"}, func(ctx context.Context, ev Event) {
		once.Do(func() { <-release })
	}, WithQueueCapacity(2), WithOverflowPolicy(OverflowDropOldest))

	for i := 0; i < 10; i++ {
		_ = b.Publish(context.Background(), Event{Name: "flood", Kind: KindNotification, Payload: i})
	}
	close(release)

	time.Sleep(100 * time.Millisecond)
	if m := b.Metrics(); m.Dropped == 0 {
		t.Fatal("expected some events to be dropped under a tiny queue capacity")
	}
}

type atomicCounter struct {
	mu sync.Mutex
	n  int
}

func (c *atomicCounter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *atomicCounter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
