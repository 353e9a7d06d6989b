// Package bus implements the in-process typed event bus: filter-based
// subscriptions, per-subscription bounded dispatch queues, and per-source
// ordering guarantees. It is the substrate every other coordinator component
// publishes onto and subscribes from.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// OverflowPolicy controls what happens when a subscription's queue is full.
type OverflowPolicy int

const (
	// OverflowDropOldest discards the oldest queued event to make room for
	// the new one. Used by default for Notification/Error traffic.
	OverflowDropOldest OverflowPolicy = iota
	// OverflowBlock blocks the publisher up to a configured timeout, after
	// which the event is dropped. Used by default for Command/Query/Response.
	OverflowBlock
)

const defaultQueueCapacity = 1024
const defaultBlockTimeout = 2 * time.Second

// Handler processes a delivered event. A handler that panics has its panic
// recovered and logged; it never crashes the bus or other subscriptions.
type Handler func(ctx context.Context, ev Event)

// Metrics is a point-in-time snapshot of bus activity.
type Metrics struct {
	Published         int64
	Delivered         int64
	Dropped           int64
	HandlerErrors     int64
	ActiveSubscribers int
}

type subscription struct {
	id           string
	filter       Filter
	handler      Handler
	queue        chan Event
	pushMu       sync.Mutex
	policy       *OverflowPolicy
	blockTimeout time.Duration
	cancel       context.CancelFunc
	active       atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
	errors    atomic.Int64
}

func (s *subscription) resolvedPolicy(kind Kind) OverflowPolicy {
	if s.policy != nil {
		return *s.policy
	}
	return defaultOverflowPolicy(kind)
}

// SubscribeOption customizes a single subscription.
type SubscribeOption func(*subscription)

// WithQueueCapacity overrides the default bounded queue size (1024) for one subscription.
func WithQueueCapacity(capacity int) SubscribeOption {
	return func(s *subscription) {
		s.queue = make(chan Event, capacity)
	}
}

// WithOverflowPolicy pins a subscription to a fixed overflow policy instead
// of the per-event-kind default.
func WithOverflowPolicy(policy OverflowPolicy) SubscribeOption {
	return func(s *subscription) {
		s.policy = &policy
	}
}

// WithBlockTimeout overrides the default block-producer timeout (2s).
func WithBlockTimeout(d time.Duration) SubscribeOption {
	return func(s *subscription) {
		s.blockTimeout = d
	}
}

// Bus is the in-process typed publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	logger *slog.Logger

	published     atomic.Int64
	delivered     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64
}

// New constructs an empty Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler to receive every published event matching
// filter, starts its dispatcher goroutine, and returns a subscription id
// usable with Unsubscribe.
func (b *Bus) Subscribe(filter Filter, handler Handler, opts ...SubscribeOption) string {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:           uuid.NewString(),
		filter:       filter,
		handler:      handler,
		queue:        make(chan Event, defaultQueueCapacity),
		blockTimeout: defaultBlockTimeout,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(sub)
	}
	sub.active.Store(true)

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.dispatch(ctx, sub)

	return sub.id
}

// Unsubscribe removes a subscription. It is idempotent: unsubscribing an
// unknown or already-removed id is a no-op. In-flight dispatch to the
// handler may complete, but no further event reaches it afterward.
func (b *Bus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	sub, ok := b.subs[subscriptionID]
	if ok {
		delete(b.subs, subscriptionID)
	}
	b.mu.Unlock()

	if ok {
		sub.active.Store(false)
		sub.cancel()
	}
}

// Publish delivers ev to every matching, currently-active subscription.
// Publication itself is non-blocking with respect to handler execution;
// each subscription queues the event and a dedicated goroutine dispatches
// it. Publish only returns an error if ctx is already done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.published.Add(1)

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.active.Load() && sub.filter.Match(ev) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matched {
		b.enqueue(ctx, sub, ev)
	}
	return nil
}

func (b *Bus) enqueue(ctx context.Context, sub *subscription, ev Event) {
	policy := sub.resolvedPolicy(ev.Kind)

	sub.pushMu.Lock()
	defer sub.pushMu.Unlock()

	if !sub.active.Load() {
		return
	}

	switch policy {
	case OverflowDropOldest:
		select {
		case sub.queue <- ev:
			return
		default:
		}
		select {
		case <-sub.queue:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.emitOverflow(ctx, sub, ev)
		default:
		}
		select {
		case sub.queue <- ev:
		default:
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	case OverflowBlock:
		timer := time.NewTimer(sub.blockTimeout)
		defer timer.Stop()
		select {
		case sub.queue <- ev:
		case <-timer.C:
			sub.dropped.Add(1)
			b.dropped.Add(1)
			b.emitOverflow(ctx, sub, ev)
		case <-ctx.Done():
			sub.dropped.Add(1)
			b.dropped.Add(1)
		}
	}
}

// emitOverflow asynchronously republishes a subscription_overflow
// notification so observers can react; it never blocks the caller and never
// recurses synchronously into Publish.
func (b *Bus) emitOverflow(ctx context.Context, sub *subscription, dropped Event) {
	go func() {
		_ = b.Publish(context.Background(), Event{
			Name: "subscription_overflow",
			Kind: KindNotification,
			Payload: map[string]any{
				"subscription_id": sub.id,
				"dropped_event":   dropped.Name,
				"dropped_id":      dropped.ID,
			},
		})
	}()
}

func (b *Bus) dispatch(ctx context.Context, sub *subscription) {
	for {
		select {
		case ev := <-sub.queue:
			b.invoke(ctx, sub, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			sub.errors.Add(1)
			b.handlerErrors.Add(1)
			b.logger.ErrorContext(ctx, "bus handler panicked",
				"subscription_id", sub.id, "event", ev.Name, "recovered", r)
		}
	}()
	sub.handler(ctx, ev)
	sub.delivered.Add(1)
	b.delivered.Add(1)
}

// Metrics returns a snapshot of bus-wide activity counters.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	active := len(b.subs)
	b.mu.RUnlock()

	return Metrics{
		Published:         b.published.Load(),
		Delivered:         b.delivered.Load(),
		Dropped:           b.dropped.Load(),
		HandlerErrors:     b.handlerErrors.Load(),
		ActiveSubscribers: active,
	}
}
