package escrow

import (
	"log/slog"
	"sync"

	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// DefaultSubscriptionBuffer is the channel depth for subscriptions that
// do not ask for a specific one.
const DefaultSubscriptionBuffer = 256

// Broker fans decoded ledger events out to live subscribers. Each
// subscription owns a bounded channel; a subscriber that cannot keep up
// loses events (counted, logged) rather than stalling the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	logger *slog.Logger
}

// Subscription is a handle to a live event feed. Drain Events() with a
// blocking receive; call Close to unsubscribe.
type Subscription struct {
	id     uint64
	ch     chan Event
	broker *Broker
	once   sync.Once
}

// Events returns the subscription's receive channel. It is closed when
// the subscription is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unsubscribes and closes the event channel. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s.id)
	})
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[uint64]*Subscription), logger: logger}
}

// Subscribe registers a new subscription with the given channel buffer
// (DefaultSubscriptionBuffer if <= 0).
func (b *Broker) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriptionBuffer
	}

	b.mu.Lock()
	b.nextID++
	sub := &Subscription{id: b.nextID, ch: make(chan Event, buffer), broker: b}
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(n))
	return sub
}

// Publish delivers an event to every subscriber without blocking. Full
// subscriber channels drop the event for that subscriber only.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			metrics.DroppedEventsTotal.Inc()
			b.logger.Warn("subscriber buffer full, dropping event",
				"subscription", sub.id, "kind", ev.Kind())
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(sub.ch)
	}
	n := len(b.subs)
	b.mu.Unlock()

	metrics.ActiveSubscriptions.Set(float64(n))
}
