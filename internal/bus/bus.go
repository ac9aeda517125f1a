// Package bus is the in-process activity broadcast queue. Publishers
// never block: the shared ring and every subscriber queue drop their
// oldest entry on overflow, and a subscriber that cannot be delivered to
// is disconnected. Events can optionally be mirrored to NATS for
// out-of-process consumers.
package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/aurictrade/auric/internal/config"
	"github.com/aurictrade/auric/internal/metrics"
)

const (
	// defaultCapacity is the shared ring size
	defaultCapacity = 10000
	// subscriberQueueSize bounds each subscriber's private queue
	subscriberQueueSize = 256
)

// Event is one activity envelope
type Event struct {
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp int64                  `json:"timestamp"` // unix milliseconds
}

// NewEvent builds an envelope stamped now
func NewEvent(eventType string, payload map[string]interface{}) Event {
	return Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

type subscriber struct {
	id uuid.UUID
	ch chan Event
}

// Bus is the broadcast queue. A single fanout goroutine owns delivery so
// publishers only ever touch the shared ring.
type Bus struct {
	mu          sync.Mutex
	ring        []Event
	capacity    int
	subscribers map[uuid.UUID]*subscriber
	wake        chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	nc      *nats.Conn
	subject string
	logger  zerolog.Logger
}

// Option configures the bus
type Option func(*Bus)

// WithCapacity overrides the shared ring capacity
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithNATS mirrors every published event to the subject
func WithNATS(nc *nats.Conn, subject string) Option {
	return func(b *Bus) {
		b.nc = nc
		b.subject = subject
	}
}

// New creates and starts a bus
func New(opts ...Option) *Bus {
	b := &Bus{
		capacity:    defaultCapacity,
		subscribers: map[uuid.UUID]*subscriber{},
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		logger:      config.NewLogger("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.fanout()
	return b
}

// Publish enqueues an event, dropping the oldest when the ring is full.
// It never blocks on subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	if len(b.ring) >= b.capacity {
		b.ring = b.ring[1:]
		metrics.BusDropped.Inc()
	}
	b.ring = append(b.ring, event)
	b.mu.Unlock()

	metrics.BusPublished.Inc()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	if b.nc != nil {
		if data, err := json.Marshal(event); err == nil {
			if err := b.nc.Publish(b.subject, data); err != nil {
				b.logger.Warn().Err(err).Msg("NATS mirror publish failed")
			}
		}
	}
}

// Subscribe registers a consumer. The returned channel yields events in
// publish order; it is closed when ctx ends, the bus closes, or the
// subscriber falls too far behind.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	sub := &subscriber{
		id: uuid.New(),
		ch: make(chan Event, subscriberQueueSize),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	metrics.BusSubscribers.Inc()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
		}
		b.unsubscribe(sub.id)
	}()

	return sub.ch
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.mu.Unlock()
	if ok {
		metrics.BusSubscribers.Dec()
	}
}

// fanout drains the ring to every subscriber. A subscriber whose queue is
// full is disconnected rather than slowing anyone down.
func (b *Bus) fanout() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}

		for {
			b.mu.Lock()
			if len(b.ring) == 0 {
				b.mu.Unlock()
				break
			}
			event := b.ring[0]
			b.ring = b.ring[1:]

			var slow []uuid.UUID
			for id, sub := range b.subscribers {
				select {
				case sub.ch <- event:
				default:
					slow = append(slow, id)
				}
			}
			b.mu.Unlock()

			for _, id := range slow {
				b.logger.Warn().Str("subscriber", id.String()).
					Msg("Disconnecting slow subscriber")
				metrics.BusDropped.Inc()
				b.unsubscribe(id)
			}
		}
	}
}

// Close stops fanout and disconnects every subscriber
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		ids := make([]uuid.UUID, 0, len(b.subscribers))
		for id := range b.subscribers {
			ids = append(ids, id)
		}
		b.mu.Unlock()

		for _, id := range ids {
			b.unsubscribe(id)
		}
	})
}
