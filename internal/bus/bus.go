// Package bus implements the notification bus that carries every event
// between the transports, the dispatcher, the order-book engine and
// application subscribers.
//
// Delivery contract: notifications are serialized bus-wide, at most one
// handler invocation is in flight at any instant. Handlers run
// synchronously on the draining goroutine in publish order. A handler
// may call Publish again; nested notifications are appended to the
// in-flight queue and drained before the outermost Publish returns, so
// reentrant publishing never deadlocks. A Publish that arrives from
// another goroutine while a drain is in progress enqueues and returns
// immediately; the draining goroutine delivers it.
//
// Routing all order-book mutations through this bus is what serializes
// them; the book engine relies on that discipline and holds no lock of
// its own.
package bus

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quantfall/goxfeed/internal/schema"
)

// Handler consumes one notification. It must not block indefinitely:
// while it runs, no other notification is delivered anywhere.
type Handler func(topic schema.Topic, payload any)

// Subscription is an explicit handle for one registered handler.
// Unsubscribe detaches it; a detached subscription is never invoked
// again once Unsubscribe returns registry-wise (an in-flight delivery
// snapshot may still contain it).
type Subscription struct {
	id    uuid.UUID
	topic schema.Topic
	bus   *Bus
	once  sync.Once
}

// Unsubscribe removes the subscription from the bus. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.topic, s.id)
	})
}

type notice struct {
	topic   schema.Topic
	payload any
}

type entry struct {
	id      uuid.UUID
	handler Handler
}

// Bus is the process-wide notification bus.
type Bus struct {
	logger *zap.Logger

	regMu sync.RWMutex
	subs  map[schema.Topic][]entry

	queueMu  sync.Mutex
	queue    []notice
	draining bool
}

// New constructs an empty bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger: logger.Named("bus"),
		subs:   make(map[schema.Topic][]entry),
	}
}

// Subscribe registers a handler for the topic and returns its handle.
func (b *Bus) Subscribe(topic schema.Topic, handler Handler) *Subscription {
	sub := &Subscription{id: uuid.New(), topic: topic, bus: b}
	b.regMu.Lock()
	b.subs[topic] = append(b.subs[topic], entry{id: sub.id, handler: handler})
	b.regMu.Unlock()
	return sub
}

func (b *Bus) remove(topic schema.Topic, id uuid.UUID) {
	b.regMu.Lock()
	defer b.regMu.Unlock()
	entries := b.subs[topic]
	for i, e := range entries {
		if e.id == id {
			b.subs[topic] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// Publish enqueues a notification and drains the queue unless another
// goroutine is already draining it.
func (b *Bus) Publish(topic schema.Topic, payload any) {
	b.queueMu.Lock()
	b.queue = append(b.queue, notice{topic: topic, payload: payload})
	if b.draining {
		b.queueMu.Unlock()
		return
	}
	b.draining = true
	b.queueMu.Unlock()

	for {
		b.queueMu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.queueMu.Unlock()
			return
		}
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.deliver(next)
	}
}

func (b *Bus) deliver(n notice) {
	b.regMu.RLock()
	entries := make([]entry, len(b.subs[n.topic]))
	copy(entries, b.subs[n.topic])
	b.regMu.RUnlock()

	for _, e := range entries {
		b.invoke(e, n)
	}
}

// invoke isolates handler panics so one bad subscriber cannot take the
// drain loop down with it.
func (b *Bus) invoke(e entry, n notice) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panic",
				zap.String("topic", string(n.topic)),
				zap.Any("panic", r))
		}
	}()
	e.handler(n.topic, n.payload)
}
