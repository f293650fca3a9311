package event

import (
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/burrow/logging"
)

// Handler is invoked with the payload passed to Fire. A nil payload is
// normalized to an empty map before delivery.
type Handler func(payload any)

type subscription struct {
	id      string
	name    string
	handler Handler
}

type queuedEvent struct {
	name    string
	payload any
}

// Bus is a synchronous publish/subscribe dispatcher. Handlers run on the
// caller's goroutine in subscription order. Fire iterates over a snapshot of
// the handler list taken at call time, so a handler may subscribe or
// unsubscribe without corrupting the in-flight delivery.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]*subscription
	byID     map[string]*subscription

	deferDepth int
	squash     bool
	deferred   []queuedEvent

	logger logging.Logger
}

// New constructs an empty bus. A nil logger is replaced with a NoOpLogger.
func New(logger logging.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]*subscription),
		byID:     make(map[string]*subscription),
		logger:   logging.OrNoOp(logger),
	}
}

// Subscribe registers a handler for the named event and returns the
// subscription id used to remove it later.
func (b *Bus) Subscribe(name string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{id: uuid.NewString(), name: name, handler: handler}
	b.handlers[name] = append(b.handlers[name], sub)
	b.byID[sub.id] = sub
	return sub.id
}

// Unsubscribe removes a subscription by id. It is idempotent and reports
// whether a subscription was actually removed.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	delete(b.byID, id)

	subs := b.handlers[sub.name]
	for i, s := range subs {
		if s.id == id {
			b.handlers[sub.name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[sub.name]) == 0 {
		delete(b.handlers, sub.name)
	}
	return true
}

// Fire delivers the payload to every handler registered for the named event.
// While a DeferEvents block is active the pair is queued instead; with
// squashing enabled, a pair identical (by name and deep payload equality) to
// one already queued is dropped.
func (b *Bus) Fire(name string, payload any) {
	if payload == nil {
		payload = map[string]any{}
	}

	b.mu.Lock()
	if b.deferDepth > 0 {
		if b.squash && b.isQueued(name, payload) {
			b.mu.Unlock()
			return
		}
		b.deferred = append(b.deferred, queuedEvent{name: name, payload: payload})
		b.mu.Unlock()
		return
	}
	snapshot := make([]*subscription, len(b.handlers[name]))
	copy(snapshot, b.handlers[name])
	b.mu.Unlock()

	b.logger.Debug("events: fire", "event", name)
	for _, sub := range snapshot {
		sub.handler(payload)
	}
}

// isQueued reports whether an identical (name, payload) pair is already
// queued. Caller must hold the mutex.
func (b *Bus) isQueued(name string, payload any) bool {
	for _, ev := range b.deferred {
		if ev.name == name && reflect.DeepEqual(ev.payload, payload) {
			return true
		}
	}
	return false
}

// DeferEvents queues every Fire issued by fn and flushes the queue, in
// order, after fn returns. Flushing uses ordinary Fire semantics: deferring
// is already off by then, so events fired by the flushed handlers themselves
// are delivered immediately.
//
// Blocks nest: an inner DeferEvents joins the outermost block, which flushes
// the whole queue on exit and whose squash setting governs.
func (b *Bus) DeferEvents(squashDuplicates bool, fn func()) {
	b.mu.Lock()
	b.deferDepth++
	if b.deferDepth == 1 {
		b.squash = squashDuplicates
		b.deferred = nil
	}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.deferDepth--
		if b.deferDepth > 0 {
			b.mu.Unlock()
			return
		}
		queued := b.deferred
		b.deferred = nil
		b.mu.Unlock()

		b.logger.Debug("events: firing deferred events", "count", len(queued))
		for _, ev := range queued {
			b.Fire(ev.name, ev.payload)
		}
	}()

	fn()
}

// Group collects subscriptions tied to one owner's lifetime so they can be
// released together. The owner must call Close when it is torn down; there
// is no finalizer fallback.
type Group struct {
	bus *Bus
	mu  sync.Mutex
	ids []string
}

// NewGroup returns an empty subscription group bound to the bus.
func (b *Bus) NewGroup() *Group {
	return &Group{bus: b}
}

// Subscribe registers a handler whose lifetime is scoped to the group.
func (g *Group) Subscribe(name string, handler Handler) string {
	id := g.bus.Subscribe(name, handler)
	g.mu.Lock()
	g.ids = append(g.ids, id)
	g.mu.Unlock()
	return id
}

// Close removes every subscription taken through the group. Closing an
// already-closed group is a no-op.
func (g *Group) Close() {
	g.mu.Lock()
	ids := g.ids
	g.ids = nil
	g.mu.Unlock()

	for _, id := range ids {
		g.bus.Unsubscribe(id)
	}
}
