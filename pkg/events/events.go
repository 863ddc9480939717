// Package events carries cross-cutting notifications between the HTTP
// adapter, the session store and the route guard, so the transport layer
// never performs navigation or session mutation itself.
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Type identifies an event.
type Type string

// Event types.
const (
	// SessionInvalidated is published when the backend rejects the
	// client's credentials.
	SessionInvalidated Type = "session_invalidated"

	// SessionStarted is published after a successful login or registration.
	SessionStarted Type = "session_started"

	// SessionEnded is published after an explicit logout.
	SessionEnded Type = "session_ended"
)

// Event is a single notification.
type Event struct {
	Type Type
	// Reason is a short machine-readable cause, e.g. "http_401".
	Reason string
	// Path is the request path that triggered the event, if any.
	Path string
	// TokenDigest identifies the credentials the backend rejected, see
	// TokenDigest. Empty when unknown.
	TokenDigest string
	At          time.Time
}

// TokenDigest returns a stable identifier for an access token that can be
// compared and logged without exposing the token. It is "" for "".
func TokenDigest(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not block.
type Handler func(Event)

// Bus is a synchronous publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]subscription
}

type subscription struct {
	types   map[Type]bool
	handler Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[int]subscription)}
}

// Subscribe registers h for the given event types, or for all events when
// none are given. The returned func removes the subscription.
func (b *Bus) Subscribe(h Handler, types ...Type) (unsubscribe func()) {
	sub := subscription{handler: h}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers e to every matching subscriber in subscription order.
// A panicking handler is logged and does not stop delivery.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	subs := make(map[int]subscription, len(b.handlers))
	for id, sub := range b.handlers {
		subs[id] = sub
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		sub := subs[id]
		if sub.types != nil && !sub.types[e.Type] {
			continue
		}
		deliver(sub.handler, e)
	}
}

func deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("events: handler panicked", "type", e.Type, "panic", r)
		}
	}()
	h(e)
}
