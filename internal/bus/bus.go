package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers name a
// path namespace; matching is segment-aware, so "rtdb/conversations"
// receives "rtdb/conversations/abc" but not "rtdb/conversations2".
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to all subscribers whose namespace covers event.Kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if matches(sub.namespace, evt.Kind) {
			select {
			case sub.ch <- evt:
			default:
				// Drop event if subscriber is full (non-blocking).
			}
		}
	}
}

// Subscribe returns a channel that receives events under the given namespace.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe
// function; unsubscribing is mandatory when the consumer goes away.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: strings.TrimSuffix(namespace, "/"), ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// matches reports whether kind falls under ns. The empty namespace matches
// every event; otherwise ns matches itself and anything below it across a
// '/' boundary.
func matches(ns, kind string) bool {
	if ns == "" || ns == kind {
		return true
	}
	return strings.HasPrefix(kind, ns) && len(kind) > len(ns) && kind[len(ns)] == '/'
}
