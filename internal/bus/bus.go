package bus

import (
	"strings"
	"sync"
)

// Bus fans domain events out to namespace-scoped subscribers. It is the seam
// between the push transport, the registry, the caches and the daemon's
// watchers: producers publish by kind, consumers pick the prefix they care
// about and never see the rest.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers evt to every subscriber whose prefix matches evt.Kind.
// Delivery never blocks: a subscriber that stopped draining its channel
// loses events rather than stalling the publisher and everyone behind it.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Full buffer; drop for this subscriber only.
		}
	}
}

// Subscribe registers a consumer for all kinds starting with the given
// prefix ("" matches everything). bufSize is the drop threshold described on
// Publish. The second return value removes the subscription; the channel is
// not closed so late reads stay safe.
func (b *Bus) Subscribe(prefix string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
