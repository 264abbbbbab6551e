// Package events fans committed ledger events out to live subscribers.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// Broadcaster fans out ledger events to all subscribers via buffered channels.
type Broadcaster struct {
	mu      sync.RWMutex
	subs    map[chan domain.LedgerEvent]struct{}
	buffer  int
	dropped atomic.Uint64
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan domain.LedgerEvent]struct{}),
		buffer: buffer,
	}
}

// Publish sends the event to all subscribers, dropping it for readers that lag behind.
func (b *Broadcaster) Publish(e domain.LedgerEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop slow consumer
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan domain.LedgerEvent {
	ch := make(chan domain.LedgerEvent, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan domain.LedgerEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
