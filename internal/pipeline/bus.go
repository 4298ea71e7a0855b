package pipeline

import (
	"sync"
	"sync/atomic"
)

// Event is emitted once for every finished utterance
type Event struct {
	Seq       uint64     `json:"seq"`
	Mode      string     `json:"mode"` // "stream" or "request"
	Outcome   Outcome    `json:"outcome"`
	Utterance *Utterance `json:"utterance"`
}

// Bus fans completed-utterance events out to subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event and the drop is
// counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	seq     atomic.Uint64
	dropped atomic.Uint64
	closed  bool
}

type subscription struct {
	ch   chan Event
	once sync.Once
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel; it is safe to call twice.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}
}

// Publish delivers an event for u to every subscriber
func (b *Bus) Publish(mode string, u *Utterance) {
	ev := Event{
		Seq:       b.seq.Add(1),
		Mode:      mode,
		Outcome:   u.Outcome(),
		Utterance: u,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to full subscriber buffers
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions receive a closed
// channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(b.subs, sub)
	}
}
