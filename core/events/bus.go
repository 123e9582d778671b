package events

import (
	"sync"
	"sync/atomic"
	"time"

	"usdengine/core/types"
)

// Bus renders emitted events, stamps them with a sequence number and fans
// them out to subscribers. Slow subscribers lose events instead of blocking
// the emitter.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan *types.Event
	nextID  uint64
	seq     atomic.Uint64
	dropped atomic.Uint64
	buffer  int
	now     func() time.Time
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[uint64]chan *types.Event), buffer: buffer, now: time.Now}
}

// Emit implements the Emitter interface.
func (b *Bus) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	rendered := Render(evt)
	rendered.Sequence = b.seq.Add(1)
	if rendered.Timestamp.IsZero() {
		rendered.Timestamp = b.now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- rendered:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release it; it closes the channel.
func (b *Bus) Subscribe() (<-chan *types.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *types.Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was
// full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
