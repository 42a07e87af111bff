package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// MemoryHub is an in-process EventHub backed by buffered channels. A slow
// subscriber never stalls a run: events its buffer cannot absorb are
// counted and dropped.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]hubSub
	nextID uint64

	published atomic.Int64
	dropped   atomic.Int64
}

type hubSub struct {
	ch     chan StreamEvent
	filter EventFilter
}

// HubStats reports cumulative publish activity.
type HubStats struct {
	Published   int64
	Dropped     int64
	Subscribers int
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]hubSub)}
}

// Publish fans an event out to every subscriber whose filter matches.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.filter.matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription and returns its channel plus
// a cancel function that removes it.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan StreamEvent, defaultChannelBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = hubSub{ch: ch, filter: filter}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return ch, cancel, nil
}

// Stats returns publish counters and the current subscriber count.
func (h *MemoryHub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: n,
	}
}

var _ EventHub = (*MemoryHub)(nil)
