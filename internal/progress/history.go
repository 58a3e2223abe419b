package progress

import (
	"context"
	"sync"
	"time"
)

// History stores recent events and wakes waiters when new ones arrive.
type History struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
}

// NewHistory constructs a bounded event ring.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 512
	}
	h := &History{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Append assigns the next sequence number, stores the event and returns it.
func (h *History) Append(evt Event) Event {
	h.mu.Lock()
	h.nextSeq++
	evt.Seq = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	h.mu.Unlock()
	return evt
}

// Fetch returns up to limit events with sequence greater than since that
// match mediaID (0 matches all). When wait is true it blocks until at least
// one such event exists or ctx ends. The returned cursor is the latest
// sequence examined.
func (h *History) Fetch(ctx context.Context, since uint64, limit int, mediaID int64, wait bool) ([]Event, uint64, error) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit, mediaID)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		since = next
		h.cond.Wait()
	}
}

// Last returns the latest sequence number assigned.
func (h *History) Last() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextSeq
}

func (h *History) snapshotLocked(since uint64, limit int, mediaID int64) ([]Event, uint64) {
	var out []Event
	next := since
	for _, evt := range h.buffer {
		if evt.Seq <= since {
			continue
		}
		next = evt.Seq
		if mediaID != 0 && evt.MediaID != mediaID {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			return out, next
		}
	}
	if h.nextSeq > next {
		next = h.nextSeq
	}
	return out, next
}
