package live

import (
	"sync"

	"github.com/MrWong99/telecaller/pkg/audio"
)

// outbox is a bounded FIFO of pending realtime input. When full, the oldest
// blob is discarded to make room.
type outbox struct {
	mu      sync.Mutex
	items   []audio.Blob
	limit   int
	dropped uint64

	// ready has capacity one and is signalled whenever items become non-empty.
	ready chan struct{}
}

func newOutbox(limit int) *outbox {
	if limit <= 0 {
		limit = defaultQueueSize
	}
	return &outbox{
		items: make([]audio.Blob, 0, limit),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// push appends b and reports whether an older blob had to be dropped.
func (q *outbox) push(b audio.Blob) (dropped bool) {
	q.mu.Lock()
	if len(q.items) == q.limit {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
		dropped = true
	}
	q.items = append(q.items, b)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

// take removes and returns everything queued.
func (q *outbox) take() []audio.Blob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := make([]audio.Blob, len(q.items))
	copy(out, q.items)
	q.items = q.items[:0]
	return out
}

// clear discards everything queued.
func (q *outbox) clear() {
	q.mu.Lock()
	q.items = q.items[:0]
	q.mu.Unlock()
}

func (q *outbox) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *outbox) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
