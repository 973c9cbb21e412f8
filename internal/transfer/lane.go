package transfer

import (
	"context"
	"sync"
)

// waiter is a task's place in a lane queue. It is created at enqueue time
// and only becomes eligible for a slot once Run starts waiting on it.
type waiter struct {
	id      string
	waiting bool
	granted bool
	ready   chan struct{}
}

// lane is a bounded-concurrency gate. Slots are granted in enqueue order
// among the tasks currently waiting.
type lane struct {
	kind     Kind
	mu       sync.Mutex
	capacity int
	active   int
	queue    []*waiter
}

func newLane(kind Kind, capacity int) *lane {
	if capacity < 1 {
		capacity = 1
	}
	return &lane{kind: kind, capacity: capacity}
}

func (l *lane) push(id string) *waiter {
	w := &waiter{id: id, ready: make(chan struct{})}
	l.mu.Lock()
	l.queue = append(l.queue, w)
	l.mu.Unlock()
	return w
}

// acquire blocks until w holds a slot or ctx is done. On a ctx error the
// waiter leaves the queue and no slot is held.
func (l *lane) acquire(ctx context.Context, w *waiter) error {
	l.mu.Lock()
	w.waiting = true
	l.dispatchLocked()
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if w.granted {
		// Lost the race against dispatch; hand the slot back.
		l.active--
		l.dispatchLocked()
		l.mu.Unlock()
		return context.Cause(ctx)
	}
	l.removeLocked(w)
	l.mu.Unlock()
	return context.Cause(ctx)
}

func (l *lane) release() {
	l.mu.Lock()
	l.active--
	l.dispatchLocked()
	l.mu.Unlock()
}

// drop removes a waiter that will never run.
func (l *lane) drop(w *waiter) {
	if w == nil {
		return
	}
	l.mu.Lock()
	if !w.granted {
		l.removeLocked(w)
	}
	l.mu.Unlock()
}

func (l *lane) dispatchLocked() {
	for l.active < l.capacity {
		idx := -1
		for i, w := range l.queue {
			if w.waiting {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		w := l.queue[idx]
		l.queue = append(l.queue[:idx], l.queue[idx+1:]...)
		w.granted = true
		l.active++
		close(w.ready)
	}
}

func (l *lane) removeLocked(w *waiter) {
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// LaneStats reports lane occupancy.
type LaneStats struct {
	Kind     Kind `json:"kind"`
	Capacity int  `json:"capacity"`
	Active   int  `json:"active"`
	Queued   int  `json:"queued"`
}

func (l *lane) stats() LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LaneStats{Kind: l.kind, Capacity: l.capacity, Active: l.active, Queued: len(l.queue)}
}
