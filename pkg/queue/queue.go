// Package queue implements the per-match command queue: a bounded
// FIFO that admits player-submitted commands between ticks and drains
// them, in submission order, at the start of the next tick.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/simhost/platform/pkg/apierrors"
)

// Command is one player-submitted action awaiting application.
type Command struct {
	MatchID    string
	PlayerID   string
	Module     string
	Name       string
	Args       map[string]float32
	EnqueuedAt time.Time
}

// Queue is a single bounded FIFO. The zero value is not usable; use
// New.
type Queue struct {
	mu       sync.Mutex
	buf      []Command
	capacity int
	closed   bool
	notify   chan struct{}
}

// New creates a queue with room for capacity pending commands.
func New(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Enqueue appends a command. It returns a QUEUE_FULL error if the
// queue is already at capacity, and silently succeeds as a no-op if
// the queue has been closed — matching the message-bus convention of
// dropping rather than panicking on a closed channel.
func (q *Queue) Enqueue(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	if len(q.buf) >= q.capacity {
		return apierrors.New(apierrors.KindQueueFull, "command queue full", map[string]any{
			"match_id": cmd.MatchID,
			"capacity": q.capacity,
		})
	}
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}
	q.buf = append(q.buf, cmd)
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// DrainAll removes and returns every pending command in FIFO order,
// leaving the queue empty. This is what a container calls once per
// tick.
func (q *Queue) DrainAll() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := q.buf
	q.buf = nil
	return out
}

// Peek returns a copy of every pending command without removing them,
// in FIFO order, for read-only inspection (e.g. a commands list
// endpoint).
func (q *Queue) Peek() []Command {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	out := make([]Command, len(q.buf))
	copy(out, q.buf)
	return out
}

// Len reports the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Close marks the queue closed; further Enqueue calls are dropped
// silently.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

// WaitNonEmpty blocks until the queue has at least one pending
// command or ctx is done, returning false in the latter case. It waits
// on an enqueue notification rather than polling.
func (q *Queue) WaitNonEmpty(ctx context.Context) bool {
	for {
		q.mu.Lock()
		nonEmpty := len(q.buf) > 0
		q.mu.Unlock()
		if nonEmpty {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-q.notify:
		}
	}
}
