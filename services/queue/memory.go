package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue for single-binary deployments and tests
type MemoryQueue struct {
	ready chan TaskMessage

	mu      sync.Mutex
	delayed []TaskMessage
	closed  bool
}

// NewMemoryQueue creates a queue holding up to capacity ready tasks
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{ready: make(chan TaskMessage, capacity)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, msg TaskMessage) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if !msg.DueAt(time.Now()) {
		q.delayed = append(q.delayed, msg)
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	select {
	case q.ready <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-q.ready:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &msg, nil
	case <-timer.C:
		return nil, ErrQueueEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	q.mu.Lock()
	var due, keep []TaskMessage
	for _, m := range q.delayed {
		if m.DueAt(now) {
			due = append(due, m)
		} else {
			keep = append(keep, m)
		}
	}
	q.delayed = keep
	q.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].PubDate.Before(*due[j].PubDate) })
	for i, m := range due {
		select {
		case q.ready <- m:
		case <-ctx.Done():
			// put back what was not promoted
			q.mu.Lock()
			q.delayed = append(q.delayed, due[i:]...)
			q.mu.Unlock()
			return i, ctx.Err()
		}
	}
	return len(due), nil
}

// Pending returns the number of scheduled (not yet due) tasks
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.delayed)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
	return nil
}
