package engine

import (
	"context"
	"sync"
)

// WorkQueue is an unbounded, blocking FIFO of work items shared by many
// producers and consumers. It does no de-duplication.
type WorkQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*WorkItem
	closed bool
}

// NewWorkQueue returns an empty queue.
func NewWorkQueue() *WorkQueue {
	q := &WorkQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add appends item to the tail and wakes one waiting consumer. It never
// blocks on consumers.
func (q *WorkQueue) Add(item *WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Take blocks until an item is available and removes it from the head.
// It returns ErrQueueClosed once the queue is closed, even if items
// remain, and ctx.Err() if ctx ends first.
func (q *WorkQueue) Take(ctx context.Context) (*WorkItem, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	switch {
	case q.closed:
		return nil, ErrQueueClosed
	case ctx.Err() != nil:
		// Pass on a signal this waiter may have absorbed.
		if len(q.items) > 0 {
			q.cond.Signal()
		}
		return nil, ctx.Err()
	}

	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return item, nil
}

// Peek returns the head item without removing it, or nil when empty.
func (q *WorkQueue) Peek() *WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len is the number of queued items.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes every waiter. Queued items are abandoned.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
