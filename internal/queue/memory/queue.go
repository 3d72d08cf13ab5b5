// Package memory provides a bounded in-process queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/sold-listings-crawler/internal/queue"
)

// Queue is a bounded channel queue with context-aware operations.
type Queue struct {
	ch      chan queue.Item
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a queue holding up to capacity items.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan queue.Item, capacity)}
}

// Enqueue pushes item or returns when ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item queue.Item) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item. After Close it drains what is left and then
// returns queue.ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (queue.Item, error) {
	if err := ctx.Err(); err != nil {
		return queue.Item{}, fmt.Errorf("dequeue canceled: %w", err)
	}
	select {
	case <-ctx.Done():
		return queue.Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return queue.Item{}, queue.ErrClosed
		}
		return item, nil
	}
}

// Close stops intake. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
