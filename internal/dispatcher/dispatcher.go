// Package dispatcher fans queued localities out to a bounded worker pool.
// Each worker handles one item at a time, so a worker never owns more than
// one browser session.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/queue"
)

// Handler processes one item. Failures are the handler's to record; the pool
// always moves on to the next item.
type Handler func(ctx context.Context, item queue.Item)

// Dispatcher runs Handler over queue items with a fixed number of workers.
type Dispatcher struct {
	queue   queue.Queue
	workers int
	handler Handler
	logger  *zap.Logger
}

// New creates a Dispatcher with at least one worker.
func New(q queue.Queue, workers int, handler Handler, logger *zap.Logger) (*Dispatcher, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{queue: q, workers: workers, handler: handler, logger: logger}, nil
}

// Run starts the workers and blocks until the queue is closed and drained or
// ctx ends. Items already being handled run to completion.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	for {
		item, err := d.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) && ctx.Err() == nil {
				d.logger.Error("queue dequeue failed", zap.Int("worker", worker), zap.Error(err))
			}
			return
		}
		d.logger.Debug("dequeued locality", zap.Int("worker", worker), zap.String("locality", item.Locality))
		d.handler(ctx, item)
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item queue.Item) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Close stops intake; workers exit once the queue drains.
func (d *Dispatcher) Close() {
	d.queue.Close()
}
