// Package queue defines the work queue localities are dispatched through.
package queue

import (
	"context"
	"errors"
)

// ErrClosed is returned by Dequeue once a closed queue is drained.
var ErrClosed = errors.New("queue closed")

// Item is one locality waiting to be crawled. Index is its position in the
// run's locality list.
type Item struct {
	Index    int
	Locality string
}

// Queue hands out items to workers.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
	Close()
}
