// Package memory provides the bounded in-memory batch queue feeding the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once a closed queue is drained.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch chan netwatch.Batch

	// mu is read-held by senders so Close never closes ch under an active send.
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan netwatch.Batch, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a batch, blocking while the queue is full.
func (q *Queue) Enqueue(ctx context.Context, batch netwatch.Batch) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- batch:
		return nil
	}
}

// Dequeue pops the next batch. After Close it keeps returning queued batches until the
// queue is empty, then ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (netwatch.Batch, error) {
	select {
	case <-ctx.Done():
		return netwatch.Batch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case batch, ok := <-q.ch:
		if !ok {
			return netwatch.Batch{}, ErrClosed
		}
		return batch, nil
	}
}

// Len reports the number of queued batches.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting batches. It is safe to call more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		close(q.ch)
		q.mu.Unlock()
	})
}
