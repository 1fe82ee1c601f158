package scheduler

import (
	"context"
	"sync"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// backlog is an unbounded FIFO between the polling loop and the pool. push never blocks.
type backlog struct {
	mu      sync.Mutex
	batches []netwatch.Batch
	closed  bool
	signal  chan struct{}
}

func newBacklog() *backlog {
	return &backlog{signal: make(chan struct{}, 1)}
}

func (b *backlog) push(batch netwatch.Batch) {
	b.mu.Lock()
	b.batches = append(b.batches, batch)
	n := len(b.batches)
	b.mu.Unlock()
	metrics.SetSchedulerBacklog(n)
	b.wake()
}

// close lets next return false once the remaining batches are taken.
func (b *backlog) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

func (b *backlog) wake() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// next blocks until a batch is available. It returns false when the backlog is closed
// and empty, or when ctx ends.
func (b *backlog) next(ctx context.Context) (netwatch.Batch, bool) {
	for {
		b.mu.Lock()
		if len(b.batches) > 0 {
			batch := b.batches[0]
			b.batches[0] = netwatch.Batch{}
			b.batches = b.batches[1:]
			n := len(b.batches)
			b.mu.Unlock()
			metrics.SetSchedulerBacklog(n)
			return batch, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return netwatch.Batch{}, false
		}
		select {
		case <-ctx.Done():
			return netwatch.Batch{}, false
		case <-b.signal:
		}
	}
}

func (b *backlog) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches)
}
