// Package dispatcher manages worker fan-out over the batch queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/queue/memory"
	"github.com/JakeFAU/netwatch/internal/worker"
)

// DefaultWorkers is the pool size used when Config.Workers is not positive.
const DefaultWorkers = 3

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Pool fans queued batches out to a fixed set of workers.
type Pool struct {
	queue   *memory.Queue
	workers []*worker.Worker
	logger  *zap.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a Pool. Workers do not run until Start.
func New(cfg Config, processor worker.Processor, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers
	}
	q := memory.NewQueue(cfg.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		workers = append(workers, worker.New(i, q, processor, logger))
	}
	return &Pool{
		queue:   q,
		workers: workers,
		logger:  logger.Named("dispatcher"),
		done:    make(chan struct{}),
	}
}

// Start launches the workers. Calls after the first are ignored.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		var wg sync.WaitGroup
		for _, w := range p.workers {
			wg.Add(1)
			go func(wk *worker.Worker) {
				defer wg.Done()
				wk.Run(ctx)
			}(w)
		}
		go func() {
			wg.Wait()
			close(p.done)
		}()
		p.logger.Info("worker pool started", zap.Int("workers", len(p.workers)))
	})
}

// Submit enqueues a batch without waiting for it to run.
func (p *Pool) Submit(ctx context.Context, batch netwatch.Batch) error {
	if err := p.queue.Enqueue(ctx, batch); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Shutdown stops accepting batches and waits for queued and in-flight work to finish.
// If ctx expires first the workers are cancelled and Shutdown waits for them to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.queue.Close()
	p.startOnce.Do(func() { close(p.done) })

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	}
	p.logger.Warn("shutdown deadline reached; cancelling in-flight batches",
		zap.Int("queued", p.queue.Len()),
	)
	p.cancel()
	<-p.done
	return fmt.Errorf("pool shutdown: %w", ctx.Err())
}
