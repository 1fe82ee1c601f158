// Package worker implements the batch processing loop run by each pool worker.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/queue/memory"
)

// Queue is the consuming side of the batch queue.
type Queue interface {
	Dequeue(ctx context.Context) (netwatch.Batch, error)
}

// Processor runs one batch of watch items.
type Processor interface {
	ProcessAlerts(ctx context.Context, ids []string) ([]netwatch.WatchItem, error)
}

// Worker consumes batches and hands them to the processor.
type Worker struct {
	id        int
	queue     Queue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue Queue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		logger:    logger.Named("worker").With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming batches until the queue is closed and drained or ctx finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		batch, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued batch",
			zap.String("source", batch.Source),
			zap.Int("items", len(batch.IDs)),
		)
		w.process(ctx, batch)
	}
}

func (w *Worker) process(ctx context.Context, batch netwatch.Batch) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	changed, err := w.processor.ProcessAlerts(ctx, batch.IDs)
	if err != nil {
		metrics.ObserveBatch(batch.Source, "error")
		w.logger.Error("batch failed",
			zap.String("source", batch.Source),
			zap.Strings("ids", batch.IDs),
			zap.Error(err),
		)
		return
	}
	metrics.ObserveBatch(batch.Source, "ok")
	w.logger.Info("batch processed",
		zap.String("source", batch.Source),
		zap.Int("items", len(batch.IDs)),
		zap.Int("changed", len(changed)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
