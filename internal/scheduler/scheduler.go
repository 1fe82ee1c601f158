// Package scheduler runs the cron polling loop that submits due watch items to the
// worker pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/schedule"
)

// DefaultInterval is the polling period used when Config.Interval is not positive.
const DefaultInterval = time.Minute

// Lister lists every watch item.
type Lister interface {
	ListWatchItems(ids ...string) ([]netwatch.WatchItem, error)
}

// Pool runs submitted batches in the background.
type Pool interface {
	Start()
	Submit(ctx context.Context, batch netwatch.Batch) error
	Shutdown(ctx context.Context) error
}

// PoolFactory builds a fresh pool for every Start.
type PoolFactory func() Pool

// Config controls the polling loop.
type Config struct {
	Interval time.Duration
}

// Scheduler evaluates every item's cron expression once per minute and submits the due
// ones as a single batch. Batches go through a backlog, so a busy pool never stalls the
// polling loop.
type Scheduler struct {
	store   Lister
	newPool PoolFactory
	clock   netwatch.Clock
	cfg     Config
	logger  *zap.Logger

	mu       sync.Mutex
	running  bool
	stopping bool
	run      *run
}

// run holds the goroutines and pool of one Start/Stop cycle.
type run struct {
	pool         Pool
	backlog      *backlog
	cancelLoop   context.CancelFunc
	cancelSubmit context.CancelFunc
	loopDone     chan struct{}
	submitDone   chan struct{}
}

// New constructs a stopped Scheduler.
func New(store Lister, newPool PoolFactory, clock netwatch.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		store:   store,
		newPool: newPool,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("scheduler"),
	}
}

// Start begins the polling loop on a fresh worker pool.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("start scheduler: %w: already running", netwatch.ErrInvalidState)
	}
	if s.stopping {
		return fmt.Errorf("start scheduler: %w: stop in progress", netwatch.ErrInvalidState)
	}
	pool := s.newPool()
	pool.Start()

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	submitCtx, cancelSubmit := context.WithCancel(context.Background())
	r := &run{
		pool:         pool,
		backlog:      newBacklog(),
		cancelLoop:   cancelLoop,
		cancelSubmit: cancelSubmit,
		loopDone:     make(chan struct{}),
		submitDone:   make(chan struct{}),
	}
	s.run = r
	s.running = true
	go s.loop(loopCtx, r)
	go s.submit(submitCtx, r)

	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Stop signals the loop, waits for it to exit, hands the backlog to the pool and shuts
// the pool down. Queued and in-flight batches drain unless ctx expires first, in which
// case they are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("stop scheduler: %w: not running", netwatch.ErrInvalidState)
	}
	r := s.run
	s.run = nil
	s.running = false
	s.stopping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.stopping = false
		s.mu.Unlock()
	}()

	r.cancelLoop()
	<-r.loopDone
	select {
	case <-r.submitDone:
	case <-ctx.Done():
		r.cancelSubmit()
		<-r.submitDone
	}
	r.cancelSubmit()

	err := r.pool.Shutdown(ctx)
	s.logger.Info("scheduler stopped")
	if err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	return nil
}

// Running reports whether the polling loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, r *run) {
	defer close(r.loopDone)
	defer r.backlog.close()

	last := s.tick(r.backlog, time.Time{})

	timer := time.NewTimer(s.nextDelay(last))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			last = s.tick(r.backlog, last)
			timer.Reset(s.nextDelay(last))
		}
	}
}

// nextDelay waits until the minute after last begins, but never longer than the interval.
func (s *Scheduler) nextDelay(last time.Time) time.Duration {
	delay := last.Add(time.Minute).Sub(s.clock.Now())
	if delay < 0 {
		return 0
	}
	if delay > s.cfg.Interval {
		return s.cfg.Interval
	}
	return delay
}

// submit hands backlog batches to the pool in order until the backlog is closed and
// empty or ctx ends.
func (s *Scheduler) submit(ctx context.Context, r *run) {
	defer close(r.submitDone)
	for {
		batch, ok := r.backlog.next(ctx)
		if !ok {
			break
		}
		if err := r.pool.Submit(ctx, batch); err != nil {
			s.logger.Error("submit due batch failed",
				zap.Time("minute", batch.Submitted),
				zap.Int("items", len(batch.IDs)),
				zap.Error(err),
			)
			continue
		}
		s.logger.Debug("submitted due batch", zap.Time("minute", batch.Submitted), zap.Strings("ids", batch.IDs))
	}
	if n := r.backlog.len(); n > 0 {
		s.logger.Warn("dropping undelivered due batches", zap.Int("batches", n))
	}
}

// tick evaluates the minute containing now unless it was already evaluated, queueing a
// batch when items are due. It returns the minute it evaluated.
func (s *Scheduler) tick(b *backlog, last time.Time) time.Time {
	minute := s.clock.Now().Truncate(time.Minute)
	if !last.IsZero() && !minute.After(last) {
		return last
	}

	ids := s.dueIDs(minute)
	metrics.ObserveDueItems(len(ids))
	if len(ids) > 0 {
		b.push(netwatch.Batch{IDs: ids, Source: netwatch.SourceScheduler, Submitted: minute})
	}
	return minute
}

func (s *Scheduler) dueIDs(minute time.Time) []string {
	items, err := s.store.ListWatchItems()
	if err != nil {
		s.logger.Error("list watch items failed", zap.Error(err))
		return nil
	}
	var ids []string
	for _, item := range items {
		sched, err := schedule.Parse(item.Frequency)
		if err != nil {
			s.logger.Warn("skipping item with invalid schedule",
				zap.String("item_id", item.ID),
				zap.String("frequency", item.Frequency),
				zap.Error(err),
			)
			continue
		}
		if schedule.Matches(sched, minute) {
			ids = append(ids, item.ID)
		}
	}
	return ids
}
