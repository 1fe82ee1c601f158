// Package processor runs the fetch, hash, compare and notify pipeline for a batch of
// watch items.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// Config controls Processor behavior.
type Config struct {
	// NotifyOnFirstFetch treats an item's first successful fetch as a change. When false
	// the first hash is stored silently.
	NotifyOnFirstFetch bool
	// SnapshotPrefix is the blob path prefix for snapshots of changed content.
	SnapshotPrefix string
	// Topic receives one change event per changed item when a Publisher is set.
	Topic string
}

// Store is the subset of the datastore the processor needs.
type Store interface {
	ListWatchItems(ids ...string) ([]netwatch.WatchItem, error)
	SetHash(id, hash string) (netwatch.WatchItem, error)
	AppendChangeLog(text, link string) netwatch.ChangeLogEntry
}

// Notifier delivers notifications for a batch of changed items.
type Notifier interface {
	Notify(ctx context.Context, changed []netwatch.WatchItem) error
}

// ChangeEvent is published for every detected change.
type ChangeEvent struct {
	ItemID    string    `json:"item_id"`
	Name      string    `json:"name"`
	Link      string    `json:"link"`
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// Option customizes a Processor.
type Option func(*Processor)

// WithBlobStore stores a snapshot of each changed page.
func WithBlobStore(store netwatch.BlobStore) Option {
	return func(p *Processor) { p.blobStore = store }
}

// WithPublisher publishes a ChangeEvent for each changed page.
func WithPublisher(pub netwatch.Publisher) Option {
	return func(p *Processor) { p.publisher = pub }
}

// Processor detects content changes and triggers notifications.
type Processor struct {
	store     Store
	fetcher   netwatch.Fetcher
	hasher    netwatch.Hasher
	notifier  Notifier
	clock     netwatch.Clock
	blobStore netwatch.BlobStore
	publisher netwatch.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Processor.
func New(
	store Store,
	fetcher netwatch.Fetcher,
	hasher netwatch.Hasher,
	notifier Notifier,
	clock netwatch.Clock,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Processor{
		store:    store,
		fetcher:  fetcher,
		hasher:   hasher,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessAlerts fetches each item in order, records changes and notifies once for the
// whole batch. It returns copies of the changed items carrying their new hash. An unknown
// ID aborts the batch before any fetch; fetch and notification failures do not.
func (p *Processor) ProcessAlerts(ctx context.Context, ids []string) ([]netwatch.WatchItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	items, err := p.store.ListWatchItems(ids...)
	if err != nil {
		return nil, fmt.Errorf("list watch items: %w", err)
	}

	changed := make([]netwatch.WatchItem, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("batch canceled",
				zap.Int("processed_changes", len(changed)),
				zap.Error(err),
			)
			break
		}
		updated, isChange, ok := p.processItem(ctx, item)
		if ok && isChange {
			changed = append(changed, updated)
		}
	}

	if len(changed) > 0 {
		if err := p.notifier.Notify(ctx, changed); err != nil {
			p.logger.Error("notification dispatch failed",
				zap.Int("changed", len(changed)),
				zap.Error(err),
			)
		}
	}
	return changed, nil
}

// processItem returns the updated item, whether it counts as a change, and whether the
// hash was stored.
func (p *Processor) processItem(ctx context.Context, item netwatch.WatchItem) (netwatch.WatchItem, bool, bool) {
	logger := p.logger.With(zap.String("item_id", item.ID), zap.String("url", item.Link))

	res, err := p.fetcher.Fetch(ctx, netwatch.FetchRequest{
		ItemID:   item.ID,
		URL:      item.Link,
		Selector: item.Selector,
	})
	if err != nil {
		logger.Warn("fetch failed", zap.Error(err))
		return netwatch.WatchItem{}, false, false
	}
	hash, err := p.hasher.Hash(res.Body)
	if err != nil {
		logger.Error("hash failed", zap.Error(err))
		return netwatch.WatchItem{}, false, false
	}
	if hash == item.Hash {
		logger.Debug("unchanged", zap.String("hash", hash))
		return item, false, true
	}

	firstFetch := item.Hash == ""
	updated, err := p.store.SetHash(item.ID, hash)
	if err != nil {
		if errors.Is(err, netwatch.ErrNotFound) {
			logger.Info("item deleted during batch")
		} else {
			logger.Error("store hash failed", zap.Error(err))
		}
		return netwatch.WatchItem{}, false, false
	}
	if firstFetch && !p.cfg.NotifyOnFirstFetch {
		logger.Info("baseline hash stored", zap.String("hash", hash))
		return updated, false, true
	}

	p.store.AppendChangeLog(fmt.Sprintf("%s: %s", updated.Name, updated.Alert), updated.Link)
	metrics.ObserveChange()
	logger.Info("change detected",
		zap.String("old_hash", item.Hash),
		zap.String("new_hash", hash),
	)
	p.snapshot(ctx, logger, updated, res.Body)
	p.publish(ctx, logger, updated)
	return updated, true, true
}

func (p *Processor) snapshot(ctx context.Context, logger *zap.Logger, item netwatch.WatchItem, body []byte) {
	if p.blobStore == nil {
		return
	}
	uri, err := p.blobStore.PutObject(ctx, p.snapshotPath(item), "text/html; charset=utf-8", body)
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return
	}
	logger.Debug("snapshot stored", zap.String("uri", uri))
}

func (p *Processor) publish(ctx context.Context, logger *zap.Logger, item netwatch.WatchItem) {
	if p.publisher == nil || p.cfg.Topic == "" {
		return
	}
	event := ChangeEvent{
		ItemID:    item.ID,
		Name:      item.Name,
		Link:      item.Link,
		Hash:      item.Hash,
		Timestamp: p.clock.Now(),
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, event)
	if err != nil {
		logger.Warn("change event publish failed", zap.Error(err))
		return
	}
	logger.Debug("change event published", zap.String("message_id", id))
}

func (p *Processor) snapshotPath(item netwatch.WatchItem) string {
	prefix := strings.Trim(p.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", item.ID, item.Hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, item.ID, item.Hash)
}
