// Package datastore owns all NetWatch state: watch items, the change log, and the
// user-facing configuration map. Every operation runs under one exclusive lock and
// returns copies, so callers never alias stored state.
package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/netwatch/internal/clock/system"
	"github.com/JakeFAU/netwatch/internal/id/uuid"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// MaxChangeLogEntries caps the change log; older entries are evicted first.
const MaxChangeLogEntries = 500

// maxIDAttempts bounds regeneration on an ID collision.
const maxIDAttempts = 5

// Snapshot is the durable form of the store's state.
type Snapshot struct {
	Items     map[string]netwatch.WatchItem
	ChangeLog []netwatch.ChangeLogEntry
	Config    map[string]string
}

// Backend loads and saves snapshots to durable storage.
type Backend interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
	Close() error
}

// Option customizes a Store.
type Option func(*Store)

// WithIDGenerator overrides the UUID generator.
func WithIDGenerator(gen netwatch.IDGenerator) Option {
	return func(s *Store) { s.idGen = gen }
}

// WithClock overrides the clock used to timestamp change-log entries.
func WithClock(clock netwatch.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// Store is the single source of truth for NetWatch state.
type Store struct {
	mu        sync.Mutex
	items     map[string]netwatch.WatchItem
	changeLog []netwatch.ChangeLogEntry
	config    map[string]string

	// persistMu orders concurrent Persist calls; it is never held together with mu.
	persistMu sync.Mutex
	backend   Backend

	idGen    netwatch.IDGenerator
	clock    netwatch.Clock
	validate *validator.Validate
}

// Open builds a Store and loads its state from backend. A nil backend keeps state in
// memory only and makes Persist a no-op.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{
		items:    make(map[string]netwatch.WatchItem),
		config:   make(map[string]string),
		backend:  backend,
		idGen:    uuid.New(),
		clock:    system.New(nil),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if backend == nil {
		return s, nil
	}
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	for id, item := range snap.Items {
		ct, err := netwatch.ParseContentType(string(item.ContentType))
		if err != nil {
			return nil, fmt.Errorf("load state: watch item %q: %w", id, err)
		}
		item.ID = id
		item.ContentType = ct
		s.items[id] = item
	}
	s.changeLog = truncateLog(append([]netwatch.ChangeLogEntry(nil), snap.ChangeLog...))
	for k, v := range snap.Config {
		s.config[k] = v
	}
	return s, nil
}

// ListWatchItems returns copies of all items (sorted by name, then ID) or, when ids are
// given, of exactly those items in request order. Any unknown ID fails the whole call.
func (s *Store) ListWatchItems(ids ...string) ([]netwatch.WatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		out := make([]netwatch.WatchItem, 0, len(s.items))
		for _, item := range s.items {
			out = append(out, item)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Name != out[j].Name {
				return out[i].Name < out[j].Name
			}
			return out[i].ID < out[j].ID
		})
		return out, nil
	}
	out := make([]netwatch.WatchItem, 0, len(ids))
	for _, id := range ids {
		item, ok := s.items[id]
		if !ok {
			return nil, netwatch.NotFoundf("watch item %q", id)
		}
		out = append(out, item)
	}
	return out, nil
}

// CreateWatchItem validates fields, assigns a fresh ID and stores the item. The hash is
// always reset so the first successful fetch establishes the baseline.
func (s *Store) CreateWatchItem(fields netwatch.WatchItem) (netwatch.WatchItem, error) {
	item := fields
	item.Hash = ""
	if item.ContentType == "" {
		item.ContentType = netwatch.ContentTypePlain
	}
	if err := s.validateItem(item); err != nil {
		return netwatch.WatchItem{}, err
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.idGen.NewID()
		if err != nil {
			return netwatch.WatchItem{}, fmt.Errorf("generate watch item id: %w", err)
		}
		item.ID = id
		if s.insertIfAbsent(item) {
			return item, nil
		}
	}
	return netwatch.WatchItem{}, fmt.Errorf("generate watch item id: %d collisions", maxIDAttempts)
}

func (s *Store) insertIfAbsent(item netwatch.WatchItem) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return false
	}
	s.items[item.ID] = item
	return true
}

// UpdateWatchItem applies the supplied fields to the stored item. The merged item is
// validated before it replaces the stored one.
func (s *Store) UpdateWatchItem(id string, update netwatch.WatchItemUpdate) (netwatch.WatchItem, error) {
	if update.ContentType != nil {
		if _, err := netwatch.ParseContentType(string(*update.ContentType)); err != nil {
			return netwatch.WatchItem{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[id]
	if !ok {
		return netwatch.WatchItem{}, netwatch.NotFoundf("watch item %q", id)
	}
	next := update.Apply(current)
	next.ID = id
	if err := s.validateItem(next); err != nil {
		return netwatch.WatchItem{}, err
	}
	s.items[id] = next
	return next, nil
}

// SetHash records a new content hash. Only the hash changes, so the item is not
// re-validated.
func (s *Store) SetHash(id, hash string) (netwatch.WatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return netwatch.WatchItem{}, netwatch.NotFoundf("watch item %q", id)
	}
	item.Hash = hash
	s.items[id] = item
	return item, nil
}

// DeleteWatchItem removes and returns the item.
func (s *Store) DeleteWatchItem(id string) (netwatch.WatchItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return netwatch.WatchItem{}, netwatch.NotFoundf("watch item %q", id)
	}
	delete(s.items, id)
	return item, nil
}

// AppendChangeLog inserts an entry at the front of the log and evicts beyond the cap.
func (s *Store) AppendChangeLog(text, link string) netwatch.ChangeLogEntry {
	entry := netwatch.ChangeLogEntry{
		Timestamp: s.clock.Now(),
		Text:      text,
		Link:      link,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changeLog = append(s.changeLog, netwatch.ChangeLogEntry{})
	copy(s.changeLog[1:], s.changeLog)
	s.changeLog[0] = entry
	s.changeLog = truncateLog(s.changeLog)
	return entry
}

// ListChangeLog returns the log newest-first.
func (s *Store) ListChangeLog() []netwatch.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]netwatch.ChangeLogEntry, len(s.changeLog))
	copy(out, s.changeLog)
	return out
}

// GetConfig returns one configuration value.
func (s *Store) GetConfig(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.config[key]
	if !ok {
		return "", netwatch.NotFoundf("config key %q", key)
	}
	return value, nil
}

// ConfigMap returns a copy of the whole configuration map.
func (s *Store) ConfigMap() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneConfig(s.config)
}

// UpdateConfig overwrites existing keys. Keys not yet present are written only when
// allowNewKeys is set; otherwise they are skipped and returned so callers can warn.
func (s *Store) UpdateConfig(values map[string]string, allowNewKeys bool) []string {
	var skipped []string
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range values {
		if _, exists := s.config[key]; exists || allowNewKeys {
			s.config[key] = value
			continue
		}
		skipped = append(skipped, key)
	}
	sort.Strings(skipped)
	return skipped
}

// Persist writes the current state to the backend. The snapshot is taken under the lock;
// the write happens after it is released.
func (s *Store) Persist(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snap := s.snapshot()
	if err := s.backend.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}

func (s *Store) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make(map[string]netwatch.WatchItem, len(s.items))
	for id, item := range s.items {
		items[id] = item
	}
	log := make([]netwatch.ChangeLogEntry, len(s.changeLog))
	copy(log, s.changeLog)
	return Snapshot{
		Items:     items,
		ChangeLog: log,
		Config:    cloneConfig(s.config),
	}
}

func truncateLog(log []netwatch.ChangeLogEntry) []netwatch.ChangeLogEntry {
	if len(log) > MaxChangeLogEntries {
		clear(log[MaxChangeLogEntries:])
		return log[:MaxChangeLogEntries]
	}
	return log
}

func cloneConfig(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
