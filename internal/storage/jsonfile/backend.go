// Package jsonfile persists NetWatch state as three JSON documents in a directory.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/netwatch/internal/datastore"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// File names inside the data directory.
const (
	AlertsFile  = "alerts.json"
	UpdatesFile = "updates.json"
	ConfigFile  = "config.json"
)

// Config captures the parameters for the JSON file backend.
type Config struct {
	// DataDir holds alerts.json, updates.json and config.json.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// Backend implements datastore.Backend on plain JSON files.
type Backend struct {
	dir string
}

var _ datastore.Backend = (*Backend)(nil)

// New creates the data directory if needed and returns a backend rooted there.
func New(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	info, err := os.Stat(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat data directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data directory path is not a directory")
	}
	return &Backend{dir: cfg.DataDir}, nil
}

// Load reads all three documents. A missing file yields empty state for that part.
func (b *Backend) Load(_ context.Context) (datastore.Snapshot, error) {
	snap := datastore.Snapshot{
		Items:  map[string]netwatch.WatchItem{},
		Config: map[string]string{},
	}
	if err := b.read(AlertsFile, &snap.Items); err != nil {
		return datastore.Snapshot{}, err
	}
	if err := b.read(UpdatesFile, &snap.ChangeLog); err != nil {
		return datastore.Snapshot{}, err
	}
	raw := map[string]json.RawMessage{}
	if err := b.read(ConfigFile, &raw); err != nil {
		return datastore.Snapshot{}, err
	}
	for key, value := range raw {
		flat, err := flattenSetting(value)
		if err != nil {
			return datastore.Snapshot{}, fmt.Errorf("decode %s: key %q: %w", ConfigFile, key, err)
		}
		snap.Config[key] = flat
	}
	return snap, nil
}

// flattenSetting accepts a string, a list of strings (the first element wins), a bare
// number or bool, or null.
func flattenSetting(value json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, nil
	}
	var list []string
	if err := json.Unmarshal(value, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		return list[0], nil
	}
	var scalar any
	if err := json.Unmarshal(value, &scalar); err != nil {
		return "", err
	}
	switch scalar.(type) {
	case float64, bool:
		return trimmed, nil
	default:
		return "", fmt.Errorf("unsupported setting value %s", trimmed)
	}
}

// Save writes each document atomically via a temp file and rename.
func (b *Backend) Save(ctx context.Context, snap datastore.Snapshot) error {
	items := snap.Items
	if items == nil {
		items = map[string]netwatch.WatchItem{}
	}
	log := snap.ChangeLog
	if log == nil {
		log = []netwatch.ChangeLogEntry{}
	}
	cfg := snap.Config
	if cfg == nil {
		cfg = map[string]string{}
	}
	docs := []struct {
		name  string
		value any
	}{
		{AlertsFile, items},
		{UpdatesFile, log},
		{ConfigFile, cfg},
	}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("save %s: %w", doc.name, err)
		}
		if err := b.write(doc.name, doc.value); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; files are not held open between saves.
func (b *Backend) Close() error {
	return nil
}

func (b *Backend) read(name string, dst any) error {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (b *Backend) write(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(b.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
