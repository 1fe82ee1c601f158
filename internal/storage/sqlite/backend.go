// Package sqlite persists NetWatch state in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/netwatch/internal/datastore"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

const schema = `
CREATE TABLE IF NOT EXISTS watch_items (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL,
	alert TEXT NOT NULL,
	link TEXT NOT NULL,
	selector TEXT NOT NULL,
	hash TEXT NOT NULL,
	email INTEGER NOT NULL,
	recipient TEXT NOT NULL,
	content_type TEXT NOT NULL,
	frequency TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS change_log (
	position INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	text TEXT NOT NULL,
	link TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Config captures the parameters for the SQLite backend.
type Config struct {
	// Path is the database file; parent directories are created.
	Path string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
}

// Backend implements datastore.Backend on SQLite.
type Backend struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ datastore.Backend = (*Backend)(nil)

// New opens (or creates) the database and ensures the schema exists.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.Path, err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between pool members.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	logger.Info("sqlite backend ready", zap.String("path", cfg.Path))
	return &Backend{db: db, logger: logger}, nil
}

// Load reads all three tables.
func (b *Backend) Load(ctx context.Context) (datastore.Snapshot, error) {
	snap := datastore.Snapshot{
		Items:  map[string]netwatch.WatchItem{},
		Config: map[string]string{},
	}

	rows, err := b.db.QueryContext(ctx, `SELECT id, name, description, alert, link, selector, hash,
		email, recipient, content_type, frequency FROM watch_items`)
	if err != nil {
		return datastore.Snapshot{}, fmt.Errorf("query watch_items: %w", err)
	}
	for rows.Next() {
		var item netwatch.WatchItem
		var contentType string
		if err := rows.Scan(&item.ID, &item.Name, &item.Description, &item.Alert, &item.Link,
			&item.Selector, &item.Hash, &item.Email, &item.Recipient, &contentType, &item.Frequency); err != nil {
			_ = rows.Close()
			return datastore.Snapshot{}, fmt.Errorf("scan watch_items: %w", err)
		}
		item.ContentType = netwatch.ContentType(contentType)
		snap.Items[item.ID] = item
	}
	if err := closeRows(rows, "watch_items"); err != nil {
		return datastore.Snapshot{}, err
	}

	rows, err = b.db.QueryContext(ctx, `SELECT timestamp, text, link FROM change_log ORDER BY position`)
	if err != nil {
		return datastore.Snapshot{}, fmt.Errorf("query change_log: %w", err)
	}
	for rows.Next() {
		var entry netwatch.ChangeLogEntry
		var stamp string
		if err := rows.Scan(&stamp, &entry.Text, &entry.Link); err != nil {
			_ = rows.Close()
			return datastore.Snapshot{}, fmt.Errorf("scan change_log: %w", err)
		}
		entry.Timestamp, err = time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			_ = rows.Close()
			return datastore.Snapshot{}, fmt.Errorf("parse change_log timestamp %q: %w", stamp, err)
		}
		snap.ChangeLog = append(snap.ChangeLog, entry)
	}
	if err := closeRows(rows, "change_log"); err != nil {
		return datastore.Snapshot{}, err
	}

	rows, err = b.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return datastore.Snapshot{}, fmt.Errorf("query config: %w", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			_ = rows.Close()
			return datastore.Snapshot{}, fmt.Errorf("scan config: %w", err)
		}
		snap.Config[key] = value
	}
	if err := closeRows(rows, "config"); err != nil {
		return datastore.Snapshot{}, err
	}

	b.logger.Debug("loaded state",
		zap.Int("items", len(snap.Items)),
		zap.Int("change_log", len(snap.ChangeLog)),
		zap.Int("config_keys", len(snap.Config)),
	)
	return snap, nil
}

// Save replaces the contents of all tables in one transaction.
func (b *Backend) Save(ctx context.Context, snap datastore.Snapshot) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"watch_items", "change_log", "config"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	for id, item := range snap.Items {
		if _, err = tx.ExecContext(ctx, `INSERT INTO watch_items (id, name, description, alert, link,
			selector, hash, email, recipient, content_type, frequency) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, item.Name, item.Description, item.Alert, item.Link, item.Selector, item.Hash,
			item.Email, item.Recipient, string(item.ContentType), item.Frequency); err != nil {
			return fmt.Errorf("insert watch item %s: %w", id, err)
		}
	}
	for i, entry := range snap.ChangeLog {
		if _, err = tx.ExecContext(ctx, `INSERT INTO change_log (position, timestamp, text, link) VALUES (?, ?, ?, ?)`,
			i, entry.Timestamp.Format(time.RFC3339Nano), entry.Text, entry.Link); err != nil {
			return fmt.Errorf("insert change log entry %d: %w", i, err)
		}
	}
	for key, value := range snap.Config {
		if _, err = tx.ExecContext(ctx, `INSERT INTO config (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("insert config %s: %w", key, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func closeRows(rows *sql.Rows, table string) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("close %s rows: %w", table, err)
	}
	return nil
}
