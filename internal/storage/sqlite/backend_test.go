package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/netwatch/internal/datastore"
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/storage/sqlite"
)

func TestNewRequiresPath(t *testing.T) {
	_, err := sqlite.New(context.Background(), sqlite.Config{}, nil)
	require.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "netwatch.db")

	backend, err := sqlite.New(ctx, sqlite.Config{Path: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	empty, err := backend.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Items)
	assert.Empty(t, empty.ChangeLog)
	assert.Empty(t, empty.Config)

	newer := time.Date(2026, time.March, 2, 10, 0, 0, 123, time.UTC)
	older := newer.Add(-time.Hour)
	snap := datastore.Snapshot{
		Items: map[string]netwatch.WatchItem{
			"id-1": {
				ID:          "id-1",
				Name:        "Jobs report",
				Link:        "https://example.com/jobs",
				Selector:    ".headline",
				Hash:        "abc",
				Email:       true,
				Recipient:   "ops@example.com",
				ContentType: netwatch.ContentTypeHTML,
				Frequency:   "30 8 * * 5",
			},
		},
		ChangeLog: []netwatch.ChangeLogEntry{
			{Timestamp: newer, Text: "Jobs report: second", Link: "https://example.com/jobs"},
			{Timestamp: older, Text: "Jobs report: first", Link: "https://example.com/jobs"},
		},
		Config: map[string]string{"username": "me@example.com"},
	}
	require.NoError(t, backend.Save(ctx, snap))

	// A second save replaces rather than appends.
	require.NoError(t, backend.Save(ctx, snap))
	require.NoError(t, backend.Close())

	reopened, err := sqlite.New(ctx, sqlite.Config{Path: path}, nil)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Items, loaded.Items)
	require.Len(t, loaded.ChangeLog, 2)
	assert.Equal(t, "Jobs report: second", loaded.ChangeLog[0].Text)
	assert.True(t, newer.Equal(loaded.ChangeLog[0].Timestamp))
	assert.True(t, older.Equal(loaded.ChangeLog[1].Timestamp))
	assert.Equal(t, snap.Config, loaded.Config)
}

func TestDatastoreOverSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "netwatch.db")

	backend, err := sqlite.New(ctx, sqlite.Config{Path: path}, nil)
	require.NoError(t, err)
	store, err := datastore.Open(ctx, backend)
	require.NoError(t, err)

	created, err := store.CreateWatchItem(netwatch.WatchItem{
		Name:      "Fed minutes",
		Link:      "https://example.com/fomc",
		Frequency: "0 14 * * *",
	})
	require.NoError(t, err)
	_, err = store.DeleteWatchItem(created.ID)
	require.NoError(t, err)
	kept, err := store.CreateWatchItem(netwatch.WatchItem{
		Name:      "GDP",
		Link:      "https://example.com/gdp",
		Frequency: "0 8 * * *",
	})
	require.NoError(t, err)
	require.NoError(t, store.Persist(ctx))
	require.NoError(t, store.Close())

	backend, err = sqlite.New(ctx, sqlite.Config{Path: path}, nil)
	require.NoError(t, err)
	reopened, err := datastore.Open(ctx, backend)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	items, err := reopened.ListWatchItems()
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, kept, items[0])
}
