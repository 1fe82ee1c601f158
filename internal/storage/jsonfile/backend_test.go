package jsonfile_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/datastore"
	"github.com/JakeFAU/netwatch/internal/netwatch"
	"github.com/JakeFAU/netwatch/internal/storage/jsonfile"
)

func TestNew(t *testing.T) {
	t.Run("CreatesDirectory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "data")
		backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
		require.NoError(t, err)
		assert.NotNil(t, backend)
		assert.DirExists(t, dir)
	})
	t.Run("MissingDataDir", func(t *testing.T) {
		_, err := jsonfile.New(jsonfile.Config{})
		require.Error(t, err)
	})
	t.Run("PathIsFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := jsonfile.New(jsonfile.Config{DataDir: file})
		require.Error(t, err)
	})
}

func TestLoadEmptyDirectory(t *testing.T) {
	backend, err := jsonfile.New(jsonfile.Config{DataDir: t.TempDir()})
	require.NoError(t, err)

	snap, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.ChangeLog)
	assert.Empty(t, snap.Config)
}

func TestStoreRoundTripThroughFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)
	store, err := datastore.Open(ctx, backend)
	require.NoError(t, err)

	created, err := store.CreateWatchItem(netwatch.WatchItem{
		Name:        "CPI release",
		Link:        "https://example.com/cpi",
		Selector:    "#headline",
		Email:       true,
		Recipient:   "ops@example.com",
		ContentType: netwatch.ContentTypeHTML,
		Frequency:   "0 9 * * 1-5",
	})
	require.NoError(t, err)
	store.AppendChangeLog("CPI release: changed", created.Link)
	store.UpdateConfig(map[string]string{"email_sender": "smtp"}, true)
	require.NoError(t, store.Persist(ctx))
	require.NoError(t, store.Close())

	for _, name := range []string{jsonfile.AlertsFile, jsonfile.UpdatesFile, jsonfile.ConfigFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	raw, err := os.ReadFile(filepath.Join(dir, jsonfile.AlertsFile))
	require.NoError(t, err)
	var alerts map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &alerts))
	require.Contains(t, alerts, created.ID)
	assert.Equal(t, "html", alerts[created.ID]["content_type"])

	reopenedBackend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)
	reopened, err := datastore.Open(ctx, reopenedBackend)
	require.NoError(t, err)

	items, err := reopened.ListWatchItems(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, items[0])

	log := reopened.ListChangeLog()
	require.Len(t, log, 1)
	assert.Equal(t, "CPI release: changed", log[0].Text)
	assert.WithinDuration(t, time.Now(), log[0].Timestamp, time.Minute)

	value, err := reopened.GetConfig("email_sender")
	require.NoError(t, err)
	assert.Equal(t, "smtp", value)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonfile.ConfigFile), []byte("{not json"), 0o600))

	backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)
	_, err = backend.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), jsonfile.ConfigFile)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)

	require.NoError(t, backend.Save(context.Background(), datastore.Snapshot{}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{jsonfile.AlertsFile, jsonfile.UpdatesFile, jsonfile.ConfigFile}, names)
}

func TestLoadFlattensListConfigValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	doc := `{"username": ["me@example.com"], "email_sender": "smtp", "retries": 3, "verbose": true, "empty": [], "unset": null}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonfile.ConfigFile), []byte(doc), 0o600))

	backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)
	snap, err := backend.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"username":     "me@example.com",
		"email_sender": "smtp",
		"retries":      "3",
		"verbose":      "true",
		"empty":        "",
		"unset":        "",
	}, snap.Config)

	store, err := datastore.Open(context.Background(), backend)
	require.NoError(t, err)
	username, err := store.GetConfig("username")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", username)
}

func TestLoadRejectsNestedConfigValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonfile.ConfigFile), []byte(`{"smtp": {"host": "x"}}`), 0o600))

	backend, err := jsonfile.New(jsonfile.Config{DataDir: dir})
	require.NoError(t, err)
	_, err = backend.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"smtp"`)
}
