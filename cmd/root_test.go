package cmd

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/JakeFAU/netwatch/internal/hash/digest"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestFetchCommandPrintsDigestAndContent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><div id="price">42</div></body></html>`))
	}))
	t.Cleanup(srv.Close)

	path := writeConfig(t, "fetcher:\n  mode: static\nlogging:\n  development: false\n")
	out, err := execute(t, "", "--config", path, "fetch", "--link", srv.URL, "--selector", "#price")
	require.NoError(t, err)

	hasher, err := digest.New("md5")
	require.NoError(t, err)
	want, err := hasher.Hash([]byte("42"))
	require.NoError(t, err)
	require.Contains(t, out, "md5 "+want)
	require.Contains(t, out, "42")
}

func TestFetchCommandRequiresLink(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "fetcher:\n  mode: static\n")
	_, err := execute(t, "", "--config", path, "fetch")
	require.Error(t, err)
	require.Contains(t, err.Error(), "link")
}

func TestSecretSetStoresInKeyring(t *testing.T) {
	gokeyring.MockInit()

	path := writeConfig(t, "secrets:\n  backend: keyring\n")
	out, err := execute(t, "hunter2\n", "--config", path, "secret", "set",
		"--service", "netwatch_email_password", "--account", "watcher@example.com")
	require.NoError(t, err)
	require.Contains(t, out, "stored secret")

	secret, err := gokeyring.Get("netwatch_email_password", "watcher@example.com")
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)
}

func TestSecretSetRejectsEmptyInput(t *testing.T) {
	gokeyring.MockInit()

	path := writeConfig(t, "secrets:\n  backend: keyring\n")
	_, err := execute(t, "", "--config", path, "secret", "set", "--service", "s", "--account", "a")
	require.Error(t, err)
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "fetcher:\n  mode: telepathy\n")
	_, err := execute(t, "", "--config", path, "fetch", "--link", "https://example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
