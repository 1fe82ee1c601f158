package sendgrid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestSendPostsMail(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		auth    string
		path    string
		payload map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		_ = json.Unmarshal(body, &payload)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	n, err := New(Config{APIKey: "SG.key", Host: srv.URL})
	require.NoError(t, err)
	err = n.Send(context.Background(), netwatch.Message{
		From:        "me@example.com",
		To:          "you@example.com",
		Subject:     "NetWatch",
		Body:        "changed - https://example.com",
		ContentType: netwatch.ContentTypePlain,
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "Bearer SG.key", auth)
	require.Equal(t, "/v3/mail/send", path)
	require.Equal(t, "NetWatch", payload["subject"])
	content, ok := payload["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)
	require.Equal(t, "text/plain", content[0].(map[string]any)["type"])
}

func TestSendNon2xxIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"errors":[{"message":"bad key"}]}`))
	}))
	t.Cleanup(srv.Close)

	n, err := New(Config{APIKey: "SG.bad", Host: srv.URL})
	require.NoError(t, err)
	err = n.Send(context.Background(), netwatch.Message{From: "me@example.com", To: "you@example.com"})
	require.ErrorIs(t, err, netwatch.ErrTransport)
	require.Contains(t, err.Error(), "401")
}
