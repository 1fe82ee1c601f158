package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

const page = `<html><body><h1>Release</h1><div id="price"><span>42</span></div><div id="price">second</div></body></html>`

func TestFetchWholePageAndSelector(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "netwatch-test"}, nil)

	res, err := f.Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, page, string(res.Body))
	require.Equal(t, "netwatch-test", agent.Load())

	res, err = f.Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL, Selector: "#price"})
	require.NoError(t, err)
	require.Equal(t, "<span>42</span>", string(res.Body))
	require.Equal(t, "#price", res.Selector)
}

func TestFetchSelectorWithoutMatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}, nil).Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL, Selector: ".missing"})
	require.ErrorIs(t, err, netwatch.ErrNoMatch)
}

func TestFetchErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{}, nil).Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.False(t, errors.Is(err, netwatch.ErrTransientFetch))
}

func TestFetchRetriesOnceAfterTimeout(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	f := New(Config{Timeout: 100 * time.Millisecond}, nil)
	res, err := f.Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL, Selector: "h1"})
	require.NoError(t, err)
	require.Equal(t, "Release", string(res.Body))
	require.Equal(t, int32(2), calls.Load())
}

func TestFetchPersistentTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	_, err := New(Config{Timeout: 100 * time.Millisecond}, nil).Fetch(context.Background(), netwatch.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, netwatch.ErrTransientFetch)
}

func TestFetchHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(Config{}, nil).Fetch(ctx, netwatch.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, errors.Is(err, netwatch.ErrTransientFetch))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	out, err := Select([]byte(page), "")
	require.NoError(t, err)
	require.Equal(t, page, string(out))

	out, err = Select([]byte(page), "div#price span")
	require.NoError(t, err)
	require.Equal(t, "42", string(out))

	_, err = Select([]byte(page), "table")
	require.ErrorIs(t, err, netwatch.ErrNoMatch)
}
