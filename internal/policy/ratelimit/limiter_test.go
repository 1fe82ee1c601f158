package ratelimit

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeFAU/netwatch/internal/netwatch"
)

func TestLimiterWaitDelaysPerDomain(t *testing.T) {
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	// Consume the initial token.
	if err := l.Wait(ctx, "https://test.com/a"); err != nil {
		t.Fatal(err)
	}

	// A different host has its own bucket.
	start := time.Now()
	if err := l.Wait(ctx, "https://other.com/a"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected other host to be immediate, took %v", time.Since(start))
	}

	// The same host waits ~100ms.
	start = time.Now()
	if err := l.Wait(ctx, "https://test.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterUnlimitedByDefault(t *testing.T) {
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "https://example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected no throttling, took %v", time.Since(start))
	}
}

func TestLimiterWaitRespectsContext(t *testing.T) {
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "https://slow.com"); err == nil {
		t.Fatal("expected error for canceled context")
	}
}

type countingFetcher struct {
	calls atomic.Int32
}

func (c *countingFetcher) Fetch(_ context.Context, req netwatch.FetchRequest) (netwatch.FetchResult, error) {
	c.calls.Add(1)
	return netwatch.FetchResult{URL: req.URL, Body: []byte("ok")}, nil
}

func TestWrapDelegatesAfterWait(t *testing.T) {
	inner := &countingFetcher{}
	fetcher := New(Config{DefaultRPS: 0.1, DefaultBurst: 1}).Wrap(inner)

	res, err := fetcher.Fetch(context.Background(), netwatch.FetchRequest{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(res.Body) != "ok" || inner.calls.Load() != 1 {
		t.Fatalf("unexpected result %q calls=%d", res.Body, inner.calls.Load())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = fetcher.Fetch(ctx, netwatch.FetchRequest{URL: "https://example.com"})
	if err == nil {
		t.Fatalf("expected throttled fetch to fail, err=%v", err)
	}
	if inner.calls.Load() != 1 {
		t.Fatalf("expected inner fetcher not to be called, calls=%d", inner.calls.Load())
	}
}
