package auto

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/netwatch/internal/headless/detector"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

type fakeFetcher struct {
	body  string
	err   error
	calls []netwatch.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req netwatch.FetchRequest) (netwatch.FetchResult, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return netwatch.FetchResult{}, f.err
	}
	return netwatch.FetchResult{URL: req.URL, Selector: req.Selector, Body: []byte(f.body)}, nil
}

const staticPage = `<html><body><h1>News</h1><p id="headline">Prices fall</p><p>Plenty of server rendered text so the page is not mistaken for an application shell.</p></body></html>`

func TestStaticContentIsUsedDirectly(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: staticPage}
	headless := &fakeFetcher{body: "rendered"}
	f := New(probe, headless, detector.NewHeuristic(0), nil)

	res, err := f.Fetch(context.Background(), netwatch.FetchRequest{ItemID: "1", URL: "https://example.com", Selector: "#headline"})
	require.NoError(t, err)
	require.Equal(t, "Prices fall", string(res.Body))
	require.Empty(t, headless.calls)
	require.Empty(t, probe.calls[0].Selector)
}

func TestApplicationShellIsPromoted(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`}
	headless := &fakeFetcher{body: "rendered"}
	f := New(probe, headless, detector.NewHeuristic(0), nil)

	res, err := f.Fetch(context.Background(), netwatch.FetchRequest{URL: "https://example.com", Selector: "#price"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(res.Body))
	require.Len(t, headless.calls, 1)
	require.Equal(t, "#price", headless.calls[0].Selector)
}

func TestMissingSelectorIsPromoted(t *testing.T) {
	t.Parallel()

	probe := &fakeFetcher{body: staticPage}
	headless := &fakeFetcher{body: "rendered"}
	f := New(probe, headless, detector.NewHeuristic(0), nil)

	res, err := f.Fetch(context.Background(), netwatch.FetchRequest{URL: "https://example.com", Selector: "#late-loaded"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(res.Body))
}

func TestProbeErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("dial failed")
	headless := &fakeFetcher{}
	f := New(&fakeFetcher{err: boom}, headless, detector.NewHeuristic(0), nil)

	_, err := f.Fetch(context.Background(), netwatch.FetchRequest{URL: "https://example.com"})
	require.ErrorIs(t, err, boom)
	require.Empty(t, headless.calls)
}
