// Package headless fetches JavaScript-rendered pages through a headless Chrome.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

const defaultPageLoadTimeout = 30 * time.Second

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel bounds concurrent navigations; zero means one at a time.
	MaxParallel     int
	UserAgent       string
	PageLoadTimeout time.Duration
	// ExecPath overrides the Chrome binary chromedp would otherwise discover.
	ExecPath string
}

// navigateFunc renders one request against the current browser.
type navigateFunc func(ctx context.Context, allocator context.Context, req netwatch.FetchRequest) (string, error)

// Fetcher implements netwatch.Fetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg     Config
	logger  *zap.Logger
	limiter chan struct{}

	// browserMu is read-held by navigations and write-held while the allocator is replaced.
	browserMu   sync.RWMutex
	allocator   context.Context
	allocCancel context.CancelFunc
	generation  uint64

	navigate navigateFunc
}

// NewChromedp creates a headless fetcher backed by chromedp. Chrome is launched lazily on
// the first navigation.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.MaxParallel == 0 {
		cfg.MaxParallel = 1
	}
	if cfg.PageLoadTimeout <= 0 {
		cfg.PageLoadTimeout = defaultPageLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:     cfg,
		logger:  logger.Named("headless"),
		limiter: make(chan struct{}, cfg.MaxParallel),
	}
	f.navigate = f.runBrowser
	f.allocator, f.allocCancel = f.newAllocator()
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.browserMu.Lock()
	defer f.browserMu.Unlock()
	if f.allocCancel != nil {
		f.allocCancel()
	}
}

// Fetch renders the page and returns the selector's inner HTML, or the whole document
// when no selector is set. A page-load timeout restarts the browser and retries once.
func (f *Fetcher) Fetch(ctx context.Context, req netwatch.FetchRequest) (netwatch.FetchResult, error) {
	if err := f.acquire(ctx); err != nil {
		return netwatch.FetchResult{}, err
	}
	defer f.release()

	html, generation, err := f.attempt(ctx, req)
	if isTimeout(ctx, err) {
		f.logger.Warn("page load timeout, restarting browser",
			zap.String("item_id", req.ItemID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		f.restart(generation)
		html, _, err = f.attempt(ctx, req)
		if isTimeout(ctx, err) {
			metrics.ObserveFetch(req.URL, "timeout", 0)
			return netwatch.FetchResult{}, fmt.Errorf("fetch %s: %w (%v)", req.URL, netwatch.ErrTransientFetch, err)
		}
	}
	if err != nil {
		metrics.ObserveFetch(req.URL, "error", 0)
		return netwatch.FetchResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	metrics.ObserveFetch(req.URL, "success", len(html))
	return netwatch.FetchResult{
		URL:      req.URL,
		Selector: req.Selector,
		Body:     []byte(html),
	}, nil
}

func (f *Fetcher) attempt(ctx context.Context, req netwatch.FetchRequest) (string, uint64, error) {
	f.browserMu.RLock()
	defer f.browserMu.RUnlock()

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.PageLoadTimeout)
	defer cancel()
	html, err := f.navigate(navCtx, f.allocator, req)
	return html, f.generation, err
}

// restart replaces the allocator unless another caller already did so since generation.
func (f *Fetcher) restart(generation uint64) {
	f.browserMu.Lock()
	defer f.browserMu.Unlock()
	if f.generation != generation {
		return
	}
	if f.allocCancel != nil {
		f.allocCancel()
	}
	f.allocator, f.allocCancel = f.newAllocator()
	f.generation++
	metrics.ObserveFetcherRestart("headless")
}

func (f *Fetcher) newAllocator() (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return chromedp.NewExecAllocator(context.Background(), opts...)
}

func (f *Fetcher) runBrowser(ctx context.Context, allocator context.Context, req netwatch.FetchRequest) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(allocator)
	defer taskCancel()

	// Tie the tab's lifetime to the navigation deadline.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var (
		html  string
		nodes []*cdp.Node
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
	}
	if req.Selector == "" {
		actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
		if err := chromedp.Run(taskCtx, actions...); err != nil {
			return "", runError(ctx, err)
		}
		return html, nil
	}

	actions = append(actions, chromedp.Nodes(req.Selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", runError(ctx, err)
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("selector %q: %w", req.Selector, netwatch.ErrNoMatch)
	}
	if err := chromedp.Run(taskCtx, chromedp.InnerHTML([]cdp.NodeID{nodes[0].NodeID}, &html, chromedp.ByNodeID)); err != nil {
		return "", runError(ctx, err)
	}
	return html, nil
}

func (f *Fetcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	select {
	case <-f.limiter:
	default:
	}
}

// runError maps a chromedp failure caused by the navigation deadline to DeadlineExceeded.
func runError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("chromedp run: %w (%v)", ctxErr, err)
	}
	return fmt.Errorf("chromedp run: %w", err)
}

// isTimeout reports whether err is a page-load timeout rather than caller cancellation.
func isTimeout(parent context.Context, err error) bool {
	return err != nil && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded)
}
