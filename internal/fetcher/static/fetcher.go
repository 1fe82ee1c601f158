// Package static fetches pages over plain HTTP with colly and scopes them with goquery.
package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/metrics"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	Timeout       time.Duration
	RespectRobots bool
}

// Fetcher implements netwatch.Fetcher using the Colly collector.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.RWMutex
	transport     *http.Transport
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:           cfg,
		logger:        logger.Named("static"),
		baseCollector: colly.NewCollector(colly.Async(false), colly.AllowURLRevisit()),
	}
	f.transport = newHTTPTransport()
	return f
}

// Fetch performs one GET and returns the selector's inner HTML, or the whole body when no
// selector is set. A timeout drops pooled connections and retries once.
func (f *Fetcher) Fetch(ctx context.Context, req netwatch.FetchRequest) (netwatch.FetchResult, error) {
	body, err := f.visit(ctx, req.URL)
	if isTimeout(ctx, err) {
		f.logger.Warn("request timeout, resetting transport",
			zap.String("item_id", req.ItemID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		f.resetTransport()
		body, err = f.visit(ctx, req.URL)
		if isTimeout(ctx, err) {
			metrics.ObserveFetch(req.URL, "timeout", 0)
			return netwatch.FetchResult{}, fmt.Errorf("fetch %s: %w (%v)", req.URL, netwatch.ErrTransientFetch, err)
		}
	}
	if err != nil {
		metrics.ObserveFetch(req.URL, "error", 0)
		return netwatch.FetchResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}

	content, err := Select(body, req.Selector)
	if err != nil {
		metrics.ObserveFetch(req.URL, "no_match", len(body))
		return netwatch.FetchResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	metrics.ObserveFetch(req.URL, "success", len(content))
	return netwatch.FetchResult{
		URL:      req.URL,
		Selector: req.Selector,
		Body:     content,
	}, nil
}

// Select returns the inner HTML of the first element matching selector. An empty selector
// returns body unchanged.
func Select(body []byte, selector string) ([]byte, error) {
	if selector == "" {
		return body, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	match := doc.Find(selector).First()
	if match.Length() == 0 {
		return nil, fmt.Errorf("selector %q: %w", selector, netwatch.ErrNoMatch)
	}
	html, err := match.Html()
	if err != nil {
		return nil, fmt.Errorf("render selection: %w", err)
	}
	return []byte(html), nil
}

func (f *Fetcher) visit(ctx context.Context, url string) ([]byte, error) {
	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &body, &status, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if status >= http.StatusBadRequest {
			return nil, fmt.Errorf("unexpected status %d", status)
		}
		return body, nil
	}
}

func (f *Fetcher) buildCollector() *colly.Collector {
	f.mu.RLock()
	transport := f.transport
	f.mu.RUnlock()

	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.RespectRobots {
		collector.WithTransport(newRobotsTransport(transport, f.logger))
	} else {
		collector.WithTransport(transport)
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, status *int, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) resetTransport() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transport.CloseIdleConnections()
	f.transport = newHTTPTransport()
	metrics.ObserveFetcherRestart("static")
}

func isTimeout(parent context.Context, err error) bool {
	if err == nil || parent.Err() != nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
