// Package auto fetches pages statically and promotes them to a headless browser when
// the static HTML does not carry the watched content.
package auto

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/netwatch/internal/fetcher/static"
	"github.com/JakeFAU/netwatch/internal/netwatch"
)

// Detector decides whether a statically fetched body needs rendering.
type Detector interface {
	ShouldPromote(body []byte) bool
}

// Fetcher probes with a cheap fetcher and falls back to a rendering one.
type Fetcher struct {
	probe    netwatch.Fetcher
	headless netwatch.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a Fetcher. probe must return the whole document when no selector is set.
func New(probe, headless netwatch.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger.Named("auto"),
	}
}

// Fetch returns the statically fetched content when it is usable, otherwise the
// headless result. Probe transport failures are returned without promotion.
func (f *Fetcher) Fetch(ctx context.Context, req netwatch.FetchRequest) (netwatch.FetchResult, error) {
	res, err := f.probe.Fetch(ctx, netwatch.FetchRequest{ItemID: req.ItemID, URL: req.URL})
	if err != nil {
		return netwatch.FetchResult{}, fmt.Errorf("probe: %w", err)
	}
	if f.detector.ShouldPromote(res.Body) {
		f.logger.Debug("promoting to headless", zap.String("item_id", req.ItemID), zap.String("url", req.URL))
		return f.headless.Fetch(ctx, req)
	}
	body, err := static.Select(res.Body, req.Selector)
	if errors.Is(err, netwatch.ErrNoMatch) {
		f.logger.Debug("selector missing from static html, promoting to headless",
			zap.String("item_id", req.ItemID),
			zap.String("selector", req.Selector),
		)
		return f.headless.Fetch(ctx, req)
	}
	if err != nil {
		return netwatch.FetchResult{}, err
	}
	return netwatch.FetchResult{URL: req.URL, Selector: req.Selector, Body: body}, nil
}
