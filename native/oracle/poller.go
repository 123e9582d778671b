package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type binding struct {
	feedID  string
	assetID string
	feed    *ManualFeed
}

// Poller refreshes manual feeds from an upstream source on a fixed interval.
type Poller struct {
	source   Source
	interval time.Duration
	bindings []binding
	history  *History
	logger   *slog.Logger
	observe  func(feedID string, err error)
}

func NewPoller(source Source, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{source: source, interval: interval, logger: logger}
}

// Bind routes quotes for the upstream assetID into feed, registered as feedID.
func (p *Poller) Bind(feedID, assetID string, feed *ManualFeed) {
	p.bindings = append(p.bindings, binding{feedID: normaliseID(feedID), assetID: assetID, feed: feed})
}

// SetHistory records every accepted quote.
func (p *Poller) SetHistory(h *History) { p.history = h }

// SetObserver installs a callback invoked after each feed refresh.
func (p *Poller) SetObserver(fn func(feedID string, err error)) { p.observe = fn }

// PollOnce refreshes every bound feed. A failing feed keeps its previous
// quote; the stale guard eventually zeroes it.
func (p *Poller) PollOnce(ctx context.Context) error {
	var errs []error
	for _, b := range p.bindings {
		err := p.refresh(ctx, b)
		if err != nil {
			p.logger.Warn("oracle refresh failed", slog.String("feed", b.feedID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("%s: %w", b.feedID, err))
		}
		if p.observe != nil {
			p.observe(b.feedID, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) refresh(ctx context.Context, b binding) error {
	quote, err := p.source.Fetch(ctx, b.assetID)
	if err != nil {
		return err
	}
	if err := b.feed.Record(quote); err != nil {
		return err
	}
	if p.history != nil {
		if err := p.history.Record(ctx, b.feedID, quote); err != nil {
			p.logger.Warn("oracle history write failed", slog.String("feed", b.feedID), slog.Any("error", err))
		}
	}
	return nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	_ = p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = p.PollOnce(ctx)
		}
	}
}
