package cdp

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
	kvstate "usdengine/core/state"
	"usdengine/storage"
)

// staged runs fn against an overlay of the committed state and commits it in
// one batch when fn succeeds.
func (e *Engine) staged(fn func(store engineStore, registry *CollateralRegistry) error) error {
	overlay := storage.NewOverlay(e.db)
	store := engineStore{st: kvstate.NewManager(overlay)}
	if err := fn(store, NewCollateralRegistry(store.st)); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

func (e *Engine) requireAdmin(caller common.Address) error {
	admin, ok, err := e.committed().admin()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotInitialized
	}
	if admin != caller {
		return ErrUnauthorized
	}
	return nil
}

// resolveEntries validates a batch of registry updates without writing any
// of them.
func (e *Engine) resolveEntries(assets []common.Address, feeds []string, thresholds []uint64) ([]CollateralAsset, error) {
	if len(assets) != len(feeds) || len(assets) != len(thresholds) {
		return nil, ErrArrayLengthMismatch
	}
	out := make([]CollateralAsset, 0, len(assets))
	for i, asset := range assets {
		if thresholds[i] > MaxLiquidationThreshold {
			return nil, fmt.Errorf("%w: asset %s threshold %d", ErrInvalidThreshold, asset.Hex(), thresholds[i])
		}
		feedID := normaliseFeedID(feeds[i])
		if feed, ok := e.feeds.Feed(feedID); !ok || feed == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFeed, feeds[i])
		}
		tok, err := e.tokens.Token(asset)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedAsset, asset.Hex(), err)
		}
		out = append(out, CollateralAsset{
			Address:              asset,
			PriceFeed:            feedID,
			LiquidationThreshold: thresholds[i],
			Decimals:             tok.Decimals(),
		})
	}
	return out, nil
}

// Initialize records the admin and the initial collateral set. It can only
// run once per state.
func (e *Engine) Initialize(admin common.Address, assets []common.Address, feeds []string, thresholds []uint64) (err error) {
	defer func(start time.Time) { e.observe(opInitialize, start, err) }(time.Now())
	if err := e.ready(); err != nil {
		return err
	}
	if admin == (common.Address{}) {
		return fmt.Errorf("cdp engine: admin required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok, err := e.committed().admin(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	entries, err := e.resolveEntries(assets, feeds, thresholds)
	if err != nil {
		return err
	}
	if err := e.staged(func(store engineStore, registry *CollateralRegistry) error {
		if err := store.setAdmin(admin); err != nil {
			return err
		}
		for _, entry := range entries {
			if err := registry.Upsert(entry); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	e.emitter.Emit(AdminTransferred{Next: admin})
	e.emitFeeds(entries)
	return nil
}

func (e *Engine) emitFeeds(entries []CollateralAsset) {
	for _, entry := range entries {
		e.emitter.Emit(FeedUpdated{Asset: entry.Address, Feed: entry.PriceFeed, Threshold: entry.LiquidationThreshold})
	}
}

// UpdateAllPriceFeed upserts a batch of (asset, feed, threshold) entries. All
// entries are validated before any is written. Assets left out of the batch
// stay registered.
func (e *Engine) UpdateAllPriceFeed(caller common.Address, assets []common.Address, feeds []string, thresholds []uint64) (err error) {
	defer func(start time.Time) { e.observe(opUpdateFeeds, start, err) }(time.Now())
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	entries, err := e.resolveEntries(assets, feeds, thresholds)
	if err != nil {
		return err
	}
	if err := e.staged(func(_ engineStore, registry *CollateralRegistry) error {
		for _, entry := range entries {
			if err := registry.Upsert(entry); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	e.logger.Info("cdp collateral registry updated", "entries", len(entries), "admin", caller.Hex())
	e.emitFeeds(entries)
	return nil
}

// AddOrUpdateFeed upserts a single registry entry.
func (e *Engine) AddOrUpdateFeed(caller, asset common.Address, feed string, threshold uint64) error {
	return e.UpdateAllPriceFeed(caller, []common.Address{asset}, []string{feed}, []uint64{threshold})
}

// UpdateWETH designates the registered asset whose custody moves as native
// value.
func (e *Engine) UpdateWETH(caller, asset common.Address) (err error) {
	defer func(start time.Time) { e.observe(opUpdateWeth, start, err) }(time.Now())
	if err := e.ready(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.staged(func(store engineStore, registry *CollateralRegistry) error {
		entry, err := registry.Lookup(asset)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
		}
		return store.setWeth(asset)
	}); err != nil {
		return err
	}
	e.emitter.Emit(WethUpdated{Asset: asset})
	return nil
}

// TransferAdmin hands the admin role to next.
func (e *Engine) TransferAdmin(caller, next common.Address) (err error) {
	defer func(start time.Time) { e.observe(opTransferAdmin, start, err) }(time.Now())
	if err := e.ready(); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return fmt.Errorf("cdp engine: admin required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireAdmin(caller); err != nil {
		return err
	}
	if err := e.staged(func(store engineStore, _ *CollateralRegistry) error {
		return store.setAdmin(next)
	}); err != nil {
		return err
	}
	e.emitter.Emit(AdminTransferred{Previous: caller, Next: next})
	return nil
}

var _ events.Event = AdminTransferred{}
