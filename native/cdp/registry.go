package cdp

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	kvstate "usdengine/core/state"
)

type storedCollateral struct {
	Asset     common.Address
	Feed      string
	Threshold uint64
	Decimals  uint8
}

// CollateralRegistry maps accepted assets to their price feed and liquidation
// threshold. Identifiers are kept in an ordered list that only grows: updating
// an entry never removes others.
type CollateralRegistry struct {
	st *kvstate.Manager
}

// NewCollateralRegistry binds a registry to state.
func NewCollateralRegistry(st *kvstate.Manager) *CollateralRegistry {
	return &CollateralRegistry{st: st}
}

// Assets returns registered identifiers in registration order.
func (r *CollateralRegistry) Assets() ([]common.Address, error) {
	var list []common.Address
	if err := r.st.KVGetList(assetListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Lookup returns the entry for asset, or nil when it is not registered.
func (r *CollateralRegistry) Lookup(asset common.Address) (*CollateralAsset, error) {
	var stored storedCollateral
	ok, err := r.st.KVGet(assetKey(asset), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &CollateralAsset{
		Address:              stored.Asset,
		PriceFeed:            stored.Feed,
		LiquidationThreshold: stored.Threshold,
		Decimals:             stored.Decimals,
	}, nil
}

// At performs bounds-checked positional access into the identifier list.
func (r *CollateralRegistry) At(index int) (*CollateralAsset, error) {
	list, err := r.Assets()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(list) {
		return nil, &IndexOutOfRangeError{Index: index, Length: len(list)}
	}
	return r.Lookup(list[index])
}

// List returns every entry in registration order.
func (r *CollateralRegistry) List() ([]*CollateralAsset, error) {
	list, err := r.Assets()
	if err != nil {
		return nil, err
	}
	out := make([]*CollateralAsset, 0, len(list))
	for _, asset := range list {
		entry, err := r.Lookup(asset)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Upsert inserts or replaces an entry. New identifiers are appended to the
// ordered list; existing ones keep their position.
func (r *CollateralRegistry) Upsert(entry CollateralAsset) error {
	if entry.LiquidationThreshold > MaxLiquidationThreshold {
		return ErrInvalidThreshold
	}
	existing, err := r.Lookup(entry.Address)
	if err != nil {
		return err
	}
	if existing == nil {
		list, err := r.Assets()
		if err != nil {
			return err
		}
		list = append(list, entry.Address)
		if err := r.st.KVPut(assetListKey, list); err != nil {
			return err
		}
	}
	return r.st.KVPut(assetKey(entry.Address), storedCollateral{
		Asset:     entry.Address,
		Feed:      normaliseFeedID(entry.PriceFeed),
		Threshold: entry.LiquidationThreshold,
		Decimals:  entry.Decimals,
	})
}

func normaliseFeedID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
