package cdp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type untrustedAsset struct {
	asset common.Address
	err   error
}

type valuation struct {
	collateralUSD *big.Int
	adjustedUSD   *big.Int
	holdings      []CollateralHolding
	untrusted     []untrustedAsset
}

// quote reads the feed of entry. Negative prices are rejected; zero is
// returned as-is for the caller to interpret.
func (e *Engine) quote(entry *CollateralAsset) (*big.Int, uint8, error) {
	feed, ok := e.feeds.Feed(entry.PriceFeed)
	if !ok || feed == nil {
		return zero(), 0, fmt.Errorf("%w: %q", ErrUnknownFeed, entry.PriceFeed)
	}
	price, decimals, err := feed.GetPrice()
	if err != nil {
		return zero(), 0, err
	}
	if price == nil {
		return zero(), decimals, nil
	}
	if price.Sign() < 0 {
		return zero(), decimals, fmt.Errorf("cdp engine: negative price %s for %s", price, entry.Address.Hex())
	}
	return new(big.Int).Set(price), decimals, nil
}

// value prices every non-zero holding of pos. Assets whose feed errors or
// reports zero contribute nothing and are listed as untrusted.
func (e *Engine) value(registry *CollateralRegistry, pos *Position) (*valuation, error) {
	entries, err := registry.List()
	if err != nil {
		return nil, err
	}
	out := &valuation{collateralUSD: zero(), adjustedUSD: zero()}
	for _, entry := range entries {
		amount := pos.CollateralOf(entry.Address)
		if amount.Sign() == 0 {
			continue
		}
		price, decimals, err := e.quote(entry)
		holding := CollateralHolding{
			Asset:         entry.Address,
			Amount:        amount,
			Threshold:     entry.LiquidationThreshold,
			Price:         price,
			PriceDecimals: decimals,
			ValueUSD:      zero(),
			AdjustedUSD:   zero(),
		}
		if err != nil || price.Sign() == 0 {
			holding.ZeroPriced = true
			out.untrusted = append(out.untrusted, untrustedAsset{asset: entry.Address, err: err})
			out.holdings = append(out.holdings, holding)
			continue
		}
		holding.ValueUSD = UsdValue(amount, price, decimals, entry.Decimals)
		holding.AdjustedUSD = AdjustedValue(holding.ValueUSD, entry.LiquidationThreshold)
		out.collateralUSD.Add(out.collateralUSD, holding.ValueUSD)
		out.adjustedUSD.Add(out.adjustedUSD, holding.AdjustedUSD)
		out.holdings = append(out.holdings, holding)
	}
	return out, nil
}
