package cdp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type snapshot struct {
	store    engineStore
	registry *CollateralRegistry
}

func (e *Engine) snapshot() snapshot {
	store := e.committed()
	return snapshot{store: store, registry: NewCollateralRegistry(store.st)}
}

func (s snapshot) position(user common.Address) (*Position, error) {
	assets, err := s.registry.Assets()
	if err != nil {
		return nil, err
	}
	return s.store.loadPosition(user, assets)
}

func (s snapshot) entry(asset common.Address) (*CollateralAsset, error) {
	entry, err := s.registry.Lookup(asset)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return entry, nil
}

func optionalAmount(v *big.Int) (*big.Int, error) {
	if v == nil {
		return zero(), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return v, nil
}

// HealthFactor returns the current health factor of user, MaxHealthFactor
// when the user has no debt.
func (e *Engine) HealthFactor(user common.Address) (*big.Int, error) {
	view, err := e.Position(user)
	if err != nil {
		return nil, err
	}
	return view.HealthFactor, nil
}

// AccountInformation returns the debt and the unadjusted USD value of the
// collateral held by user.
func (e *Engine) AccountInformation(user common.Address) (debt *big.Int, collateralUSD *big.Int, err error) {
	view, err := e.Position(user)
	if err != nil {
		return nil, nil, err
	}
	return view.Debt, view.CollateralUSD, nil
}

// Position returns the priced read model of user's position.
func (e *Engine) Position(user common.Address) (*PositionView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.snapshot()
	pos, err := snap.position(user)
	if err != nil {
		return nil, err
	}
	val, err := e.value(snap.registry, pos)
	if err != nil {
		return nil, err
	}
	hf := CalculateHealthFactor(val.adjustedUSD, pos.Debt)
	status := StatusHealthy
	switch {
	case pos.empty():
		status = StatusNoPosition
	case !IsHealthy(hf):
		status = StatusAtRisk
	}
	return &PositionView{
		Account:       user,
		Holdings:      val.holdings,
		Debt:          pos.Debt,
		CollateralUSD: val.collateralUSD,
		AdjustedUSD:   val.adjustedUSD,
		HealthFactor:  hf,
		Status:        status,
	}, nil
}

// CollateralBalance returns the amount of asset deposited by user.
func (e *Engine) CollateralBalance(user, asset common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed().loadAmount(collateralKey(user, asset))
}

// UsdValue prices amount of asset in 1e18 USD.
func (e *Engine) UsdValue(asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amount, err := optionalAmount(amount)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, err := e.snapshot().entry(asset)
	if err != nil {
		return nil, err
	}
	price, decimals, err := e.quote(entry)
	if err != nil {
		return nil, err
	}
	return UsdValue(amount, price, decimals, entry.Decimals), nil
}

// TokenAmountFromUsd converts a 1e18 USD amount into units of asset.
func (e *Engine) TokenAmountFromUsd(asset common.Address, usd *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	usd, err := optionalAmount(usd)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	entry, err := e.snapshot().entry(asset)
	if err != nil {
		return nil, err
	}
	price, decimals, err := e.quote(entry)
	if err != nil {
		return nil, err
	}
	return TokenAmountFromUsd(usd, price, decimals, entry.Decimals), nil
}

// GetMintableUSD projects the position with additional units of asset added.
// When the projected risk-adjusted collateral covers the debt, amount is the
// remaining mint capacity; otherwise it is the shortfall. The flag reports
// whether the current position is healthy.
func (e *Engine) GetMintableUSD(asset, user common.Address, additional *big.Int) (*big.Int, bool, error) {
	if err := e.ready(); err != nil {
		return nil, false, err
	}
	additional, err := optionalAmount(additional)
	if err != nil {
		return nil, false, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.snapshot()
	entry, err := snap.entry(asset)
	if err != nil {
		return nil, false, err
	}
	pos, err := snap.position(user)
	if err != nil {
		return nil, false, err
	}
	val, err := e.value(snap.registry, pos)
	if err != nil {
		return nil, false, err
	}
	safe := IsHealthy(CalculateHealthFactor(val.adjustedUSD, pos.Debt))

	capacity := new(big.Int).Set(val.adjustedUSD)
	if additional.Sign() > 0 {
		if price, decimals, err := e.quote(entry); err == nil && price.Sign() > 0 {
			added := UsdValue(additional, price, decimals, entry.Decimals)
			capacity.Add(capacity, AdjustedValue(added, entry.LiquidationThreshold))
		}
	}
	amount := new(big.Int).Sub(capacity, pos.Debt)
	return amount.Abs(amount), safe, nil
}

// GetBurnableUSD returns how many units of asset user could withdraw after
// burning burnAmount of debt while staying healthy. It returns 0 when the
// post-burn position would still be under-collateralized.
func (e *Engine) GetBurnableUSD(asset, user common.Address, burnAmount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	burnAmount, err := optionalAmount(burnAmount)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap := e.snapshot()
	entry, err := snap.entry(asset)
	if err != nil {
		return nil, err
	}
	pos, err := snap.position(user)
	if err != nil {
		return nil, err
	}
	if pos.Debt.Cmp(burnAmount) < 0 {
		return nil, fmt.Errorf("%w: debt %s, burn %s", ErrInsufficientBalance, pos.Debt, burnAmount)
	}
	debtAfter := new(big.Int).Sub(pos.Debt, burnAmount)
	balance := pos.CollateralOf(asset)
	if balance.Sign() == 0 {
		return zero(), nil
	}
	val, err := e.value(snap.registry, pos)
	if err != nil {
		return nil, err
	}
	if val.adjustedUSD.Cmp(debtAfter) < 0 {
		return zero(), nil
	}
	if debtAfter.Sign() == 0 {
		return balance, nil
	}
	price, decimals, err := e.quote(entry)
	if err != nil || price.Sign() == 0 || entry.LiquidationThreshold == 0 {
		// The asset adds nothing to the adjusted value, so all of it can go.
		return balance, nil
	}
	excess := new(big.Int).Sub(val.adjustedUSD, debtAfter)
	releasable := excess.Mul(excess, hundred)
	releasable.Quo(releasable, new(big.Int).SetUint64(entry.LiquidationThreshold))
	units := TokenAmountFromUsd(releasable, price, decimals, entry.Decimals)
	if units.Cmp(balance) >= 0 {
		return balance, nil
	}
	// Per-asset flooring can cost one unit of value; step down until the
	// projected position holds.
	for tries := 0; tries < 2 && units.Sign() > 0; tries++ {
		ok, err := e.healthyWithout(snap.registry, pos, asset, units, debtAfter)
		if err != nil {
			return nil, err
		}
		if ok {
			return units, nil
		}
		units.Sub(units, big.NewInt(1))
	}
	return zero(), nil
}

func (e *Engine) healthyWithout(registry *CollateralRegistry, pos *Position, asset common.Address, units, debt *big.Int) (bool, error) {
	projected := pos.Clone()
	projected.Collateral[asset] = new(big.Int).Sub(projected.CollateralOf(asset), units)
	val, err := e.value(registry, projected)
	if err != nil {
		return false, err
	}
	return IsHealthy(CalculateHealthFactor(val.adjustedUSD, debt)), nil
}

// CollateralAsset returns the registry entry at index.
func (e *Engine) CollateralAsset(index int) (*CollateralAsset, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot().registry.At(index)
}

// CollateralAssets lists the registry in order.
func (e *Engine) CollateralAssets() ([]*CollateralAsset, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot().registry.List()
}

// Weth returns the native-wrapped collateral identifier, zero when unset.
func (e *Engine) Weth() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, _, err := e.committed().weth()
	return addr, err
}

// Admin returns the current admin.
func (e *Engine) Admin() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, ok, err := e.committed().admin()
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrNotInitialized
	}
	return addr, nil
}

// Users lists every account that ever held a position.
func (e *Engine) Users() ([]common.Address, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed().users()
}

// SupplyReport compares the stablecoin supply with the sum of recorded debt.
type SupplyReport struct {
	TotalSupply *big.Int
	TotalDebt   *big.Int
	Accounts    int
}

// Balanced reports whether supply equals the sum of debts.
func (r SupplyReport) Balanced() bool {
	return r.TotalSupply != nil && r.TotalDebt != nil && r.TotalSupply.Cmp(r.TotalDebt) == 0
}

// Supply reads the stablecoin supply and the sum of all debts under one lock.
func (e *Engine) Supply() (SupplyReport, error) {
	if err := e.ready(); err != nil {
		return SupplyReport{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	store := e.committed()
	users, err := store.users()
	if err != nil {
		return SupplyReport{}, err
	}
	total := zero()
	for _, user := range users {
		debt, err := store.loadAmount(debtKey(user))
		if err != nil {
			return SupplyReport{}, err
		}
		total.Add(total, debt)
	}
	supply, err := e.stablecoin.TotalSupply()
	if err != nil {
		return SupplyReport{}, err
	}
	return SupplyReport{TotalSupply: supply, TotalDebt: total, Accounts: len(users)}, nil
}
