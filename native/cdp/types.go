package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const moduleName = "cdp"

// ModuleName is the identifier consulted by the pause guard.
const ModuleName = moduleName

// Call carries the authenticated caller and the native value attached to a
// mutating request.
type Call struct {
	Caller common.Address
	Value  *big.Int
}

// CollateralAsset is the registry entry for an accepted collateral asset.
type CollateralAsset struct {
	Address              common.Address
	PriceFeed            string
	LiquidationThreshold uint64
	Decimals             uint8
}

// Clone returns a copy safe to hand out.
func (c *CollateralAsset) Clone() *CollateralAsset {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Position is the per-user ledger entry: collateral per asset and stablecoin
// debt. Zero balances are valid and persist.
type Position struct {
	Account    common.Address
	Collateral map[common.Address]*big.Int
	Debt       *big.Int
}

func newPosition(account common.Address) *Position {
	return &Position{Account: account, Collateral: make(map[common.Address]*big.Int), Debt: big.NewInt(0)}
}

// CollateralOf returns the balance held for asset, never nil.
func (p *Position) CollateralOf(asset common.Address) *big.Int {
	if p == nil || p.Collateral == nil {
		return big.NewInt(0)
	}
	if amt, ok := p.Collateral[asset]; ok && amt != nil {
		return new(big.Int).Set(amt)
	}
	return big.NewInt(0)
}

// Clone deep copies the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := newPosition(p.Account)
	for asset, amt := range p.Collateral {
		clone.Collateral[asset] = new(big.Int).Set(amt)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return clone
}

func (p *Position) empty() bool {
	if p.Debt != nil && p.Debt.Sign() > 0 {
		return false
	}
	for _, amt := range p.Collateral {
		if amt != nil && amt.Sign() > 0 {
			return false
		}
	}
	return true
}

// Status labels a position for callers and dashboards.
type Status string

const (
	StatusNoPosition Status = "no_position"
	StatusHealthy    Status = "healthy"
	StatusAtRisk     Status = "at_risk"
)

// CollateralHolding is one asset line inside a PositionView.
type CollateralHolding struct {
	Asset         common.Address
	Amount        *big.Int
	ValueUSD      *big.Int
	AdjustedUSD   *big.Int
	Threshold     uint64
	ZeroPriced    bool
	PriceDecimals uint8
	Price         *big.Int
}

// PositionView is the read model returned by Engine.Position.
type PositionView struct {
	Account       common.Address
	Holdings      []CollateralHolding
	Debt          *big.Int
	CollateralUSD *big.Int
	AdjustedUSD   *big.Int
	HealthFactor  *big.Int
	Status        Status
}

// PriceOracle reports the latest price of one asset in USD together with the
// number of decimals the price carries. A zero price is an untrusted signal.
type PriceOracle interface {
	GetPrice() (*big.Int, uint8, error)
}

// FeedDirectory resolves registry feed identifiers to oracles.
type FeedDirectory interface {
	Feed(id string) (PriceOracle, bool)
}

// FeedDirectoryFunc adapts a function to FeedDirectory.
type FeedDirectoryFunc func(id string) (PriceOracle, bool)

func (f FeedDirectoryFunc) Feed(id string) (PriceOracle, bool) { return f(id) }

// FungibleToken is the slice of a token ledger the engine needs to take and
// return collateral custody.
type FungibleToken interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(holder common.Address) (*big.Int, error)
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// AllowanceRestorer is implemented by tokens that can re-credit an allowance
// consumed by a TransferFrom that was later compensated.
type AllowanceRestorer interface {
	RestoreAllowance(owner, spender common.Address, amount *big.Int) error
}

// TokenDirectory resolves collateral asset identifiers to tokens.
type TokenDirectory interface {
	Token(asset common.Address) (FungibleToken, error)
}

// TokenDirectoryFunc adapts a function to TokenDirectory.
type TokenDirectoryFunc func(asset common.Address) (FungibleToken, error)

func (f TokenDirectoryFunc) Token(asset common.Address) (FungibleToken, error) { return f(asset) }

// Stablecoin is the debt token. The engine must hold its mint authority.
type Stablecoin interface {
	FungibleToken
	TotalSupply() (*big.Int, error)
	MintAuthority() (common.Address, error)
	Mint(minter, to common.Address, amount *big.Int) error
	Burn(minter, from common.Address, amount *big.Int) error
}

// NativeBank moves the native asset attached to calls.
type NativeBank interface {
	Transfer(from, to common.Address, amount *big.Int) error
}
