package cdp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
)

type effect struct {
	name  string
	apply func() error
	undo  func() error
}

// planner accumulates the projected position and the external effects of an
// operation without touching state.
type planner struct {
	e        *Engine
	registry *CollateralRegistry
	weth     common.Address
	user     common.Address
	before   *Position
	after    *Position

	pulls  []effect
	pushes []effect
	events []events.Event

	// newRisk blocks the operation when any held asset is zero priced.
	newRisk bool
	// checkHealth requires the projected health factor to stay >= 1.
	checkHealth bool
}

func (e *Engine) newPlanner(user common.Address) (*planner, error) {
	store := e.committed()
	registry := NewCollateralRegistry(store.st)
	assets, err := registry.Assets()
	if err != nil {
		return nil, err
	}
	pos, err := store.loadPosition(user, assets)
	if err != nil {
		return nil, err
	}
	weth, _, err := store.weth()
	if err != nil {
		return nil, err
	}
	return &planner{
		e:        e,
		registry: registry,
		weth:     weth,
		user:     user,
		before:   pos,
		after:    pos.Clone(),
	}, nil
}

func (p *planner) collateral(asset common.Address) (*CollateralAsset, error) {
	entry, err := p.registry.Lookup(asset)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAsset, asset.Hex())
	}
	return entry, nil
}

func (p *planner) isNative(asset common.Address) bool {
	return p.weth != (common.Address{}) && asset == p.weth
}

// deposit stages collateral moving from the user into engine custody.
func (p *planner) deposit(call Call, asset common.Address, amount *big.Int) error {
	entry, err := p.collateral(asset)
	if err != nil {
		return err
	}
	native := p.isNative(asset)
	if native {
		if attached(call).Cmp(amount) != 0 {
			return fmt.Errorf("%w: attached %s, collateral %s", ErrNativeValueMismatch, attached(call), amount)
		}
		if p.e.bank == nil {
			return fmt.Errorf("cdp engine: native bank not configured")
		}
	} else if err := requireNoValue(call); err != nil {
		return err
	}
	price, _, err := p.e.quote(entry)
	if err != nil || price.Sign() == 0 {
		return &ZeroPriceError{Asset: asset, Cause: err}
	}

	user, engine := p.user, p.e.account
	if native {
		bank := p.e.bank
		p.pulls = append(p.pulls, effect{
			name:  "pull native collateral",
			apply: func() error { return bank.Transfer(user, engine, amount) },
			undo:  func() error { return bank.Transfer(engine, user, amount) },
		})
	} else {
		tok, err := p.e.tokens.Token(asset)
		if err != nil {
			return err
		}
		held, err := tok.BalanceOf(user)
		if err != nil {
			return err
		}
		if held.Cmp(amount) < 0 {
			return fmt.Errorf("%w: wallet holds %s of %s", ErrInsufficientBalance, held, asset.Hex())
		}
		p.pulls = append(p.pulls, effect{
			name:  "pull collateral",
			apply: func() error { return tok.TransferFrom(engine, user, engine, amount) },
			undo: func() error {
				if err := tok.Transfer(engine, user, amount); err != nil {
					return err
				}
				if restorer, ok := tok.(AllowanceRestorer); ok {
					return restorer.RestoreAllowance(user, engine, amount)
				}
				return nil
			},
		})
	}
	p.after.Collateral[asset] = new(big.Int).Add(p.after.CollateralOf(asset), amount)
	p.events = append(p.events, CollateralDeposited{User: user, Asset: asset, Amount: new(big.Int).Set(amount), Native: native})
	return nil
}

// redeem stages collateral moving from engine custody back to the user.
func (p *planner) redeem(asset common.Address, amount *big.Int) error {
	if _, err := p.collateral(asset); err != nil {
		return err
	}
	held := p.after.CollateralOf(asset)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: deposited %s of %s, requested %s", ErrInsufficientBalance, held, asset.Hex(), amount)
	}
	native := p.isNative(asset)
	user, engine := p.user, p.e.account
	if native {
		if p.e.bank == nil {
			return fmt.Errorf("cdp engine: native bank not configured")
		}
		bank := p.e.bank
		p.pushes = append(p.pushes, effect{
			name:  "return native collateral",
			apply: func() error { return bank.Transfer(engine, user, amount) },
			undo:  func() error { return bank.Transfer(user, engine, amount) },
		})
	} else {
		tok, err := p.e.tokens.Token(asset)
		if err != nil {
			return err
		}
		p.pushes = append(p.pushes, effect{
			name:  "return collateral",
			apply: func() error { return tok.Transfer(engine, user, amount) },
		})
	}
	p.after.Collateral[asset] = held.Sub(held, amount)
	p.checkHealth = true
	p.events = append(p.events, CollateralRedeemed{From: user, To: user, Asset: asset, Amount: new(big.Int).Set(amount), Native: native})
	return nil
}

// mint stages new debt and the stablecoin issuance backing it.
func (p *planner) mint(amount *big.Int) error {
	stable, user, engine := p.e.stablecoin, p.user, p.e.account
	p.after.Debt = new(big.Int).Add(p.after.Debt, amount)
	p.pushes = append(p.pushes, effect{
		name:  "mint stablecoin",
		apply: func() error { return stable.Mint(engine, user, amount) },
		undo:  func() error { return stable.Burn(engine, user, amount) },
	})
	p.newRisk = true
	p.checkHealth = true
	p.events = append(p.events, UsdMinted{User: user, Amount: new(big.Int).Set(amount), Debt: new(big.Int).Set(p.after.Debt)})
	return nil
}

// burn stages debt repayment. The burn is a pull so it runs before any
// collateral is released.
func (p *planner) burn(amount *big.Int) error {
	if p.after.Debt.Cmp(amount) < 0 {
		return fmt.Errorf("%w: debt %s, burn %s", ErrInsufficientBalance, p.after.Debt, amount)
	}
	stable, user, engine := p.e.stablecoin, p.user, p.e.account
	held, err := stable.BalanceOf(user)
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: wallet holds %s stablecoin, burn %s", ErrInsufficientBalance, held, amount)
	}
	p.after.Debt = new(big.Int).Sub(p.after.Debt, amount)
	p.pulls = append(p.pulls, effect{
		name:  "burn stablecoin",
		apply: func() error { return stable.Burn(engine, user, amount) },
		undo:  func() error { return stable.Mint(engine, user, amount) },
	})
	p.checkHealth = true
	p.events = append(p.events, UsdBurned{User: user, Amount: new(big.Int).Set(amount), Debt: new(big.Int).Set(p.after.Debt)})
	return nil
}

// validate enforces the zero price policy and the health factor invariant on
// the projected position.
func (p *planner) validate() error {
	if !p.newRisk && !p.checkHealth {
		return nil
	}
	val, err := p.e.value(p.registry, p.after)
	if err != nil {
		return err
	}
	if p.newRisk && len(val.untrusted) > 0 {
		first := val.untrusted[0]
		return &ZeroPriceError{Asset: first.asset, Cause: first.err}
	}
	if !p.checkHealth {
		return nil
	}
	hf := CalculateHealthFactor(val.adjustedUSD, p.after.Debt)
	if !IsHealthy(hf) {
		return &HealthFactorError{HealthFactor: hf}
	}
	return nil
}
