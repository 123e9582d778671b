package token

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
	kvstate "usdengine/core/state"
)

// Token is a handle to one fungible token in the ledger. It satisfies the
// collateral and stablecoin interfaces the debt engine consumes.
type Token struct {
	ledger  *Ledger
	address common.Address
}

func (t *Token) Address() common.Address { return t.address }

// Decimals returns the token precision, 0 when the metadata is unreadable.
func (t *Token) Decimals() uint8 {
	meta, err := t.ledger.state.Token(t.address)
	if err != nil || meta == nil {
		return 0
	}
	return meta.Decimals
}

func (t *Token) Symbol() string {
	meta, err := t.ledger.state.Token(t.address)
	if err != nil || meta == nil {
		return ""
	}
	return meta.Symbol
}

func (t *Token) BalanceOf(holder common.Address) (*big.Int, error) {
	return t.ledger.state.Balance(t.address, holder)
}

func (t *Token) TotalSupply() (*big.Int, error) {
	return t.ledger.state.TotalSupply(t.address)
}

func (t *Token) Allowance(owner, spender common.Address) (*big.Int, error) {
	return t.ledger.state.Allowance(t.address, owner, spender)
}

// MintAuthority returns the account allowed to mint and burn.
func (t *Token) MintAuthority() (common.Address, error) {
	meta, err := t.ledger.state.Token(t.address)
	if err != nil {
		return common.Address{}, err
	}
	if meta == nil {
		return common.Address{}, fmt.Errorf("%w: %s", ErrUnknownToken, t.address.Hex())
	}
	return meta.MintAuthority, nil
}

// Approve sets spender's allowance over owner's balance.
func (t *Token) Approve(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.apply(func(st *kvstate.Manager) error {
		return st.SetAllowance(t.address, owner, spender, amount)
	})
}

// Transfer moves amount from the caller to recipient.
func (t *Token) Transfer(from, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.apply(func(st *kvstate.Manager) error {
		if _, err := t.ledger.metadata(st, t.address); err != nil {
			return err
		}
		return move(st, t.address, from, to, amount)
	})
}

// TransferFrom moves amount from owner to recipient, spending spender's
// allowance.
func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.apply(func(st *kvstate.Manager) error {
		if _, err := t.ledger.metadata(st, t.address); err != nil {
			return err
		}
		allowance, err := st.Allowance(t.address, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
		}
		if err := st.SetAllowance(t.address, from, spender, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
		return move(st, t.address, from, to, amount)
	})
}

// Mint creates amount new tokens for recipient. Only the mint authority may
// call it.
func (t *Token) Mint(minter, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	var total *big.Int
	var symbol string
	err := t.ledger.apply(func(st *kvstate.Manager) error {
		meta, err := t.ledger.metadata(st, t.address)
		if err != nil {
			return err
		}
		if meta.MintAuthority != minter {
			return ErrNotMintAuthority
		}
		if meta.MintPaused {
			return ErrMintPaused
		}
		bal, err := st.Balance(t.address, to)
		if err != nil {
			return err
		}
		if err := st.SetBalance(t.address, to, new(big.Int).Add(bal, amount)); err != nil {
			return err
		}
		supply, err := st.TotalSupply(t.address)
		if err != nil {
			return err
		}
		total = new(big.Int).Add(supply, amount)
		symbol = meta.Symbol
		return st.SetTotalSupply(t.address, total)
	})
	if err != nil {
		return err
	}
	t.ledger.emitter.Emit(events.TokenSupply{Token: t.address, Symbol: symbol, Total: total, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount tokens held by from. Only the mint authority may call
// it.
func (t *Token) Burn(minter, from common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	var total *big.Int
	var symbol string
	err := t.ledger.apply(func(st *kvstate.Manager) error {
		meta, err := t.ledger.metadata(st, t.address)
		if err != nil {
			return err
		}
		if meta.MintAuthority != minter {
			return ErrNotMintAuthority
		}
		bal, err := st.Balance(t.address, from)
		if err != nil {
			return err
		}
		if bal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, amount)
		}
		if err := st.SetBalance(t.address, from, new(big.Int).Sub(bal, amount)); err != nil {
			return err
		}
		supply, err := st.TotalSupply(t.address)
		if err != nil {
			return err
		}
		total = new(big.Int).Sub(supply, amount)
		symbol = meta.Symbol
		return st.SetTotalSupply(t.address, total)
	})
	if err != nil {
		return err
	}
	t.ledger.emitter.Emit(events.TokenSupply{Token: t.address, Symbol: symbol, Total: total, Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}

// TransferMintAuthority hands minting rights from current to next.
func (t *Token) TransferMintAuthority(current, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.apply(func(st *kvstate.Manager) error {
		meta, err := t.ledger.metadata(st, t.address)
		if err != nil {
			return err
		}
		if meta.MintAuthority != current {
			return ErrNotMintAuthority
		}
		return st.SetTokenMintAuthority(t.address, next)
	})
}

// RestoreAllowance re-credits allowance that spender consumed in a
// TransferFrom which has since been reversed.
func (t *Token) RestoreAllowance(owner, spender common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	return t.ledger.apply(func(st *kvstate.Manager) error {
		current, err := st.Allowance(t.address, owner, spender)
		if err != nil {
			return err
		}
		return st.SetAllowance(t.address, owner, spender, new(big.Int).Add(current, amount))
	})
}
