package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	kvstate "usdengine/core/state"
	"usdengine/storage"
)

// Bank tracks balances of the native asset that is attached to calls as value.
type Bank struct {
	mu    sync.Mutex
	db    storage.Database
	state *kvstate.Manager
}

func NewBank(db storage.Database) *Bank {
	return &Bank{db: db, state: kvstate.NewManager(db)}
}

func (b *Bank) Balance(holder common.Address) (*big.Int, error) {
	return b.state.NativeBalance(holder)
}

// Credit adds amount to holder. Used by genesis allocations and faucets.
func (b *Bank) Credit(holder common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apply(func(st *kvstate.Manager) error {
		bal, err := st.NativeBalance(holder)
		if err != nil {
			return err
		}
		return st.SetNativeBalance(holder, new(big.Int).Add(bal, amount))
	})
}

// Transfer moves native value between accounts. The recipient balance is
// read after the debit so a self transfer leaves the balance unchanged.
func (b *Bank) Transfer(from, to common.Address, amount *big.Int) error {
	if err := positive(amount); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.apply(func(st *kvstate.Manager) error {
		fromBal, err := st.NativeBalance(from)
		if err != nil {
			return err
		}
		if fromBal.Cmp(amount) < 0 {
			return fmt.Errorf("%w: native have %s, need %s", ErrInsufficientBalance, fromBal, amount)
		}
		if err := st.SetNativeBalance(from, new(big.Int).Sub(fromBal, amount)); err != nil {
			return err
		}
		toBal, err := st.NativeBalance(to)
		if err != nil {
			return err
		}
		return st.SetNativeBalance(to, new(big.Int).Add(toBal, amount))
	})
}

func (b *Bank) apply(fn func(st *kvstate.Manager) error) error {
	overlay := storage.NewOverlay(b.db)
	if err := fn(kvstate.NewManager(overlay)); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}
