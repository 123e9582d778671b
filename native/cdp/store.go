package cdp

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	kvstate "usdengine/core/state"
)

// engineStore reads and writes positions and engine settings through the
// state manager. It is bound either to the committed database or to a staged
// overlay.
type engineStore struct {
	st *kvstate.Manager
}

func (s engineStore) loadAmount(key []byte) (*big.Int, error) {
	out := new(big.Int)
	ok, err := s.st.KVGet(key, out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return zero(), nil
	}
	return out, nil
}

func (s engineStore) loadPosition(user common.Address, assets []common.Address) (*Position, error) {
	pos := newPosition(user)
	for _, asset := range assets {
		amt, err := s.loadAmount(collateralKey(user, asset))
		if err != nil {
			return nil, err
		}
		pos.Collateral[asset] = amt
	}
	debt, err := s.loadAmount(debtKey(user))
	if err != nil {
		return nil, err
	}
	pos.Debt = debt
	return pos, nil
}

func (s engineStore) savePosition(pos *Position) error {
	for asset, amt := range pos.Collateral {
		if amt == nil {
			amt = zero()
		}
		if err := s.st.KVPut(collateralKey(pos.Account, asset), amt); err != nil {
			return err
		}
	}
	debt := pos.Debt
	if debt == nil {
		debt = zero()
	}
	if err := s.st.KVPut(debtKey(pos.Account), debt); err != nil {
		return err
	}
	_, err := s.st.KVAppend(userIndexKey, pos.Account.Bytes())
	return err
}

func (s engineStore) users() ([]common.Address, error) {
	var raw [][]byte
	if err := s.st.KVGetList(userIndexKey, &raw); err != nil {
		return nil, err
	}
	out := make([]common.Address, 0, len(raw))
	for _, b := range raw {
		out = append(out, common.BytesToAddress(b))
	}
	return out, nil
}

func (s engineStore) loadAddress(key []byte) (common.Address, bool, error) {
	var addr common.Address
	ok, err := s.st.KVGet(key, &addr)
	return addr, ok, err
}

func (s engineStore) admin() (common.Address, bool, error) { return s.loadAddress(adminKey) }

func (s engineStore) setAdmin(addr common.Address) error { return s.st.KVPut(adminKey, addr) }

func (s engineStore) weth() (common.Address, bool, error) { return s.loadAddress(wethKey) }

func (s engineStore) setWeth(addr common.Address) error { return s.st.KVPut(wethKey, addr) }
