package state

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// TokenMetadata describes a fungible token tracked by the ledger.
type TokenMetadata struct {
	Address       common.Address
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority common.Address
	MintPaused    bool
}

func (m *Manager) loadTokenList() ([]common.Address, error) {
	data, err := m.get(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []common.Address{}, nil
	}
	var list []common.Address
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) loadTokenMetadata(token common.Address) (*TokenMetadata, error) {
	data, err := m.get(tokenMetadataKey(token))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (m *Manager) writeTokenMetadata(meta *TokenMetadata) error {
	return m.put(tokenMetadataKey(meta.Address), meta)
}

// RegisterToken stores the metadata for a token and records it in the token
// index. The mint authority starts as the supplied deployer.
func (m *Manager) RegisterToken(token common.Address, symbol, name string, decimals uint8, authority common.Address) error {
	if token == (common.Address{}) {
		return fmt.Errorf("token address must not be empty")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(token); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", token.Hex())
	}

	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, token)
	if err := m.put(tokenListKey, list); err != nil {
		return err
	}
	return m.writeTokenMetadata(&TokenMetadata{
		Address:       token,
		Symbol:        normalized,
		Name:          strings.TrimSpace(name),
		Decimals:      decimals,
		MintAuthority: authority,
	})
}

// SetTokenMintAuthority configures the mint authority for the given token.
func (m *Manager) SetTokenMintAuthority(token common.Address, authority common.Address) error {
	meta, err := m.loadTokenMetadata(token)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", token.Hex())
	}
	meta.MintAuthority = authority
	return m.writeTokenMetadata(meta)
}

// SetTokenMintPaused stores the paused state for the given token.
func (m *Manager) SetTokenMintPaused(token common.Address, paused bool) error {
	meta, err := m.loadTokenMetadata(token)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", token.Hex())
	}
	meta.MintPaused = paused
	return m.writeTokenMetadata(meta)
}

// Token retrieves metadata for a registered token; nil when unknown.
func (m *Manager) Token(token common.Address) (*TokenMetadata, error) {
	return m.loadTokenMetadata(token)
}

// TokenBySymbol scans the token index for a matching symbol.
func (m *Manager) TokenBySymbol(symbol string) (*TokenMetadata, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	list, err := m.loadTokenList()
	if err != nil {
		return nil, err
	}
	for _, addr := range list {
		meta, err := m.loadTokenMetadata(addr)
		if err != nil {
			return nil, err
		}
		if meta != nil && meta.Symbol == normalized {
			return meta, nil
		}
	}
	return nil, nil
}

// TokenList returns registered token addresses in registration order.
func (m *Manager) TokenList() ([]common.Address, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token is registered.
func (m *Manager) TokenExists(token common.Address) bool {
	meta, err := m.loadTokenMetadata(token)
	return err == nil && meta != nil
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative amount not allowed")
	}
	return m.put(key, amount)
}

func (m *Manager) requireToken(token common.Address) error {
	meta, err := m.loadTokenMetadata(token)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", token.Hex())
	}
	return nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(token, holder common.Address, amount *big.Int) error {
	if err := m.requireToken(token); err != nil {
		return err
	}
	return m.storeAmount(balanceKey(token, holder), amount)
}

// Balance retrieves a token balance for the provided account and token.
func (m *Manager) Balance(token, holder common.Address) (*big.Int, error) {
	return m.loadAmount(balanceKey(token, holder))
}

// SetAllowance records how much spender may move on behalf of owner.
func (m *Manager) SetAllowance(token, owner, spender common.Address, amount *big.Int) error {
	if err := m.requireToken(token); err != nil {
		return err
	}
	return m.storeAmount(allowanceKey(token, owner, spender), amount)
}

// Allowance returns the remaining allowance of spender over owner's balance.
func (m *Manager) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	return m.loadAmount(allowanceKey(token, owner, spender))
}

// SetTotalSupply stores the circulating supply of token.
func (m *Manager) SetTotalSupply(token common.Address, amount *big.Int) error {
	if err := m.requireToken(token); err != nil {
		return err
	}
	return m.storeAmount(supplyKey(token), amount)
}

// TotalSupply returns the circulating supply of token.
func (m *Manager) TotalSupply(token common.Address) (*big.Int, error) {
	return m.loadAmount(supplyKey(token))
}

// SetNativeBalance stores the native (gas-asset) balance of holder.
func (m *Manager) SetNativeBalance(holder common.Address, amount *big.Int) error {
	return m.storeAmount(nativeBalanceKey(holder), amount)
}

// NativeBalance returns the native balance of holder.
func (m *Manager) NativeBalance(holder common.Address) (*big.Int, error) {
	return m.loadAmount(nativeBalanceKey(holder))
}

// IsMintAuthority reports whether addr currently controls minting of token.
func (m *Manager) IsMintAuthority(token, addr common.Address) bool {
	meta, err := m.loadTokenMetadata(token)
	if err != nil || meta == nil {
		return false
	}
	return bytes.Equal(meta.MintAuthority.Bytes(), addr.Bytes())
}
