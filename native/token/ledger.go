package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
	kvstate "usdengine/core/state"
	"usdengine/storage"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrInvalidAmount         = errors.New("token: amount must be positive")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrNotMintAuthority      = errors.New("token: caller is not the mint authority")
	ErrMintPaused            = errors.New("token: minting paused")
	ErrZeroAddress           = errors.New("token: zero address")
)

// Ledger keeps balances, allowances and supply for every registered token.
// Each mutation is staged in an overlay and committed in one batch.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	state   *kvstate.Manager
	emitter events.Emitter
}

// NewLedger creates a ledger persisting into db.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db, state: kvstate.NewManager(db), emitter: events.NoopEmitter{}}
}

// SetEmitter configures the supply event sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	l.emitter = emitter
}

// Register adds a token whose mint authority is the deployer.
func (l *Ledger) Register(addr common.Address, symbol, name string, decimals uint8, deployer common.Address) (*Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.state.RegisterToken(addr, symbol, name, decimals, deployer); err != nil {
		return nil, fmt.Errorf("token: register: %w", err)
	}
	return &Token{ledger: l, address: addr}, nil
}

// Token returns a handle to a registered token.
func (l *Ledger) Token(addr common.Address) (*Token, error) {
	meta, err := l.state.Token(addr)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return &Token{ledger: l, address: addr}, nil
}

// Tokens lists every registered token.
func (l *Ledger) Tokens() ([]*kvstate.TokenMetadata, error) {
	list, err := l.state.TokenList()
	if err != nil {
		return nil, err
	}
	out := make([]*kvstate.TokenMetadata, 0, len(list))
	for _, addr := range list {
		meta, err := l.state.Token(addr)
		if err != nil {
			return nil, err
		}
		if meta != nil {
			out = append(out, meta)
		}
	}
	return out, nil
}

// apply runs fn against a staged view of the ledger and commits on success.
func (l *Ledger) apply(fn func(st *kvstate.Manager) error) error {
	overlay := storage.NewOverlay(l.db)
	if err := fn(kvstate.NewManager(overlay)); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}

func (l *Ledger) metadata(st *kvstate.Manager, addr common.Address) (*kvstate.TokenMetadata, error) {
	meta, err := st.Token(addr)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return meta, nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func move(st *kvstate.Manager, token, from, to common.Address, amount *big.Int) error {
	fromBal, err := st.Balance(token, from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	if err := st.SetBalance(token, from, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	toBal, err := st.Balance(token, to)
	if err != nil {
		return err
	}
	return st.SetBalance(token, to, new(big.Int).Add(toBal, amount))
}
