package cdp

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
	kvstate "usdengine/core/state"
	nativecommon "usdengine/native/common"
	"usdengine/storage"
)

const (
	opDepositAndMint   = "deposit_and_mint"
	opDeposit          = "deposit"
	opRedeemForUsd     = "redeem_for_usd"
	opRedeemCollateral = "redeem_collateral"
	opMint             = "mint"
	opBurn             = "burn"
	opUpdateFeeds      = "update_feeds"
	opUpdateWeth       = "update_weth"
	opTransferAdmin    = "transfer_admin"
	opInitialize       = "initialize"
)

// Metrics receives per-operation outcomes. A nil Metrics is ignored.
type Metrics interface {
	ObserveOperation(op, outcome string, elapsed time.Duration)
	ObserveHealthFactorBreach(op string)
}

// Engine is the overcollateralized debt engine. It owns the collateral
// custody account and the stablecoin mint authority, tracks each user's
// position and keeps every position with debt at a health factor of at least
// MinHealthFactor.
type Engine struct {
	mu         sync.RWMutex
	account    common.Address
	stablecoin Stablecoin
	db         storage.Database
	tokens     TokenDirectory
	feeds      FeedDirectory
	bank       NativeBank
	emitter    events.Emitter
	pauses     nativecommon.PauseView
	logger     *slog.Logger
	metrics    Metrics
}

// NewEngine constructs an engine whose custody account is account. The
// stablecoin's mint authority must already have been transferred to account.
func NewEngine(account common.Address, stablecoin Stablecoin) (*Engine, error) {
	if account == (common.Address{}) {
		return nil, fmt.Errorf("cdp engine: engine account required")
	}
	if stablecoin == nil {
		return nil, fmt.Errorf("cdp engine: stablecoin required")
	}
	authority, err := stablecoin.MintAuthority()
	if err != nil {
		return nil, fmt.Errorf("cdp engine: read mint authority: %w", err)
	}
	if authority != account {
		return nil, fmt.Errorf("%w: authority is %s", ErrMintAuthority, authority.Hex())
	}
	return &Engine{
		account:    account,
		stablecoin: stablecoin,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
	}, nil
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(db storage.Database) {
	if e == nil {
		return
	}
	e.db = db
}

// SetTokens wires the collateral token directory.
func (e *Engine) SetTokens(tokens TokenDirectory) {
	if e == nil {
		return
	}
	e.tokens = tokens
}

// SetFeeds wires the price feed directory.
func (e *Engine) SetFeeds(feeds FeedDirectory) {
	if e == nil {
		return
	}
	e.feeds = feeds
}

// SetNativeBank wires custody of the native asset.
func (e *Engine) SetNativeBank(bank NativeBank) {
	if e == nil {
		return
	}
	e.bank = bank
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

func (e *Engine) SetMetrics(m Metrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// Account returns the custody account of the engine.
func (e *Engine) Account() common.Address { return e.account }

// Stablecoin returns the debt token.
func (e *Engine) Stablecoin() Stablecoin { return e.stablecoin }

func (e *Engine) ready() error {
	if e == nil || e.db == nil || e.tokens == nil || e.feeds == nil {
		return ErrNilState
	}
	return nil
}

func (e *Engine) committed() engineStore {
	return engineStore{st: kvstate.NewManager(e.db)}
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrBreaksHealthFactor):
		outcome = "health_factor"
		e.metrics.ObserveHealthFactorBreach(op)
	case errors.Is(err, ErrZeroPrice):
		outcome = "zero_price"
	default:
		outcome = "error"
	}
	e.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func (e *Engine) begin(call Call) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if call.Caller == (common.Address{}) {
		return fmt.Errorf("cdp engine: caller required")
	}
	if call.Caller == e.account {
		return ErrEngineCaller
	}
	return nil
}

func attached(call Call) *big.Int {
	if call.Value == nil {
		return zero()
	}
	return call.Value
}

func requireNoValue(call Call) error {
	if attached(call).Sign() != 0 {
		return ErrNativeValueMismatch
	}
	return nil
}

// DepositCollateralAndMintUsd locks collateralAmount of asset and mints
// usdAmount of stablecoin to the caller in one all-or-nothing step. When asset
// is the configured native asset the call must carry exactly collateralAmount
// of native value.
func (e *Engine) DepositCollateralAndMintUsd(call Call, asset common.Address, collateralAmount, usdAmount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opDepositAndMint, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := checkAmount(collateralAmount); err != nil {
		return err
	}
	if err := checkAmount(usdAmount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opDepositAndMint, call, func(p *planner) error {
		if err := p.deposit(call, asset, collateralAmount); err != nil {
			return err
		}
		return p.mint(usdAmount)
	})
}

// DepositCollateral locks collateral without minting.
func (e *Engine) DepositCollateral(call Call, asset common.Address, amount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opDeposit, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opDeposit, call, func(p *planner) error {
		return p.deposit(call, asset, amount)
	})
}

// RedeemCollateralForUsd burns usdAmount of the caller's stablecoin and
// returns collateralAmount of asset. The health factor is checked against the
// post-burn, post-withdrawal position.
func (e *Engine) RedeemCollateralForUsd(call Call, asset common.Address, collateralAmount, usdAmount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opRedeemForUsd, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if err := checkAmount(collateralAmount); err != nil {
		return err
	}
	if err := checkAmount(usdAmount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opRedeemForUsd, call, func(p *planner) error {
		if err := p.burn(usdAmount); err != nil {
			return err
		}
		return p.redeem(asset, collateralAmount)
	})
}

// RedeemCollateral withdraws collateral without burning.
func (e *Engine) RedeemCollateral(call Call, asset common.Address, amount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opRedeemCollateral, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opRedeemCollateral, call, func(p *planner) error {
		return p.redeem(asset, amount)
	})
}

// MintUsd mints more stablecoin against existing collateral.
func (e *Engine) MintUsd(call Call, amount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opMint, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opMint, call, func(p *planner) error {
		return p.mint(amount)
	})
}

// BurnUsd repays debt by burning the caller's stablecoin.
func (e *Engine) BurnUsd(call Call, amount *big.Int) (err error) {
	defer func(start time.Time) { e.observe(opBurn, start, err) }(time.Now())
	if err := e.begin(call); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(opBurn, call, func(p *planner) error {
		return p.burn(amount)
	})
}

// execute plans an operation against committed state, validates the
// projected position and only then applies it.
func (e *Engine) execute(op string, call Call, build func(p *planner) error) error {
	p, err := e.newPlanner(call.Caller)
	if err != nil {
		return err
	}
	if err := build(p); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		if errors.Is(err, ErrBreaksHealthFactor) {
			e.logger.Info("cdp operation rejected",
				slog.String("op", op),
				slog.String("account", call.Caller.Hex()),
				slog.Any("error", err))
		}
		return err
	}
	if err := e.apply(p); err != nil {
		e.logger.Error("cdp operation failed during apply",
			slog.String("op", op),
			slog.String("account", call.Caller.Hex()),
			slog.Any("error", err))
		return err
	}
	for _, evt := range p.events {
		e.emitter.Emit(evt)
	}
	return nil
}

// apply runs pulls, then persists the position, then pushes. Every step but
// the last is journaled so a later failure compensates earlier effects.
func (e *Engine) apply(p *planner) error {
	j := newJournal(e.logger)
	for _, eff := range p.pulls {
		if err := j.step(eff.name, eff.apply, eff.undo); err != nil {
			return j.revert(err)
		}
	}
	before, after := p.before, p.after
	persistUndo := func() error { return e.persist(before) }
	if len(p.pushes) == 0 {
		persistUndo = nil
	}
	if err := j.step("persist position", func() error { return e.persist(after) }, persistUndo); err != nil {
		return j.revert(err)
	}
	for i, eff := range p.pushes {
		undo := eff.undo
		if i == len(p.pushes)-1 {
			undo = nil
		}
		if err := j.step(eff.name, eff.apply, undo); err != nil {
			return j.revert(err)
		}
	}
	return nil
}

// persist writes pos through a staged overlay committed as one batch.
func (e *Engine) persist(pos *Position) error {
	overlay := storage.NewOverlay(e.db)
	if err := (engineStore{st: kvstate.NewManager(overlay)}).savePosition(pos); err != nil {
		overlay.Discard()
		return err
	}
	return overlay.Commit()
}
