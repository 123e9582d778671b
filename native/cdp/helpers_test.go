package cdp

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/core/events"
	"usdengine/native/token"
	"usdengine/storage"
)

var (
	deployerAddr = common.HexToAddress("0xd0")
	aliceAddr    = common.HexToAddress("0xa1")
	engineAddr   = common.HexToAddress("0xe0")
	usdAddr      = common.HexToAddress("0x05")
	usdcAddr     = common.HexToAddress("0xc0")
	wethAddr     = common.HexToAddress("0xee")
)

type testFeed struct {
	mu       sync.Mutex
	price    *big.Int
	decimals uint8
	err      error
}

func newTestFeed(price int64) *testFeed {
	return &testFeed{price: big.NewInt(price), decimals: 8}
}

func (f *testFeed) GetPrice() (*big.Int, uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, 0, f.err
	}
	return new(big.Int).Set(f.price), f.decimals, nil
}

func (f *testFeed) set(price int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = big.NewInt(price)
	f.err = nil
}

func (f *testFeed) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]string
	breaches int
}

func (m *recordingMetrics) ObserveOperation(op, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = make(map[string]string)
	}
	m.outcomes[op] = outcome
}

func (m *recordingMetrics) ObserveHealthFactorBreach(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breaches++
}

type fixture struct {
	db       *storage.MemDB
	ledger   *token.Ledger
	bank     *token.Bank
	engine   *Engine
	usd      *token.Token
	usdc     *token.Token
	usdcFeed *testFeed
	wethFeed *testFeed
	emitter  *recordingEmitter
}

// newFixture deploys the stablecoin, a test USDC and a WETH marker token,
// hands the mint authority to the engine and registers both collaterals at a
// 50% threshold. WETH is priced at 1800 USD and designated native.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	ledger := token.NewLedger(db)
	usd, err := ledger.Register(usdAddr, "USD", "Tokenized USD", 18, deployerAddr)
	if err != nil {
		t.Fatalf("register usd: %v", err)
	}
	usdc, err := ledger.Register(usdcAddr, "USDC", "USDC Test", 18, deployerAddr)
	if err != nil {
		t.Fatalf("register usdc: %v", err)
	}
	if _, err := ledger.Register(wethAddr, "WETH", "Wrapped Ether", 18, deployerAddr); err != nil {
		t.Fatalf("register weth: %v", err)
	}
	if err := usdc.Mint(deployerAddr, deployerAddr, ether(1_000_000)); err != nil {
		t.Fatalf("seed usdc: %v", err)
	}
	if err := usd.TransferMintAuthority(deployerAddr, engineAddr); err != nil {
		t.Fatalf("transfer authority: %v", err)
	}
	bank := token.NewBank(db)
	if err := bank.Credit(deployerAddr, ether(100)); err != nil {
		t.Fatalf("credit native: %v", err)
	}

	engine, err := NewEngine(engineAddr, usd)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	usdcFeed := newTestFeed(100_000_000)
	wethFeed := newTestFeed(100_000_000)
	engine.SetState(db)
	engine.SetTokens(TokenDirectoryFunc(func(asset common.Address) (FungibleToken, error) {
		tok, err := ledger.Token(asset)
		if err != nil {
			return nil, err
		}
		return tok, nil
	}))
	engine.SetFeeds(FeedDirectoryFunc(func(id string) (PriceOracle, bool) {
		switch id {
		case "usdc":
			return usdcFeed, true
		case "weth":
			return wethFeed, true
		}
		return nil, false
	}))
	engine.SetNativeBank(bank)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)

	if err := engine.Initialize(deployerAddr,
		[]common.Address{usdcAddr, wethAddr},
		[]string{"usdc", "weth"},
		[]uint64{50, 50}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	wethFeed.set(180_000_000_000)
	if err := engine.UpdateWETH(deployerAddr, wethAddr); err != nil {
		t.Fatalf("update weth: %v", err)
	}
	return &fixture{
		db:       db,
		ledger:   ledger,
		bank:     bank,
		engine:   engine,
		usd:      usd,
		usdc:     usdc,
		usdcFeed: usdcFeed,
		wethFeed: wethFeed,
		emitter:  emitter,
	}
}

func call(caller common.Address) Call { return Call{Caller: caller} }

func (f *fixture) approveUsdc(t *testing.T, owner common.Address, amount *big.Int) {
	t.Helper()
	if err := f.usdc.Approve(owner, engineAddr, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (f *fixture) depositAndMint(t *testing.T, user common.Address, collateral, usd *big.Int) {
	t.Helper()
	f.approveUsdc(t, user, collateral)
	if err := f.engine.DepositCollateralAndMintUsd(call(user), usdcAddr, collateral, usd); err != nil {
		t.Fatalf("deposit and mint: %v", err)
	}
}

func balanceOf(t *testing.T, tok *token.Token, holder common.Address) *big.Int {
	t.Helper()
	bal, err := tok.BalanceOf(holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func requireAmount(t *testing.T, label string, got, want *big.Int) {
	t.Helper()
	if got == nil || got.Cmp(want) != 0 {
		t.Fatalf("%s: got %v want %s", label, got, want)
	}
}

func requireHealthFactorError(t *testing.T, err error, want string) {
	t.Helper()
	var hfErr *HealthFactorError
	if !errors.As(err, &hfErr) {
		t.Fatalf("expected health factor error, got %v", err)
	}
	if hfErr.HealthFactor.String() != want {
		t.Fatalf("unexpected health factor %s, want %s", hfErr.HealthFactor, want)
	}
	if !errors.Is(err, ErrBreaksHealthFactor) {
		t.Fatalf("health factor error must match sentinel")
	}
}

func (f *fixture) requireBalanced(t *testing.T) {
	t.Helper()
	report, err := f.engine.Supply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if !report.Balanced() {
		t.Fatalf("supply %s does not match total debt %s", report.TotalSupply, report.TotalDebt)
	}
}
