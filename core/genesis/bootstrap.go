package genesis

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"usdengine/config"
	"usdengine/core/events"
	"usdengine/native/cdp"
	"usdengine/native/oracle"
	"usdengine/native/token"
	"usdengine/storage"
)

// Binding routes an upstream asset quote into a manual feed.
type Binding struct {
	FeedID  string
	AssetID string
	Feed    *oracle.ManualFeed
}

// Runtime is the wired engine together with the ledgers and feeds it runs on.
type Runtime struct {
	Admin      common.Address
	Ledger     *token.Ledger
	Bank       *token.Bank
	Stablecoin *token.Token
	Feeds      *oracle.Directory
	Engine     *cdp.Engine
	Bindings   []Binding
	// Fresh reports whether this call applied the genesis allocations.
	Fresh bool
}

// Build wires the engine over db. Tokens, allocations and the collateral
// registry are written only when the stablecoin is not yet registered, so
// restarting against persisted state keeps balances and positions.
func Build(spec *config.Genesis, db storage.Database, emitter events.Emitter, logger *slog.Logger) (*Runtime, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("database must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	admin, err := config.ParseAddress(spec.Admin)
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	account, err := config.ParseAddress(spec.EngineAccount)
	if err != nil {
		return nil, fmt.Errorf("engine account: %w", err)
	}

	rt := &Runtime{
		Admin:  admin,
		Ledger: token.NewLedger(db),
		Bank:   token.NewBank(db),
		Feeds:  oracle.NewDirectory(),
	}
	rt.Ledger.SetEmitter(emitter)

	if err := rt.registerFeeds(spec); err != nil {
		return nil, err
	}

	stableAddr, err := config.ParseAddress(spec.Stablecoin.Address)
	if err != nil {
		return nil, fmt.Errorf("stablecoin: %w", err)
	}
	if _, err := rt.Ledger.Token(stableAddr); errors.Is(err, token.ErrUnknownToken) {
		rt.Fresh = true
		if err := rt.applyLedger(spec, account); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("load stablecoin: %w", err)
	}
	if rt.Stablecoin, err = rt.Ledger.Token(stableAddr); err != nil {
		return nil, err
	}

	engine, err := cdp.NewEngine(account, rt.Stablecoin)
	if err != nil {
		return nil, err
	}
	engine.SetState(db)
	engine.SetTokens(cdp.TokenDirectoryFunc(func(asset common.Address) (cdp.FungibleToken, error) {
		tok, err := rt.Ledger.Token(asset)
		if err != nil {
			return nil, err
		}
		return tok, nil
	}))
	engine.SetFeeds(cdp.FeedDirectoryFunc(func(id string) (cdp.PriceOracle, bool) {
		feed, ok := rt.Feeds.Feed(id)
		if !ok {
			return nil, false
		}
		return feed, true
	}))
	engine.SetNativeBank(rt.Bank)
	engine.SetEmitter(emitter)
	engine.SetLogger(logger)
	rt.Engine = engine

	if _, err := engine.Admin(); errors.Is(err, cdp.ErrNotInitialized) {
		if err := rt.initializeEngine(spec); err != nil {
			return nil, err
		}
		logger.Info("cdp engine initialized",
			slog.String("account", account.Hex()),
			slog.Int("collaterals", len(spec.Collaterals)))
	} else if err != nil {
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) registerFeeds(spec *config.Genesis) error {
	feeds := append([]config.Feed(nil), spec.Feeds...)
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })
	for _, f := range feeds {
		owner := rt.Admin
		if strings.TrimSpace(f.Owner) != "" {
			parsed, err := config.ParseAddress(f.Owner)
			if err != nil {
				return fmt.Errorf("feed %q owner: %w", f.ID, err)
			}
			owner = parsed
		}
		manual := oracle.NewManualFeed(owner, f.Decimals)
		if f.Price != "" {
			price, err := config.ParseUnits(f.Price, f.Decimals)
			if err != nil {
				return fmt.Errorf("feed %q price: %w", f.ID, err)
			}
			if err := manual.Record(oracle.Quote{Price: price, Decimals: f.Decimals, Source: "genesis"}); err != nil {
				return fmt.Errorf("feed %q: %w", f.ID, err)
			}
		}
		var feed oracle.Feed = manual
		if f.MaxAgeSeconds > 0 {
			feed = oracle.NewStaleGuard(manual, time.Duration(f.MaxAgeSeconds)*time.Second)
		}
		rt.Feeds.Register(f.ID, feed)
		if f.Source == "coingecko" {
			rt.Bindings = append(rt.Bindings, Binding{FeedID: f.ID, AssetID: f.AssetID, Feed: manual})
		}
	}
	return nil
}

// applyLedger registers tokens (sorted by symbol), applies allocations
// (sorted by account, then token) and hands the stablecoin mint authority to
// the engine account.
func (rt *Runtime) applyLedger(spec *config.Genesis, account common.Address) error {
	stable, err := rt.register(spec.Stablecoin)
	if err != nil {
		return err
	}
	tokens := append([]config.Token(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
	for _, tok := range tokens {
		if _, err := rt.register(tok); err != nil {
			return err
		}
	}

	allocs := append([]config.Allocation(nil), spec.Allocations...)
	sort.SliceStable(allocs, func(i, j int) bool {
		ai, aj := strings.ToLower(allocs[i].Account), strings.ToLower(allocs[j].Account)
		if ai != aj {
			return ai < aj
		}
		return strings.ToUpper(allocs[i].Token) < strings.ToUpper(allocs[j].Token)
	})
	for _, alloc := range allocs {
		holder, err := config.ParseAddress(alloc.Account)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", alloc.Account, err)
		}
		if strings.EqualFold(alloc.Token, config.NativeToken) {
			amount, err := config.ParseUnits(alloc.Amount, 18)
			if err != nil {
				return fmt.Errorf("alloc[%q][native]: %w", alloc.Account, err)
			}
			if err := rt.Bank.Credit(holder, amount); err != nil {
				return fmt.Errorf("alloc[%q][native]: %w", alloc.Account, err)
			}
			continue
		}
		entry, ok := spec.ResolveToken(alloc.Token)
		if !ok {
			return fmt.Errorf("alloc[%q]: unknown token %q", alloc.Account, alloc.Token)
		}
		amount, err := config.ParseUnits(alloc.Amount, entry.Decimals)
		if err != nil {
			return fmt.Errorf("alloc[%q][%q]: %w", alloc.Account, alloc.Token, err)
		}
		addr, _ := config.ParseAddress(entry.Address)
		tok, err := rt.Ledger.Token(addr)
		if err != nil {
			return err
		}
		if err := tok.Mint(rt.Admin, holder, amount); err != nil {
			return fmt.Errorf("alloc[%q][%q]: %w", alloc.Account, alloc.Token, err)
		}
	}
	if err := stable.TransferMintAuthority(rt.Admin, account); err != nil {
		return fmt.Errorf("stablecoin mint authority: %w", err)
	}
	return nil
}

func (rt *Runtime) register(spec config.Token) (*token.Token, error) {
	addr, err := config.ParseAddress(spec.Address)
	if err != nil {
		return nil, fmt.Errorf("token %q: %w", spec.Symbol, err)
	}
	tok, err := rt.Ledger.Register(addr, spec.Symbol, spec.Name, spec.Decimals, rt.Admin)
	if err != nil {
		return nil, fmt.Errorf("token %q: %w", spec.Symbol, err)
	}
	return tok, nil
}

func (rt *Runtime) initializeEngine(spec *config.Genesis) error {
	assets := make([]common.Address, 0, len(spec.Collaterals))
	feeds := make([]string, 0, len(spec.Collaterals))
	thresholds := make([]uint64, 0, len(spec.Collaterals))
	for _, c := range spec.Collaterals {
		tok, ok := spec.ResolveToken(c.Token)
		if !ok {
			return fmt.Errorf("collateral %q: unknown token", c.Token)
		}
		addr, err := config.ParseAddress(tok.Address)
		if err != nil {
			return err
		}
		assets = append(assets, addr)
		feeds = append(feeds, strings.ToLower(strings.TrimSpace(c.Feed)))
		thresholds = append(thresholds, c.Threshold)
	}
	if err := rt.Engine.Initialize(rt.Admin, assets, feeds, thresholds); err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	if spec.Weth == "" {
		return nil
	}
	tok, ok := spec.ResolveToken(spec.Weth)
	if !ok {
		return fmt.Errorf("weth: unknown token %q", spec.Weth)
	}
	weth, err := config.ParseAddress(tok.Address)
	if err != nil {
		return err
	}
	return rt.Engine.UpdateWETH(rt.Admin, weth)
}
