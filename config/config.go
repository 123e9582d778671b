package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the allocation token name for the chain's native asset.
const NativeToken = "native"

// Genesis is the TOML document describing the engine's initial world: the
// custody account, the stablecoin, collateral tokens, price feeds and opening
// balances.
type Genesis struct {
	EngineAccount string       `toml:"EngineAccount"`
	Admin         string       `toml:"Admin"`
	Weth          string       `toml:"Weth,omitempty"`
	Stablecoin    Token        `toml:"Stablecoin"`
	Tokens        []Token      `toml:"Tokens"`
	Feeds         []Feed       `toml:"Feeds"`
	Collaterals   []Collateral `toml:"Collaterals"`
	Allocations   []Allocation `toml:"Allocations"`
}

// Token registers a fungible token in the ledger.
type Token struct {
	Address  string `toml:"Address"`
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// Feed configures one price feed. Source is "manual" or "coingecko".
type Feed struct {
	ID            string `toml:"ID"`
	Owner         string `toml:"Owner,omitempty"`
	Decimals      uint8  `toml:"Decimals,omitempty"`
	Price         string `toml:"Price,omitempty"`
	Source        string `toml:"Source,omitempty"`
	AssetID       string `toml:"AssetID,omitempty"`
	MaxAgeSeconds int64  `toml:"MaxAgeSeconds,omitempty"`
}

// Collateral lists an accepted collateral asset, referenced by token address
// or symbol.
type Collateral struct {
	Token     string `toml:"Token"`
	Feed      string `toml:"Feed"`
	Threshold uint64 `toml:"Threshold"`
}

// Allocation credits Amount whole units of Token (or the native asset) to
// Account at bootstrap.
type Allocation struct {
	Account string `toml:"Account"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

// Load loads the genesis document from path, writing the default document
// first when the file does not exist.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Genesis{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("genesis %s: unknown field %s", path, undecoded[0].String())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the development genesis: USDC and WETH collateral at a 50%
// liquidation threshold, manually priced.
func Default() *Genesis {
	cfg := &Genesis{
		EngineAccount: "0x00000000000000000000000000000000000000e0",
		Admin:         "0x00000000000000000000000000000000000000d0",
		Weth:          "WETH",
		Stablecoin:    Token{Address: "0x0000000000000000000000000000000000000005", Symbol: "USD", Name: "Engine Dollar", Decimals: 18},
		Tokens: []Token{
			{Address: "0x00000000000000000000000000000000000000c0", Symbol: "USDC", Name: "USD Coin", Decimals: 18},
			{Address: "0x00000000000000000000000000000000000000ee", Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18},
		},
		Feeds: []Feed{
			{ID: "usdc-usd", Price: "1"},
			{ID: "eth-usd", Price: "1800", Source: "coingecko", AssetID: "ethereum", MaxAgeSeconds: 3600},
		},
		Collaterals: []Collateral{
			{Token: "USDC", Feed: "usdc-usd", Threshold: 50},
			{Token: "WETH", Feed: "eth-usd", Threshold: 50},
		},
		Allocations: []Allocation{
			{Account: "0x00000000000000000000000000000000000000d0", Token: "USDC", Amount: "1000000"},
			{Account: "0x00000000000000000000000000000000000000d0", Token: NativeToken, Amount: "100"},
		},
	}
	cfg.normalize()
	return cfg
}

func createDefault(path string) (*Genesis, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (g *Genesis) normalize() {
	for i := range g.Feeds {
		feed := &g.Feeds[i]
		feed.ID = strings.ToLower(strings.TrimSpace(feed.ID))
		feed.Source = strings.ToLower(strings.TrimSpace(feed.Source))
		if feed.Source == "" {
			feed.Source = "manual"
		}
		if feed.Decimals == 0 {
			feed.Decimals = 8
		}
	}
	for i := range g.Tokens {
		g.Tokens[i].Symbol = strings.ToUpper(strings.TrimSpace(g.Tokens[i].Symbol))
	}
	g.Stablecoin.Symbol = strings.ToUpper(strings.TrimSpace(g.Stablecoin.Symbol))
}

// Validate checks addresses, references between sections and amounts.
func (g *Genesis) Validate() error {
	if _, err := ParseAddress(g.EngineAccount); err != nil {
		return fmt.Errorf("EngineAccount: %w", err)
	}
	if _, err := ParseAddress(g.Admin); err != nil {
		return fmt.Errorf("Admin: %w", err)
	}
	if err := g.Stablecoin.validate(); err != nil {
		return fmt.Errorf("Stablecoin: %w", err)
	}
	seen := map[common.Address]bool{}
	stable, _ := ParseAddress(g.Stablecoin.Address)
	seen[stable] = true
	for i, tok := range g.Tokens {
		if err := tok.validate(); err != nil {
			return fmt.Errorf("Tokens[%d]: %w", i, err)
		}
		addr, _ := ParseAddress(tok.Address)
		if seen[addr] {
			return fmt.Errorf("Tokens[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = true
	}
	feeds := map[string]bool{}
	for i, feed := range g.Feeds {
		if feed.ID == "" {
			return fmt.Errorf("Feeds[%d]: ID required", i)
		}
		if feeds[feed.ID] {
			return fmt.Errorf("Feeds[%d]: duplicate feed %q", i, feed.ID)
		}
		feeds[feed.ID] = true
		switch feed.Source {
		case "manual":
		case "coingecko":
			if strings.TrimSpace(feed.AssetID) == "" {
				return fmt.Errorf("Feeds[%d]: AssetID required for coingecko", i)
			}
		default:
			return fmt.Errorf("Feeds[%d]: unsupported source %q", i, feed.Source)
		}
		if feed.Owner != "" {
			if _, err := ParseAddress(feed.Owner); err != nil {
				return fmt.Errorf("Feeds[%d].Owner: %w", i, err)
			}
		}
		if feed.Price != "" {
			if _, err := ParseUnits(feed.Price, feed.Decimals); err != nil {
				return fmt.Errorf("Feeds[%d].Price: %w", i, err)
			}
		}
	}
	for i, c := range g.Collaterals {
		if _, ok := g.ResolveToken(c.Token); !ok {
			return fmt.Errorf("Collaterals[%d]: unknown token %q", i, c.Token)
		}
		if !feeds[strings.ToLower(strings.TrimSpace(c.Feed))] {
			return fmt.Errorf("Collaterals[%d]: unknown feed %q", i, c.Feed)
		}
		if c.Threshold > 100 {
			return fmt.Errorf("Collaterals[%d]: threshold %d above 100", i, c.Threshold)
		}
	}
	if g.Weth != "" {
		if _, ok := g.ResolveToken(g.Weth); !ok {
			return fmt.Errorf("Weth: unknown token %q", g.Weth)
		}
	}
	for i, a := range g.Allocations {
		if _, err := ParseAddress(a.Account); err != nil {
			return fmt.Errorf("Allocations[%d].Account: %w", i, err)
		}
		decimals := uint8(18)
		if !strings.EqualFold(a.Token, NativeToken) {
			tok, ok := g.ResolveToken(a.Token)
			if !ok {
				return fmt.Errorf("Allocations[%d]: unknown token %q", i, a.Token)
			}
			if tok.Address == g.Stablecoin.Address {
				return fmt.Errorf("Allocations[%d]: stablecoin is only issued against collateral", i)
			}
			decimals = tok.Decimals
		}
		if _, err := ParseUnits(a.Amount, decimals); err != nil {
			return fmt.Errorf("Allocations[%d].Amount: %w", i, err)
		}
	}
	return nil
}

func (t Token) validate() error {
	if _, err := ParseAddress(t.Address); err != nil {
		return err
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol required")
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name required")
	}
	return nil
}

// ResolveToken finds a token by address or symbol, including the stablecoin.
func (g *Genesis) ResolveToken(ref string) (Token, bool) {
	ref = strings.TrimSpace(ref)
	candidates := append([]Token{g.Stablecoin}, g.Tokens...)
	for _, tok := range candidates {
		if strings.EqualFold(tok.Symbol, ref) || strings.EqualFold(tok.Address, ref) {
			return tok, true
		}
	}
	return Token{}, false
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

// ParseUnits converts a decimal string of whole units into base units with
// the given precision. Fractions below one base unit are truncated.
func ParseUnits(raw string, decimals uint8) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("empty amount")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if rat.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
