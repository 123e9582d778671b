package config

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genesis.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default genesis not persisted: %v", err)
	}
	if len(cfg.Collaterals) != 2 {
		t.Fatalf("expected 2 collaterals, got %d", len(cfg.Collaterals))
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Stablecoin.Symbol != "USD" || reloaded.Feeds[1].AssetID != "ethereum" {
		t.Fatalf("unexpected reloaded genesis: %+v", reloaded)
	}
}

func TestLoadParsesGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	contents := `EngineAccount = "0x00000000000000000000000000000000000000e0"
Admin = "0x00000000000000000000000000000000000000d0"

[Stablecoin]
Address = "0x0000000000000000000000000000000000000005"
Symbol = "usd"
Name = "Engine Dollar"
Decimals = 18

[[Tokens]]
Address = "0x00000000000000000000000000000000000000c0"
Symbol = "usdc"
Name = "USD Coin"
Decimals = 6

[[Feeds]]
ID = "USDC-USD"
Price = "0.9999"

[[Collaterals]]
Token = "USDC"
Feed = "usdc-usd"
Threshold = 80

[[Allocations]]
Account = "0x00000000000000000000000000000000000000a1"
Token = "usdc"
Amount = "1_000.5"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	feed := cfg.Feeds[0]
	if feed.ID != "usdc-usd" || feed.Source != "manual" || feed.Decimals != 8 {
		t.Fatalf("feed defaults not applied: %+v", feed)
	}
	tok, ok := cfg.ResolveToken("USDC")
	if !ok || tok.Decimals != 6 {
		t.Fatalf("resolve token: %+v %v", tok, ok)
	}
	amount, err := ParseUnits(cfg.Allocations[0].Amount, tok.Decimals)
	if err != nil {
		t.Fatalf("parse units: %v", err)
	}
	if amount.Cmp(big.NewInt(1_000_500_000)) != 0 {
		t.Fatalf("unexpected amount %s", amount)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.toml")
	if err := os.WriteFile(path, []byte("Liquidator = \"0x01\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidateRejectsBadReferences(t *testing.T) {
	cases := map[string]func(g *Genesis){
		"threshold":     func(g *Genesis) { g.Collaterals[0].Threshold = 101 },
		"unknown feed":  func(g *Genesis) { g.Collaterals[0].Feed = "dai-usd" },
		"unknown token": func(g *Genesis) { g.Collaterals[1].Token = "DAI" },
		"weth":          func(g *Genesis) { g.Weth = "DAI" },
		"coingecko id":  func(g *Genesis) { g.Feeds[1].AssetID = "" },
		"duplicate":     func(g *Genesis) { g.Tokens[1].Address = g.Tokens[0].Address },
		"admin":         func(g *Genesis) { g.Admin = "bech1xyz" },
		"amount":        func(g *Genesis) { g.Allocations[0].Amount = "-1" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default genesis invalid: %v", err)
	}
}

func TestParseAddressRejectsZero(t *testing.T) {
	if _, err := ParseAddress("0x0000000000000000000000000000000000000000"); err == nil {
		t.Fatalf("expected zero address rejection")
	}
	if _, err := ParseAddress("0x00000000000000000000000000000000000000a1"); err != nil {
		t.Fatalf("parse: %v", err)
	}
}
