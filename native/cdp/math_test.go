package cdp

import (
	"math/big"
	"testing"
)

func ether(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), Precision)
}

func TestHealthFactorReferenceValue(t *testing.T) {
	value := UsdValue(ether(1000), big.NewInt(100_000_000), 8, 18)
	if value.Cmp(ether(1000)) != 0 {
		t.Fatalf("unexpected usd value %s", value)
	}
	adjusted := AdjustedValue(value, 50)
	hf := CalculateHealthFactor(adjusted, ether(501))
	if hf.String() != "998003992015968063" {
		t.Fatalf("unexpected health factor %s", hf)
	}
	if IsHealthy(hf) {
		t.Fatalf("501 against 500 adjusted must be unhealthy")
	}
	if !IsHealthy(CalculateHealthFactor(adjusted, ether(500))) {
		t.Fatalf("exact threshold must be healthy")
	}
}

func TestHealthFactorNoDebtIsMax(t *testing.T) {
	hf := CalculateHealthFactor(zero(), zero())
	if hf.Cmp(MaxHealthFactor) != 0 {
		t.Fatalf("expected max sentinel, got %s", hf)
	}
	if FormatHealthFactor(hf) != "inf" {
		t.Fatalf("unexpected rendering %s", FormatHealthFactor(hf))
	}
	if CalculateHealthFactor(zero(), big.NewInt(1)).Sign() != 0 {
		t.Fatalf("zero collateral with debt must be zero")
	}
}

func TestUsdValueHonoursTokenDecimals(t *testing.T) {
	// 1 WBTC with 8 decimals at $60,000 (8-decimal feed).
	value := UsdValue(big.NewInt(100_000_000), big.NewInt(6_000_000_000_000), 8, 8)
	if value.Cmp(ether(60_000)) != 0 {
		t.Fatalf("unexpected value %s", value)
	}
	back := TokenAmountFromUsd(ether(30_000), big.NewInt(6_000_000_000_000), 8, 8)
	if back.Int64() != 50_000_000 {
		t.Fatalf("unexpected inverse %s", back)
	}
	if TokenAmountFromUsd(ether(1), zero(), 8, 18).Sign() != 0 {
		t.Fatalf("zero price must convert to zero")
	}
}

func TestFormatHealthFactor(t *testing.T) {
	cases := map[string]string{
		"998003992015968063":  "0.998003992015968063",
		"1000000000000000000": "1",
		"1500000000000000000": "1.5",
		"0":                   "0",
	}
	for in, want := range cases {
		got := FormatHealthFactor(mustBigInt(in))
		if got != want {
			t.Fatalf("format %s: got %s want %s", in, got, want)
		}
	}
}

func TestCheckAmount(t *testing.T) {
	if err := checkAmount(nil); err != ErrInvalidAmount {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := checkAmount(huge); err != ErrAmountOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := checkAmount(big.NewInt(1)); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}
