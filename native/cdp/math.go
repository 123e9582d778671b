package cdp

import (
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// LiquidationPrecision is the denominator of liquidation thresholds.
	LiquidationPrecision = 100
	// MaxLiquidationThreshold caps thresholds at 100%.
	MaxLiquidationThreshold = 100
)

var (
	// Precision is the 1e18 fixed-point scale for USD values and health factors.
	Precision = mustBigInt("1000000000000000000")
	// MinHealthFactor is 1.0 in 1e18 fixed point.
	MinHealthFactor = mustBigInt("1000000000000000000")
	// MaxHealthFactor is reported for positions without debt.
	MaxHealthFactor = new(uint256.Int).SetAllOne().ToBig()

	hundred = big.NewInt(LiquidationPrecision)
	pow10s  = func() [78]*big.Int {
		var out [78]*big.Int
		out[0] = big.NewInt(1)
		ten := big.NewInt(10)
		for i := 1; i < len(out); i++ {
			out[i] = new(big.Int).Mul(out[i-1], ten)
		}
		return out
	}()
)

func mustBigInt(v string) *big.Int {
	out, ok := new(big.Int).SetString(v, 10)
	if !ok {
		panic("cdp: invalid big integer constant " + v)
	}
	return out
}

func pow10(exp uint8) *big.Int {
	if int(exp) < len(pow10s) {
		return pow10s[exp]
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)
}

func zero() *big.Int { return big.NewInt(0) }

// checkAmount enforces a strictly positive amount representable in 256 bits.
func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return ErrAmountOverflow
	}
	return nil
}

// UsdValue converts amount token units into 1e18 USD:
// amount * price * 1e18 / (10^tokenDecimals * 10^priceDecimals), floored.
// For 18-decimal tokens this reduces to amount * price / 10^priceDecimals.
func UsdValue(amount, price *big.Int, priceDecimals, tokenDecimals uint8) *big.Int {
	if amount == nil || price == nil || amount.Sign() <= 0 || price.Sign() <= 0 {
		return zero()
	}
	num := new(big.Int).Mul(amount, price)
	num.Mul(num, Precision)
	den := new(big.Int).Mul(pow10(tokenDecimals), pow10(priceDecimals))
	return num.Quo(num, den)
}

// TokenAmountFromUsd is the floored inverse of UsdValue. Zero prices yield 0.
func TokenAmountFromUsd(usd, price *big.Int, priceDecimals, tokenDecimals uint8) *big.Int {
	if usd == nil || price == nil || usd.Sign() <= 0 || price.Sign() <= 0 {
		return zero()
	}
	num := new(big.Int).Mul(usd, pow10(tokenDecimals))
	num.Mul(num, pow10(priceDecimals))
	den := new(big.Int).Mul(price, Precision)
	return num.Quo(num, den)
}

// AdjustedValue applies a liquidation threshold percentage to value.
func AdjustedValue(value *big.Int, threshold uint64) *big.Int {
	if value == nil || value.Sign() <= 0 || threshold == 0 {
		return zero()
	}
	out := new(big.Int).Mul(value, new(big.Int).SetUint64(threshold))
	return out.Quo(out, hundred)
}

// CalculateHealthFactor returns adjusted * 1e18 / debt, floored, or
// MaxHealthFactor when there is no debt.
func CalculateHealthFactor(adjustedCollateral, debt *big.Int) *big.Int {
	if debt == nil || debt.Sign() <= 0 {
		return new(big.Int).Set(MaxHealthFactor)
	}
	if adjustedCollateral == nil || adjustedCollateral.Sign() <= 0 {
		return zero()
	}
	out := new(big.Int).Mul(adjustedCollateral, Precision)
	return out.Quo(out, debt)
}

// IsHealthy reports hf >= MinHealthFactor.
func IsHealthy(hf *big.Int) bool {
	return hf != nil && hf.Cmp(MinHealthFactor) >= 0
}

// FormatHealthFactor renders a 1e18 fixed-point health factor as a decimal
// string with trailing zeros trimmed. The no-debt sentinel renders as "inf".
func FormatHealthFactor(hf *big.Int) string {
	if hf == nil {
		return "0"
	}
	if hf.Cmp(MaxHealthFactor) == 0 {
		return "inf"
	}
	whole, frac := new(big.Int).QuoRem(hf, Precision, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", 18-len(fracStr)) + fracStr
	return whole.String() + "." + strings.TrimRight(fracStr, "0")
}
