package cdp

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNilState            = errors.New("cdp engine: state not configured")
	ErrInvalidAmount       = errors.New("cdp engine: amount must be positive")
	ErrAmountOverflow      = errors.New("cdp engine: amount exceeds 256 bits")
	ErrUnsupportedAsset    = errors.New("cdp engine: collateral asset not supported")
	ErrUnauthorized        = errors.New("cdp engine: caller is not the admin")
	ErrInvalidThreshold    = errors.New("cdp engine: liquidation threshold must be between 0 and 100")
	ErrArrayLengthMismatch = errors.New("cdp engine: assets, feeds and thresholds length mismatch")
	ErrInsufficientBalance = errors.New("cdp engine: insufficient balance")
	ErrNativeValueMismatch = errors.New("cdp engine: attached native value does not match collateral amount")
	ErrUnknownFeed         = errors.New("cdp engine: unknown price feed")
	ErrMintAuthority       = errors.New("cdp engine: engine does not hold the stablecoin mint authority")
	ErrAlreadyInitialized  = errors.New("cdp engine: already initialized")
	ErrNotInitialized      = errors.New("cdp engine: not initialized")
	ErrEngineCaller        = errors.New("cdp engine: engine account cannot act as caller")

	// ErrBreaksHealthFactor matches every *HealthFactorError.
	ErrBreaksHealthFactor = errors.New("cdp engine: breaks health factor")
	// ErrZeroPrice matches every *ZeroPriceError.
	ErrZeroPrice = errors.New("cdp engine: zero or untrusted price")
	// ErrIndexOutOfRange matches every *IndexOutOfRangeError.
	ErrIndexOutOfRange = errors.New("cdp engine: index out of range")
)

// HealthFactorError reports the health factor the rejected operation would
// have produced, 1e18 fixed point.
type HealthFactorError struct {
	HealthFactor *big.Int
}

func (e *HealthFactorError) Error() string {
	hf := "0"
	if e.HealthFactor != nil {
		hf = e.HealthFactor.String()
	}
	return fmt.Sprintf("%s (%s)", ErrBreaksHealthFactor.Error(), hf)
}

func (e *HealthFactorError) Is(target error) bool { return target == ErrBreaksHealthFactor }

// ZeroPriceError blocks new risk against an asset whose feed reports zero or
// fails to answer.
type ZeroPriceError struct {
	Asset common.Address
	Cause error
}

func (e *ZeroPriceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s for %s: %v", ErrZeroPrice.Error(), e.Asset.Hex(), e.Cause)
	}
	return fmt.Sprintf("%s for %s", ErrZeroPrice.Error(), e.Asset.Hex())
}

func (e *ZeroPriceError) Is(target error) bool { return target == ErrZeroPrice }

func (e *ZeroPriceError) Unwrap() error { return e.Cause }

// IndexOutOfRangeError is returned by positional registry reads.
type IndexOutOfRangeError struct {
	Index  int
	Length int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("%s: index %d, length %d", ErrIndexOutOfRange.Error(), e.Index, e.Length)
}

func (e *IndexOutOfRangeError) Is(target error) bool { return target == ErrIndexOutOfRange }
