package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultDecimals matches the 8-decimal USD feeds collateral is priced with.
const DefaultDecimals uint8 = 8

var (
	ErrUnauthorized  = errors.New("oracle: caller cannot update this feed")
	ErrNegativePrice = errors.New("oracle: price must not be negative")
	ErrNoQuote       = errors.New("oracle: no quote recorded")
	ErrUnknownFeed   = errors.New("oracle: unknown feed")
)

// Quote is a single observation of a USD price.
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := q
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Feed is a price source consumed by the debt engine.
type Feed interface {
	GetPrice() (*big.Int, uint8, error)
}

// QuoteReader exposes the timestamped quote behind a feed.
type QuoteReader interface {
	Latest() (Quote, error)
}

// ManualFeed is an in-memory feed updated by a privileged owner or by the
// poller. A zero price is accepted and signals an untrusted asset.
type ManualFeed struct {
	mu       sync.RWMutex
	owner    common.Address
	decimals uint8
	quote    *Quote
	now      func() time.Time
}

// NewManualFeed constructs a feed whose price carries decimals places and that
// only owner may update through UpdatePrice.
func NewManualFeed(owner common.Address, decimals uint8) *ManualFeed {
	return &ManualFeed{owner: owner, decimals: decimals, now: time.Now}
}

// SetClock overrides the time source, used by tests.
func (f *ManualFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.now = now
	f.mu.Unlock()
}

// Owner returns the account allowed to push prices.
func (f *ManualFeed) Owner() common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.owner
}

// UpdatePrice records price on behalf of caller.
func (f *ManualFeed) UpdatePrice(caller common.Address, price *big.Int) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not configured")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if caller != f.owner {
		return ErrUnauthorized
	}
	return f.record(Quote{Price: price, Decimals: f.decimals, UpdatedAt: f.now(), Source: "manual"})
}

// Record stores q verbatim. It is the in-process path used by the poller and
// bootstrap code, which are trusted.
func (f *ManualFeed) Record(q Quote) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not configured")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = f.now()
	}
	if q.Decimals != f.decimals && q.Price != nil {
		q.Price = rescale(q.Price, q.Decimals, f.decimals)
		q.Decimals = f.decimals
	}
	return f.record(q)
}

func (f *ManualFeed) record(q Quote) error {
	if q.Price == nil {
		q.Price = new(big.Int)
	}
	if q.Price.Sign() < 0 {
		return ErrNegativePrice
	}
	stored := q.Clone()
	f.quote = &stored
	return nil
}

// GetPrice returns the last recorded price. A feed that was never updated
// reports zero.
func (f *ManualFeed) GetPrice() (*big.Int, uint8, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return new(big.Int), f.decimals, nil
	}
	return new(big.Int).Set(f.quote.Price), f.quote.Decimals, nil
}

// Latest returns the last recorded quote with its timestamp.
func (f *ManualFeed) Latest() (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return Quote{}, ErrNoQuote
	}
	return f.quote.Clone(), nil
}

func rescale(v *big.Int, from, to uint8) *big.Int {
	out := new(big.Int).Set(v)
	switch {
	case from < to:
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil))
	case from > to:
		return out.Quo(out, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(from-to)), nil))
	}
	return out
}

// ParseDecimal converts a decimal string such as "1800.25" into an integer
// price carrying decimals places, truncating extra precision.
func ParseDecimal(raw string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("oracle: empty price")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid price %q", raw)
	}
	if rat.Sign() < 0 {
		return nil, ErrNegativePrice
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom()), nil
}
