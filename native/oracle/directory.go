package oracle

import (
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"
)

// Directory maps feed identifiers to feeds. Identifiers are case-insensitive.
type Directory struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

func NewDirectory() *Directory {
	return &Directory{feeds: make(map[string]Feed)}
}

func normaliseID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register adds or replaces the feed stored under id.
func (d *Directory) Register(id string, feed Feed) {
	key := normaliseID(id)
	if key == "" || feed == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feeds[key] = feed
}

// Feed resolves id.
func (d *Directory) Feed(id string) (Feed, bool) {
	if d == nil {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	feed, ok := d.feeds[normaliseID(id)]
	return feed, ok
}

// Manual returns the feed under id when it accepts manual updates.
func (d *Directory) Manual(id string) (*ManualFeed, bool) {
	feed, ok := d.Feed(id)
	if !ok {
		return nil, false
	}
	for {
		switch f := feed.(type) {
		case *ManualFeed:
			return f, true
		case *StaleGuard:
			feed = f.feed
		default:
			return nil, false
		}
	}
}

// IDs lists registered identifiers in sorted order.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.feeds))
	for id := range d.feeds {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StaleGuard reports a zero price once the wrapped feed's quote is older than
// maxAge, so the engine treats the asset as untrusted.
type StaleGuard struct {
	feed   Feed
	maxAge time.Duration
	now    func() time.Time
}

// NewStaleGuard wraps feed. A non-positive maxAge disables the check.
func NewStaleGuard(feed Feed, maxAge time.Duration) *StaleGuard {
	return &StaleGuard{feed: feed, maxAge: maxAge, now: time.Now}
}

func (g *StaleGuard) GetPrice() (*big.Int, uint8, error) {
	price, decimals, err := g.feed.GetPrice()
	if err != nil || g.maxAge <= 0 {
		return price, decimals, err
	}
	reader, ok := g.feed.(QuoteReader)
	if !ok {
		return price, decimals, nil
	}
	quote, err := reader.Latest()
	if err != nil {
		return new(big.Int), decimals, nil
	}
	if g.now().Sub(quote.UpdatedAt) > g.maxAge {
		return new(big.Int), decimals, nil
	}
	return price, decimals, nil
}

func (g *StaleGuard) Latest() (Quote, error) {
	reader, ok := g.feed.(QuoteReader)
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return reader.Latest()
}
