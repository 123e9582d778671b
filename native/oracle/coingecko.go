package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source fetches a fresh quote for an upstream asset identifier.
type Source interface {
	Fetch(ctx context.Context, assetID string) (Quote, error)
}

// BreakerSettings tunes the circuit breaker guarding an HTTP source.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func (s BreakerSettings) normalise() BreakerSettings {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 3
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 30 * time.Second
	}
	return s
}

// CoinGeckoSource adapts the public CoinGecko simple price API. Calls run
// behind a circuit breaker so a failing upstream is not hammered every tick.
type CoinGeckoSource struct {
	client   HTTPDoer
	endpoint string
	decimals uint8
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// NewCoinGeckoSource constructs a source quoting USD prices with decimals
// places.
func NewCoinGeckoSource(client HTTPDoer, endpoint string, decimals uint8, settings BreakerSettings, logger *slog.Logger) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	settings = settings.normalise()
	src := &CoinGeckoSource{client: client, endpoint: ep, decimals: decimals, logger: logger}
	src.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "coingecko",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("oracle source breaker state changed",
				slog.String("source", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return src
}

// State reports the breaker state, for health endpoints.
func (s *CoinGeckoSource) State() string {
	return s.breaker.State().String()
}

func (s *CoinGeckoSource) Fetch(ctx context.Context, assetID string) (Quote, error) {
	id := strings.ToLower(strings.TrimSpace(assetID))
	if id == "" {
		return Quote{}, fmt.Errorf("coingecko source: asset id required")
	}
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, id)
	})
	if err != nil {
		return Quote{}, err
	}
	return out.(Quote), nil
}

func (s *CoinGeckoSource) fetch(ctx context.Context, id string) (Quote, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko source: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko source: quote missing for %s", id)
	}
	raw, ok := entry["usd"]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko source: usd price missing for %s", id)
	}
	price, err := ParseDecimal(raw.String(), s.decimals)
	if err != nil {
		return Quote{}, fmt.Errorf("coingecko source: %w", err)
	}
	updated := time.Now().UTC()
	if ts, ok := entry["last_updated_at"]; ok {
		if secs, err := strconv.ParseInt(ts.String(), 10, 64); err == nil && secs > 0 {
			updated = time.Unix(secs, 0).UTC()
		}
	}
	return Quote{Price: price, Decimals: s.decimals, UpdatedAt: updated, Source: "coingecko"}, nil
}
