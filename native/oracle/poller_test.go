package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/goleak"
)

func coingeckoServer(t *testing.T, failing *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		if r.URL.Query().Get("vs_currencies") != "usd" {
			http.Error(w, "bad currency", http.StatusBadRequest)
			return
		}
		id := r.URL.Query().Get("ids")
		fmt.Fprintf(w, `{%q:{"usd":1800.5,"last_updated_at":1767225600}}`, id)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCoinGeckoSourceParsesQuote(t *testing.T) {
	var failing atomic.Bool
	srv := coingeckoServer(t, &failing)
	src := NewCoinGeckoSource(srv.Client(), srv.URL, 8, BreakerSettings{}, nil)

	quote, err := src.Fetch(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if quote.Price.Cmp(big.NewInt(180_050_000_000)) != 0 || quote.Decimals != 8 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if quote.UpdatedAt.Unix() != 1767225600 {
		t.Fatalf("unexpected timestamp %s", quote.UpdatedAt)
	}
}

func TestCoinGeckoSourceBreakerOpens(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)
	srv := coingeckoServer(t, &failing)
	src := NewCoinGeckoSource(srv.Client(), srv.URL, 8, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil)

	for i := 0; i < 2; i++ {
		if _, err := src.Fetch(context.Background(), "ethereum"); err == nil {
			t.Fatalf("expected upstream failure")
		}
	}
	failing.Store(false)
	if _, err := src.Fetch(context.Background(), "ethereum"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if src.State() != gobreaker.StateOpen.String() {
		t.Fatalf("unexpected state %s", src.State())
	}
}

func TestPollerRefreshesFeedsAndHistory(t *testing.T) {
	var failing atomic.Bool
	srv := coingeckoServer(t, &failing)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	client := srv.Client()
	defer client.CloseIdleConnections()
	defer srv.CloseClientConnections()
	src := NewCoinGeckoSource(client, srv.URL, 8, BreakerSettings{}, nil)
	history, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer history.Close()

	feed := NewManualFeed(owner, 8)
	poller := NewPoller(src, 10*time.Millisecond, nil)
	poller.Bind("ETH-USD", "ethereum", feed)
	poller.SetHistory(history)
	var refreshed atomic.Int32
	poller.SetObserver(func(string, error) { refreshed.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()
	deadline := time.After(2 * time.Second)
	for refreshed.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("poller did not refresh")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected run result %v", err)
	}

	price, _, _ := feed.GetPrice()
	if price.Cmp(big.NewInt(180_050_000_000)) != 0 {
		t.Fatalf("feed not refreshed, got %s", price)
	}
	samples, err := history.Recent(context.Background(), "eth-usd", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(samples) < 2 || samples[0].Source != "coingecko" {
		t.Fatalf("unexpected samples %+v", samples)
	}
}

func TestPollOnceKeepsPreviousQuoteOnFailure(t *testing.T) {
	var failing atomic.Bool
	srv := coingeckoServer(t, &failing)
	src := NewCoinGeckoSource(srv.Client(), srv.URL, 8, BreakerSettings{ConsecutiveFailures: 10}, nil)
	feed := NewManualFeed(owner, 8)
	poller := NewPoller(src, time.Minute, nil)
	poller.Bind("eth-usd", "ethereum", feed)

	if err := poller.PollOnce(context.Background()); err != nil {
		t.Fatalf("first poll: %v", err)
	}
	failing.Store(true)
	if err := poller.PollOnce(context.Background()); err == nil {
		t.Fatalf("expected failure to surface")
	}
	price, _, _ := feed.GetPrice()
	if price.Cmp(big.NewInt(180_050_000_000)) != 0 {
		t.Fatalf("previous quote must survive, got %s", price)
	}
}
