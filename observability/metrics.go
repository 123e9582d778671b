package observability

import (
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records debt engine activity. It satisfies cdp.Metrics.
type EngineMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	breaches   *prometheus.CounterVec
	supply     prometheus.Gauge
	debt       prometheus.Gauge
}

// OracleMetrics records feed refreshes.
type OracleMetrics struct {
	refreshes *prometheus.CounterVec
	price     *prometheus.GaugeVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics
)

// Engine returns the lazily-initialised engine metrics registered with the
// default prometheus registry.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = newEngineMetrics()
		prometheus.MustRegister(
			engineRegistry.operations,
			engineRegistry.latency,
			engineRegistry.breaches,
			engineRegistry.supply,
			engineRegistry.debt,
		)
	})
	return engineRegistry
}

func newEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usdengine",
			Subsystem: "cdp",
			Name:      "operations_total",
			Help:      "Debt engine operations segmented by operation and outcome.",
		}, []string{"op", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "usdengine",
			Subsystem: "cdp",
			Name:      "operation_duration_seconds",
			Help:      "Latency distribution for debt engine operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		breaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "usdengine",
			Subsystem: "cdp",
			Name:      "health_factor_rejections_total",
			Help:      "Operations rejected because they would break the minimum health factor.",
		}, []string{"op"}),
		supply: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usdengine",
			Subsystem: "cdp",
			Name:      "stablecoin_supply",
			Help:      "Stablecoin total supply in whole units.",
		}),
		debt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "usdengine",
			Subsystem: "cdp",
			Name:      "total_debt",
			Help:      "Sum of recorded debt in whole units.",
		}),
	}
}

func (m *EngineMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(labelOr(op, "unknown"), labelOr(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(labelOr(op, "unknown")).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) ObserveHealthFactorBreach(op string) {
	if m == nil {
		return
	}
	m.breaches.WithLabelValues(labelOr(op, "unknown")).Inc()
}

// RecordSupply publishes the supply and debt totals, scaled from 18 decimals.
func (m *EngineMetrics) RecordSupply(supply, debt *big.Int) {
	if m == nil {
		return
	}
	m.supply.Set(scaledFloat(supply, 18))
	m.debt.Set(scaledFloat(debt, 18))
}

// Oracle returns the lazily-initialised oracle metrics.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "usdengine",
				Subsystem: "oracle",
				Name:      "refreshes_total",
				Help:      "Feed refresh attempts segmented by feed and outcome.",
			}, []string{"feed", "outcome"}),
			price: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "usdengine",
				Subsystem: "oracle",
				Name:      "price_usd",
				Help:      "Latest accepted USD price per feed.",
			}, []string{"feed"}),
		}
		prometheus.MustRegister(oracleRegistry.refreshes, oracleRegistry.price)
	})
	return oracleRegistry
}

// RecordRefresh counts a refresh attempt for feed.
func (m *OracleMetrics) RecordRefresh(feed string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.refreshes.WithLabelValues(labelOr(strings.ToLower(feed), "unknown"), outcome).Inc()
}

// RecordPrice publishes the latest price of feed.
func (m *OracleMetrics) RecordPrice(feed string, price *big.Int, decimals uint8) {
	if m == nil {
		return
	}
	m.price.WithLabelValues(labelOr(strings.ToLower(feed), "unknown")).Set(scaledFloat(price, int(decimals)))
}

func labelOr(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}

func scaledFloat(value *big.Int, decimals int) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value)
	if decimals > 0 {
		f.Quo(f, new(big.Float).SetFloat64(math.Pow10(decimals)))
	}
	out, _ := f.Float64()
	return out
}
