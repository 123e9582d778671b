package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestEngineMetricsCountOutcomes(t *testing.T) {
	m := newEngineMetrics()
	m.ObserveOperation("mint", "ok", 3*time.Millisecond)
	m.ObserveOperation("mint", "health_factor", time.Millisecond)
	m.ObserveHealthFactorBreach("mint")

	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("mint", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.breaches.WithLabelValues("mint")))

	oneThousand := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	m.RecordSupply(oneThousand, oneThousand)
	require.Equal(t, 1000.0, testutil.ToFloat64(m.supply))
}

func TestOracleMetricsSingleton(t *testing.T) {
	m := Oracle()
	require.Same(t, m, Oracle())
	m.RecordRefresh("ETH-USD", errors.New("down"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("eth-usd", "error")))
	m.RecordPrice("eth-usd", big.NewInt(180_000_000_000), 8)
	require.Equal(t, 1800.0, testutil.ToFloat64(m.price.WithLabelValues("eth-usd")))
}
