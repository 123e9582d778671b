package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("api-key=abc, tenant = cdp ,broken,=skip")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "cdp"}, headers)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	cfg := ConfigFromEnv("cdpd", "test")
	require.False(t, cfg.Traces)
	require.False(t, cfg.Metrics)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
	cfg = ConfigFromEnv("cdpd", "test")
	require.True(t, cfg.Traces)
	require.True(t, cfg.Insecure)
	require.Equal(t, "collector:4318", cfg.Endpoint)
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "cdpd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
