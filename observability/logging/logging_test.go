package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEmitsStructuredKeys(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := New(&buf, Options{Service: "cdpd", Env: "test", Level: "debug"})
	logger.Debug("position opened", slog.String("account", "0xabc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "position opened", line["message"])
	require.Equal(t, "cdpd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWithOptionsWritesRotatedFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "cdpd.log")
	logger, closer := SetupWithOptions(Options{Service: "cdpd", File: path})
	logger.Info("hello")
	require.NoError(t, closer.Close())
	require.FileExists(t, path)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "0xabc", MaskField("account", "0xabc").Value.String())
	require.Contains(t, RedactionAllowlist(), "op")
}
