package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdpd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadNormalizesValues(t *testing.T) {
	path := writeConfig(t, `
listen: " :9000 "
genesis: " genesis.toml "
journal:
  driver: " SQLite "
  dsn: ":memory:"
oracle:
  pollInterval: 30s
auth:
  enabled: true
  hmacSecret: secret
  audience: cdpd
cors:
  allowedOrigins: [" https://app.example ", " "]
`)
	cfg, err := Load(path, "prod")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.Genesis != "genesis.toml" {
		t.Fatalf("values not trimmed: %q %q", cfg.ListenAddress, cfg.Genesis)
	}
	if cfg.Journal.Driver != "sqlite" {
		t.Fatalf("driver not normalized: %q", cfg.Journal.Driver)
	}
	if cfg.Oracle.PollInterval != 30*time.Second || cfg.Oracle.Decimals != 8 {
		t.Fatalf("unexpected oracle config %+v", cfg.Oracle)
	}
	if cfg.Auth.ScopeClaim != "scope" || cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("auth defaults missing: %+v", cfg.Auth)
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "https://app.example" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoadRequiresExplicitAuthOutsideDev(t *testing.T) {
	path := writeConfig(t, "listen: \":9000\"\n")
	if _, err := Load(path, "prod"); !errors.Is(err, ErrAuthEnabledNotConfigured) {
		t.Fatalf("expected explicit auth error, got %v", err)
	}
}

func TestLoadAllowsDisabledAuthInDev(t *testing.T) {
	path := writeConfig(t, "auth:\n  enabled: false\n")
	cfg, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.Enabled {
		t.Fatalf("expected auth disabled")
	}
	if _, err := Load(path, "prod"); err == nil {
		t.Fatalf("expected disabled auth to be rejected outside dev")
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"no secret":      "auth:\n  enabled: true\n",
		"unknown driver": "auth:\n  enabled: false\njournal:\n  driver: mysql\n",
		"postgres dsn":   "auth:\n  enabled: false\njournal:\n  driver: postgres\n  dsn: \"\"\n",
		"run hour":       "auth:\n  enabled: false\nrecon:\n  runHour: 24\n",
		"unknown key":    "auth:\n  enabled: false\nbogus: 1\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body), "dev"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
