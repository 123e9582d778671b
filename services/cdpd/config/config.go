package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the cdpd daemon.
type Config struct {
	ListenAddress   string              `yaml:"listen"`
	ReadTimeout     time.Duration       `yaml:"readTimeout"`
	WriteTimeout    time.Duration       `yaml:"writeTimeout"`
	IdleTimeout     time.Duration       `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration       `yaml:"shutdownTimeout"`
	Genesis         string              `yaml:"genesis"`
	Storage         StorageConfig       `yaml:"storage"`
	Journal         JournalConfig       `yaml:"journal"`
	Recon           ReconConfig         `yaml:"recon"`
	Oracle          OracleConfig        `yaml:"oracle"`
	Idempotency     IdempotencyConfig   `yaml:"idempotency"`
	Auth            AuthConfig          `yaml:"auth"`
	RateLimit       RateLimitConfig     `yaml:"rateLimit"`
	CORS            CORSConfig          `yaml:"cors"`
	Observability   ObservabilityConfig `yaml:"observability"`
	Logging         LoggingConfig       `yaml:"logging"`
}

// StorageConfig selects the engine state backend. An empty path keeps
// state in memory.
type StorageConfig struct {
	Path string `yaml:"path"`
}

type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type ReconConfig struct {
	Enabled   bool          `yaml:"enabled"`
	OutputDir string        `yaml:"outputDir"`
	Window    time.Duration `yaml:"window"`
	RunHour   int           `yaml:"runHour"`
	RunMinute int           `yaml:"runMinute"`
}

// OracleConfig drives the CoinGecko poller for feeds bound in genesis.
type OracleConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Timeout      time.Duration `yaml:"timeout"`
	HistoryDSN   string        `yaml:"historyDSN"`
	Decimals     uint8         `yaml:"decimals"`
}

type IdempotencyConfig struct {
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
	enabledSet bool          `yaml:"-"`
}

func (a *AuthConfig) UnmarshalYAML(node *yaml.Node) error {
	type rawAuthConfig struct {
		Enabled    *bool         `yaml:"enabled"`
		HMACSecret string        `yaml:"hmacSecret"`
		Issuer     string        `yaml:"issuer"`
		Audience   string        `yaml:"audience"`
		ScopeClaim string        `yaml:"scopeClaim"`
		ClockSkew  time.Duration `yaml:"clockSkew"`
	}
	var raw rawAuthConfig
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Enabled, a.enabledSet = false, false
	if raw.Enabled != nil {
		a.Enabled = *raw.Enabled
		a.enabledSet = true
	}
	a.HMACSecret = raw.HMACSecret
	a.Issuer = raw.Issuer
	a.Audience = raw.Audience
	a.ScopeClaim = raw.ScopeClaim
	a.ClockSkew = raw.ClockSkew
	return nil
}

// ErrAuthEnabledNotConfigured is returned outside dev when auth.enabled is
// left implicit.
var ErrAuthEnabledNotConfigured = errors.New("auth.enabled must be explicitly set outside the dev environment")

func defaults() Config {
	return Config{
		ListenAddress:   ":8480",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Genesis:         "cdp-genesis.toml",
		Journal:         JournalConfig{Driver: "sqlite", DSN: "cdp-data/journal.db"},
		Recon:           ReconConfig{OutputDir: "cdp-data/recon", Window: 24 * time.Hour, RunHour: 1},
		Oracle: OracleConfig{
			Endpoint:     "https://api.coingecko.com/api/v3/simple/price",
			PollInterval: time.Minute,
			Timeout:      10 * time.Second,
			Decimals:     8,
		},
		Idempotency:   IdempotencyConfig{Path: "cdp-data/idempotency.db", TTL: 24 * time.Hour},
		Auth:          AuthConfig{Enabled: true, ScopeClaim: "scope", ClockSkew: 2 * time.Minute, enabledSet: true},
		RateLimit:     RateLimitConfig{RequestsPerMinute: 120, Burst: 20},
		Observability: ObservabilityConfig{ServiceName: "cdpd", LogRequests: true, MetricsPrefix: "cdpd"},
		Logging:       LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML configuration at path. An empty path yields the
// defaults. env relaxes the explicit-auth requirement when it is "dev".
func Load(path, env string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		cfg.Auth.enabledSet = false
		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.normalize()
	if err := cfg.validate(env); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	d := defaults()
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = d.ListenAddress
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = d.ShutdownTimeout
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	cfg.Storage.Path = strings.TrimSpace(cfg.Storage.Path)
	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Recon.Window <= 0 {
		cfg.Recon.Window = d.Recon.Window
	}
	cfg.Oracle.Endpoint = strings.TrimSpace(cfg.Oracle.Endpoint)
	if cfg.Oracle.PollInterval <= 0 {
		cfg.Oracle.PollInterval = d.Oracle.PollInterval
	}
	if cfg.Oracle.Timeout <= 0 {
		cfg.Oracle.Timeout = d.Oracle.Timeout
	}
	if cfg.Oracle.Decimals == 0 {
		cfg.Oracle.Decimals = d.Oracle.Decimals
	}
	if cfg.Idempotency.TTL <= 0 {
		cfg.Idempotency.TTL = d.Idempotency.TTL
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = d.Auth.ClockSkew
	}
	origins := make([]string, 0, len(cfg.CORS.AllowedOrigins))
	for _, origin := range cfg.CORS.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.CORS.AllowedOrigins = origins
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = d.Observability.ServiceName
	}
}

func (cfg *Config) validate(env string) error {
	if cfg.Genesis == "" {
		return fmt.Errorf("genesis path required")
	}
	if !isDevEnv(env) && !cfg.Auth.enabledSet {
		return ErrAuthEnabledNotConfigured
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmacSecret required when auth is enabled")
	}
	if !cfg.Auth.Enabled && !isDevEnv(env) {
		return fmt.Errorf("auth may only be disabled in the dev environment")
	}
	switch cfg.Journal.Driver {
	case "", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("journal.driver %q unsupported", cfg.Journal.Driver)
	}
	if strings.HasPrefix(cfg.Journal.Driver, "postgres") && cfg.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn required for postgres")
	}
	if cfg.Recon.RunHour < 0 || cfg.Recon.RunHour > 23 {
		return fmt.Errorf("recon.runHour must be within 0-23")
	}
	if cfg.Recon.RunMinute < 0 || cfg.Recon.RunMinute > 59 {
		return fmt.Errorf("recon.runMinute must be within 0-59")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rateLimit values must not be negative")
	}
	return nil
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
