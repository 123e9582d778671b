package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	genesiscfg "usdengine/config"
	"usdengine/observability/logging"
	telemetry "usdengine/observability/otel"
	"usdengine/services/cdpd/config"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to cdpd YAML config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CDP_ENV"))
	cfg, err := config.Load(cfgPath, env)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "cdpd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("cdpd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	spec, err := genesiscfg.Load(cfg.Genesis)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}
	a, err := newApp(cfg, spec, logger)
	if err != nil {
		log.Fatalf("start engine: %v", err)
	}
	defer a.Close()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	server := &http.Server{
		Handler:      a.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		a.run(ctx)
		close(workersDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("cdpd listening",
			slog.String("addr", listener.Addr().String()),
			slog.String("engine", a.runtime.Engine.Account().Hex()),
			slog.Bool("fresh_genesis", a.runtime.Fresh))
		serverErr <- server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", slog.Any("error", err))
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("forcing server stop", slog.Any("error", err))
		_ = server.Close()
	}
	<-workersDone
}
