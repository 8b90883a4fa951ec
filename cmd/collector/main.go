package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/collectkit/amazon-collector/internal/api"
	"github.com/collectkit/amazon-collector/internal/backend"
	"github.com/collectkit/amazon-collector/internal/browser"
	"github.com/collectkit/amazon-collector/internal/config"
	"github.com/collectkit/amazon-collector/internal/engine"
	"github.com/collectkit/amazon-collector/internal/session"
	"github.com/collectkit/amazon-collector/internal/state"
	"github.com/collectkit/amazon-collector/internal/tabs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateStore, cleanup, err := newStateStore(ctx, cfg.State)
	if err != nil {
		logger.Error("failed to initialize state store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	authClient := backend.NewAuthClient(cfg.Backend.URL, cfg.Backend.APIKey, nil, logger)
	sessions := session.NewStore(authClient, stateStore, logger)
	if err := sessions.Load(ctx); err != nil {
		logger.Warn("no session restored", "error", err)
	}

	products := backend.NewClient(cfg.Backend.URL, cfg.Backend.APIKey, sessions, nil, logger)

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		AcceptLanguage: cfg.Browser.AcceptLanguage,
		TimezoneID:     cfg.Browser.TimezoneID,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		logger.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	orchestrator := tabs.NewOrchestrator(b, tabs.Config{
		SettleDelay: cfg.Collector.SettleDelay,
		NavRetries:  cfg.Collector.NavRetries,
		IncludeRaw:  cfg.Collector.IncludeRaw,
	}, logger)

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	eng := engine.New(orchestrator, products, sessions, stateStore, engine.Config{
		DelayMin:    cfg.Collector.DelayMin,
		DelayMax:    cfg.Collector.DelayMax,
		MaxItems:    cfg.Collector.MaxItems,
		Marketplace: cfg.Collector.Marketplace,
		AutoResume:  cfg.Collector.AutoResume,
	}, engine.NewLogNotifier(logger), metrics, logger)

	if err := eng.RestoreOnLoad(ctx); err != nil {
		logger.Warn("failed to restore collection state", "error", err)
	}

	handlers := api.NewHandlers(sessions, products, eng, logger)
	router := api.NewRouter(handlers, engine.MetricsHandler(registry))

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		eng.Pause(context.Background())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newStateStore(ctx context.Context, cfg config.StateConfig) (state.Store, func(), error) {
	if cfg.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, err
		}
		return state.NewRedisStore(client, cfg.KeyPrefix), func() { client.Close() }, nil
	}

	fs, err := state.NewFileStore(cfg.FilePath)
	if err != nil {
		return nil, nil, err
	}
	return fs, func() {}, nil
}
