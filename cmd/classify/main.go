package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/TomasB/classify/internal/app"
	"github.com/TomasB/classify/internal/config"
	"github.com/TomasB/classify/internal/data"
	"github.com/TomasB/classify/internal/metrics"
	"github.com/TomasB/classify/internal/server"
	"github.com/gin-gonic/gin"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	slog.Info("service starting", "log_level", cfg.SlogLevel().String())

	// Set Gin mode based on log level
	if cfg.SlogLevel() == slog.LevelDebug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		slog.Error("service stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("service stopped")
}

// run serves until ctx is cancelled. Every resource it opens is released
// before it returns, including on errors, so queued metrics are flushed.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	trusted, err := cfg.TrustedProxies()
	if err != nil {
		return fmt.Errorf("invalid trusted proxy list: %w", err)
	}

	// Load MaxMind MMDB
	index, err := data.NewIndex(cfg.GeoIPDBPath,
		data.WithCacheSize(cfg.GeoIPCacheSize),
		data.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to open geo dataset: %w", err)
	}
	defer index.Close()

	if md, err := index.Metadata(); err == nil {
		logger.Info("geo dataset loaded", "path", md.Path, "type", md.DatabaseType, "build_time", md.BuildTime)
	}

	metricOpts := []metrics.Option{
		metrics.WithQueueSize(cfg.MetricsQueueSize),
		metrics.WithLogger(logger),
	}
	routes := server.Routes{
		VersionFile: cfg.VersionFile,
		Debug:       cfg.Debug,
	}
	if cfg.PrometheusEnabled {
		registry := prom.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metricOpts = append(metricOpts, metrics.WithBackend(metrics.NewPrometheusBackend(registry, "")))
		routes.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	sink := metrics.New(cfg.MetricsTarget, metricOpts...)
	defer sink.Close()

	state := &app.State{
		Geo:            index,
		Metrics:        sink,
		TrustedProxies: trusted,
		TimeZoneMode:   cfg.Mode(),
		Logger:         logger,
	}

	srv, err := server.Listen(state, server.NewRouter(state, routes), cfg.Addr(), cfg.GRPCAddr())
	if err != nil {
		return fmt.Errorf("server failed to start: %w", err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gCtx)
	})

	if cfg.GeoIPWatch {
		watcher, err := data.NewWatcher(index, logger)
		if err != nil {
			logger.Warn("geo dataset hot reload disabled", "error", err)
		} else {
			g.Go(func() error {
				return watcher.Run(gCtx)
			})
		}
	}

	return g.Wait()
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.HumanLogs {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
