package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvmonitor/kvmonitor/internal/api"
	"github.com/kvmonitor/kvmonitor/internal/config"
	"github.com/kvmonitor/kvmonitor/internal/correlator"
	"github.com/kvmonitor/kvmonitor/internal/detector"
	"github.com/kvmonitor/kvmonitor/internal/engine"
	"github.com/kvmonitor/kvmonitor/internal/metrics"
	"github.com/kvmonitor/kvmonitor/internal/models"
	"github.com/kvmonitor/kvmonitor/internal/source"
	"github.com/kvmonitor/kvmonitor/internal/store"
	"github.com/kvmonitor/kvmonitor/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting kvmonitor",
		slog.String("address", cfg.Server.Address),
		slog.String("valkey", cfg.Valkey.Addr))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	metricSource, err := source.NewValkeySource(source.Config{
		Addr:         cfg.Valkey.Addr,
		Username:     cfg.Valkey.Username,
		Password:     cfg.Valkey.Password,
		DB:           cfg.Valkey.DB,
		DialTimeout:  cfg.Valkey.DialTimeout,
		ReadTimeout:  cfg.Valkey.ReadTimeout,
		WriteTimeout: cfg.Valkey.WriteTimeout,
		PoolSize:     cfg.Valkey.PoolSize,
	})
	if err != nil {
		logger.Error("failed to configure metric source", slog.Any("error", err))
		os.Exit(1)
	}
	defer metricSource.Close()

	// A down server is not fatal: sampling retries every tick.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.Valkey.DialTimeout)
	if err := metricSource.Ping(pingCtx); err != nil {
		logger.Warn("monitored server unreachable at startup", slog.Any("error", err))
	}
	cancelPing()

	var eventStore engine.Store = store.NoopStore{}
	if cfg.Store.Enabled && cfg.Store.Addr != "" {
		valkeyStore, err := store.NewValkeyStore(store.Config{
			Addr:         cfg.Store.Addr,
			Username:     cfg.Store.Username,
			Password:     cfg.Store.Password,
			DB:           cfg.Store.DB,
			DialTimeout:  cfg.Store.DialTimeout,
			ReadTimeout:  cfg.Store.ReadTimeout,
			WriteTimeout: cfg.Store.WriteTimeout,
			KeyPrefix:    cfg.Store.KeyPrefix,
			MaxEvents:    cfg.Store.MaxEvents,
			MaxGroups:    cfg.Store.MaxGroups,
		})
		if err != nil {
			logger.Warn("anomaly store unavailable, running in-memory only", slog.Any("error", err))
		} else {
			eventStore = valkeyStore
			defer valkeyStore.Close()
		}
	}

	catalog, err := correlator.LoadCatalog(cfg.Patterns.Path)
	if err != nil {
		logger.Error("failed to load pattern catalog", slog.Any("error", err))
		os.Exit(1)
	}

	mon := engine.New(utils.Component(logger, "engine"), metricSource, eventStore, engine.Options{
		PollInterval:        cfg.Engine.PollInterval,
		CorrelationInterval: cfg.Engine.CorrelationInterval,
		CorrelationWindow:   cfg.Engine.CorrelationWindow,
		FreshnessTTL:        cfg.Engine.FreshnessTTL,
		EventRingSize:       cfg.Engine.EventRingSize,
		GroupRingSize:       cfg.Engine.GroupRingSize,
		BufferCapacity:      cfg.Engine.BufferCapacity,
		WarmupSamples:       cfg.Engine.WarmupSamples,
		SourceTimeout:       cfg.Engine.SourceTimeout,
		StoreTimeout:        cfg.Engine.StoreTimeout,
		DetectorConfigs:     detectorConfigs(cfg.Detectors, logger),
		Catalog:             catalog,
	})

	server, err := api.NewServer(cfg.Server, mon, utils.Component(logger, "api"))
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go mon.Run(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("query server listening", slog.String("address", server.Address()))
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("query server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("kvmonitor stopped")
}

// detectorConfigs merges per-metric overrides from the config file onto the
// built-in defaults. Unknown metric names are reported and skipped.
func detectorConfigs(overrides map[string]config.DetectorConfig, logger *slog.Logger) map[models.MetricType]detector.Config {
	configs := detector.DefaultConfigs()
	for name, override := range overrides {
		metric, err := models.ParseMetricType(name)
		if err != nil {
			logger.Warn("ignoring detector override for unknown metric", slog.String("metric", name))
			continue
		}
		cfg := configs[metric]
		if override.WarningZScore != nil {
			cfg.WarningZScore = *override.WarningZScore
		}
		if override.CriticalZScore != nil {
			cfg.CriticalZScore = *override.CriticalZScore
		}
		if override.WarningThreshold != nil {
			cfg.WarningThreshold = override.WarningThreshold
		}
		if override.CriticalThreshold != nil {
			cfg.CriticalThreshold = override.CriticalThreshold
		}
		if override.ConsecutiveRequired != nil {
			cfg.ConsecutiveRequired = *override.ConsecutiveRequired
		}
		if override.Cooldown != nil {
			cfg.Cooldown = *override.Cooldown
		}
		configs[metric] = cfg
	}
	return configs
}
