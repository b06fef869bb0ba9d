// Kestrel - Ensemble transaction risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/sink"
	"github.com/opensource-finance/kestrel/internal/watch"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Scoring.Timezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("kestrel stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("kestrel shutdown complete")
}

// loadConfig picks the tier defaults, overlays the optional YAML file and
// applies environment overrides.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == string(domain.TierPro) {
		cfg = domain.ProConfig()
	}
	if path := os.Getenv("KESTREL_CONFIG"); path != "" {
		if err := domain.LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := domain.ApplyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *domain.Config) error {
	loc, err := cfg.Scoring.Location()
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		if cb, ok := busImpl.(*bus.ChannelBus); ok {
			rec.RegisterCounter("kestrel_bus_dropped_total", "Deliveries skipped because a subscriber buffer was full",
				func() float64 { return float64(cb.Dropped()) })
		}
		if sc, ok := cacheImpl.(interface{ Stats() cache.Stats }); ok {
			rec.RegisterGauge("kestrel_cache_entries", "Entries held in the local cache",
				func() float64 { return float64(sc.Stats().Size) })
			rec.RegisterCounter("kestrel_cache_hits_total", "Local cache hits",
				func() float64 { return float64(sc.Stats().Hits) })
			rec.RegisterCounter("kestrel_cache_misses_total", "Local cache misses",
				func() float64 { return float64(sc.Stats().Misses) })
		}
	}

	watchEngine, err := watch.NewEngine()
	if err != nil {
		return fmt.Errorf("failed to initialize watch rules: %w", err)
	}
	loadWatchRules(ctx, repo, watchEngine)

	engine := scoring.NewEngine(decision.NewGenerator(watchEngine))
	normalizer := features.NewNormalizer(repo, cacheImpl, slog.Default())

	var enricher api.Enricher
	if cfg.Scoring.EnrichFeatures {
		enricher = normalizer
	}

	dispatcher := sink.New(repo,
		sink.WithCache(cacheImpl, cfg.Cache.ResultTTL),
		sink.WithBus(busImpl),
		sink.WithFeatureRecorder(normalizer),
		sink.WithMetrics(rec),
		sink.WithLogger(slog.Default()),
		sink.WithSampleRate(cfg.Scoring.PerformanceSampleRate),
	)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, engine, enricher, dispatcher, rec)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Worker.TenantIDs, Location: loc}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Engine:     engine,
		Watch:      watchEngine,
		Enricher:   enricher,
		Dispatcher: dispatcher,
		Metrics:    rec,
		Location:   loc,
		Version:    Version,
	}, metricsPath)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"watch_rules", watchEngine.RulesCount(),
	)
	printBanner(cfg, Version)

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return serveErr
}

// loadWatchRules loads stored watch rules. A failure leaves the engine
// empty; rules can still be added through the API.
func loadWatchRules(ctx context.Context, repo domain.Repository, engine *watch.Engine) {
	rules, err := repo.ListWatchRules(ctx, domain.AllTenants)
	if err != nil {
		slog.Warn("failed to list watch rules from database", "error", err)
		return
	}
	if len(rules) == 0 {
		slog.Info("no watch rules in database - configure via POST /watch-rules")
		return
	}
	if err := engine.ReloadRules(rules); err != nil {
		slog.Warn("failed to load watch rules", "error", err)
		return
	}
	slog.Info("watch rules loaded", "count", engine.RulesCount())
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  KESTREL  ensemble transaction risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze                - Score a transaction")
	fmt.Println("    GET  /results/{id}           - Get a scoring result")
	fmt.Println("    GET  /alerts                 - List recent alerts")
	fmt.Println("    POST /alerts/{id}/read       - Mark an alert read")
	fmt.Println("    POST /alerts/{id}/dismiss    - Dismiss an alert")
	fmt.Println("    GET  /models/performance     - Model performance snapshots")
	fmt.Println("    GET  /watch-rules            - List watch rules")
	fmt.Println("    POST /watch-rules            - Create a watch rule")
	fmt.Println("    POST /watch-rules/reload     - Hot-reload watch rules")
	fmt.Println("    GET  /health                 - Health check")
	if cfg.Metrics.Enabled {
		fmt.Printf("    GET  %-24s- Prometheus metrics\n", cfg.Metrics.Path)
	}
	fmt.Println()
}
