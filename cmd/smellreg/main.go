// Command smellreg serves the fragrance compliance API.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smellreg/smellreg/internal/api"
	"github.com/smellreg/smellreg/internal/bus"
	"github.com/smellreg/smellreg/internal/cache"
	"github.com/smellreg/smellreg/internal/compliance"
	"github.com/smellreg/smellreg/internal/config"
	"github.com/smellreg/smellreg/internal/domain"
	"github.com/smellreg/smellreg/internal/reference"
	"github.com/smellreg/smellreg/internal/repository"
	"github.com/smellreg/smellreg/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting smellreg",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"engine_version", compliance.EngineVersion,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := reference.Open(cfg.Reference.Dir)
	if err != nil {
		slog.Error("failed to load reference data", "dir", cfg.Reference.Dir, "error", err)
		os.Exit(1)
	}
	if cfg.Reference.Watch && cfg.Reference.Dir != "" {
		w, err := reference.NewWatcher(store, cfg.Reference.Debounce)
		if err != nil {
			slog.Error("failed to watch reference data", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := w.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("reference watcher stopped", "error", err)
			}
		}()
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	var (
		metrics        *compliance.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = compliance.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}

	engine := compliance.NewEngine(store, cfg.Engine.MaxWorkers, metrics)
	recorder := compliance.NewRecorder(repo, cacheImpl, busImpl, cfg.Cache.ReportTTL)

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, engine, recorder)
		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.TenantIDs,
			WorkerCount: cfg.Worker.Count,
		}
		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenants", workerCfg.TenantIDs, "count", workerCfg.WorkerCount)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:        repo,
		Cache:       cacheImpl,
		Bus:         busImpl,
		Engine:      engine,
		Recorder:    recorder,
		Reference:   store,
		Metrics:     metricsHandler,
		MetricsPath: cfg.Metrics.Path,
		Version:     Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	slog.Info("smellreg is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"reference_revision", store.Snapshot().Revision(),
	)
	printBanner(cfg, store.Snapshot().Revision())

	<-ctx.Done()
	slog.Info("shutting down...")

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

	slog.Info("smellreg shutdown complete")
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

func printBanner(cfg *domain.Config, revision string) {
	fmt.Println()
	fmt.Println("  smellreg: fragrance compliance engine")
	fmt.Println()
	fmt.Printf("  Version:    %s (engine %s)\n", Version, compliance.EngineVersion)
	fmt.Printf("  Tier:       %s\n", cfg.Tier)
	fmt.Printf("  Reference:  %s\n", revision)
	fmt.Printf("  Server:     http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /check                    - Check a formula")
	fmt.Println("    POST /check/async              - Queue a check")
	fmt.Println("    GET  /requests/{id}/report     - Poll a queued check")
	fmt.Println("    GET  /reports/{certificate}    - Get a report by certificate")
	fmt.Println("    POST /formulas                 - Save a formula")
	fmt.Println("    POST /formulas/{id}/check      - Check a saved formula")
	fmt.Println("    GET  /reference                - Describe reference data")
	fmt.Println("    POST /reference/reload         - Reload reference data")
	fmt.Println("    GET  /health                   - Health check")
	fmt.Println()
}
