// Package main wires together the rank tracking service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rankmon/rankmon/internal/api"
	"github.com/rankmon/rankmon/internal/clock/system"
	"github.com/rankmon/rankmon/internal/config"
	"github.com/rankmon/rankmon/internal/id/uuid"
	"github.com/rankmon/rankmon/internal/logging"
	"github.com/rankmon/rankmon/internal/metrics"
	"github.com/rankmon/rankmon/internal/orchestrator"
	"github.com/rankmon/rankmon/internal/provider"
	"github.com/rankmon/rankmon/internal/reconciler"
	"github.com/rankmon/rankmon/internal/storage/postgres"
	"github.com/rankmon/rankmon/internal/supervisor"
	"github.com/rankmon/rankmon/internal/waiter"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run one position check and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DB.Migrate {
		if err := postgres.RunMigrations(cfg.DB.DSN); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.ConnLifetime(),
	})
	if err != nil {
		logger.Fatal("connect database failed", zap.Error(err))
	}
	defer pool.Close()

	projectStore, err := postgres.NewProjectStoreWithPool(pool)
	if err != nil {
		logger.Fatal("project store init failed", zap.Error(err))
	}
	positionStore, err := postgres.NewPositionStoreWithPool(pool)
	if err != nil {
		logger.Fatal("position store init failed", zap.Error(err))
	}
	runStore, err := postgres.NewRunStoreWithPool(pool)
	if err != nil {
		logger.Fatal("run store init failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.New()

	client := provider.New(provider.Config{
		BaseURL: cfg.Provider.BaseURL,
		UserID:  cfg.Provider.UserID,
		APIKey:  cfg.Provider.APIKey,
		RPS:     cfg.Provider.RPS,
		Burst:   cfg.Provider.Burst,
		Timeout: cfg.ProviderTimeout(),
		Retry: provider.RetryPolicy{
			MaxAttempts: cfg.Provider.MaxRetries,
			Delay:       cfg.RetryDelay(),
		},
	}, logger.Named("provider"))

	ready := waiter.New(client, clock, waiter.Config{
		MaxWait:      cfg.MaxWait(),
		PollInterval: cfg.PollInterval(),
	}, logger.Named("waiter"))
	rec := reconciler.New(positionStore, clock, logger.Named("reconciler"))
	orch := orchestrator.New(client, ready, rec, positionStore, clock, orchestrator.Config{
		SearcherKey:        cfg.Checker.SearcherKey,
		KeywordConcurrency: cfg.Checker.KeywordConcurrency,
	}, logger.Named("orchestrator"))
	sup := supervisor.New(projectStore, runStore, orch, clock, idGen, logger.Named("supervisor"))

	if *once {
		if _, err := sup.Run(ctx); err != nil {
			logger.Fatal("run failed", zap.Error(err))
		}
		return
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(runStore, clock, logger.Named("api")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go runOnSchedule(ctx, sup, cfg.RunInterval(), logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// runOnSchedule triggers a position check immediately and then on every tick
// until the context is canceled. Failed runs are logged and do not stop the
// schedule.
func runOnSchedule(ctx context.Context, sup *supervisor.Supervisor, interval time.Duration, logger *zap.Logger) {
	if _, err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduled run failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduled run failed", zap.Error(err))
			}
		}
	}
}
