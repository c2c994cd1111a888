// Package main provides the retention cleaner that prunes the send ledger on a schedule.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/service"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

func setupCleanerSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping cleaner")
		cancel()
	}()

	return ctx, cancel
}

func pruneOnce(ctx context.Context, retentionService service.RetentionService) {
	start := time.Now()

	removed, err := retentionService.Prune(ctx)
	if err != nil {
		slog.Error("error pruning sends", slog.String("error", err.Error()))
		return
	}

	slog.Debug("prune finished",
		slog.Int64("removed", removed),
		slog.Duration("took", time.Since(start)),
	)
}

func runCleanerLoop(ctx context.Context, retentionService service.RetentionService, interval time.Duration) {
	pruneOnce(ctx, retentionService)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleaner stopped")
			return
		case <-ticker.C:
			pruneOnce(ctx, retentionService)
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel)
	slog.SetDefault(loggerInstance)

	if !cfg.Retention.Enabled {
		slog.Info("retention disabled, cleaner exiting")
		return
	}

	ctx, cancel := setupCleanerSignalHandling()
	defer cancel()

	store, err := repository.Open(ctx, repository.StoreOptions{
		Backend:     cfg.StorageBackend,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		slog.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer store.Close()

	retentionService, err := service.NewRetentionServiceImpl(store.Sends, cfg.Retention)
	if err != nil {
		slog.Error("invalid retention options", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.Info("starting retention cleaner",
		slog.String("service", "cleaner"),
		slog.String("policy", cfg.Retention.Policy),
		slog.Duration("interval", cfg.Retention.Interval),
	)

	runCleanerLoop(ctx, retentionService, cfg.Retention.Interval)
}
