// Package main provides the outbox publisher that relays stored notifications to the mail event stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/rueidis"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
	"github.com/jnst/mail-tracker/internal/service"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

func setupPublisherRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

func setupPublisherSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping publisher")
		cancel()
	}()

	return ctx, cancel
}

func runPublisherLoop(
	ctx context.Context,
	outboxService service.OutboxService,
	pollInterval time.Duration,
	batchSize int,
) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("publisher stopped")
			return
		case <-ticker.C:
			if err := outboxService.ProcessUnpublishedEvents(ctx, batchSize); err != nil {
				slog.Error("error processing outbox events", slog.String("error", err.Error()))
			}
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

	if cfg.StorageBackend != config.BackendPostgres {
		slog.Error("the outbox publisher needs the postgres backend",
			slog.String("storage", cfg.StorageBackend))
		os.Exit(exitCode)
	}

	ctx, cancel := setupPublisherSignalHandling()
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

	redisClient, err := setupPublisherRedisClient(cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		return
	}
	defer redisClient.Close()

	stream := notify.NewStreamPublisher(redisClient, cfg.Notify.Stream)
	outboxService := service.NewOutboxServiceImpl(store.Outbox, stream)

	slog.Info("starting outbox publisher",
		slog.String("service", "publisher"),
		slog.String("stream", stream.Stream()),
		slog.Duration("poll_interval", cfg.PublisherPollInterval),
		slog.Int("batch_size", cfg.PublisherBatchSize),
	)

	runPublisherLoop(ctx, outboxService, cfg.PublisherPollInterval, cfg.PublisherBatchSize)
}
