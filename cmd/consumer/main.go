// Package main provides an example subscriber that reacts to mail notifications on the Redis stream.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/rueidis"

	"github.com/jnst/mail-tracker/internal/config"
	"github.com/jnst/mail-tracker/internal/logger"
	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/notify"
)

const (
	signalBufferSize = 1
	exitCode         = 1
)

// suppressingKinds end deliverability for a recipient.
var suppressingKinds = map[string]bool{
	notify.KindName(model.StatusBounce):           true,
	notify.KindName(model.StatusDropped):          true,
	notify.KindName(model.StatusSpamReport):       true,
	notify.KindName(model.StatusUnsubscribe):      true,
	notify.KindName(model.StatusGroupUnsubscribe): true,
}

// Suppressor collects recipients that should no longer be mailed.
type Suppressor interface {
	Suppress(ctx context.Context, email, reason string) error
}

// MessageHandler reacts to mail notifications.
type MessageHandler struct {
	suppressor Suppressor
}

// NewMessageHandler creates a handler; suppressor may be nil.
func NewMessageHandler(suppressor Suppressor) *MessageHandler {
	return &MessageHandler{suppressor: suppressor}
}

// HandleNotification logs n and forwards suppressing kinds to the suppressor.
func (h *MessageHandler) HandleNotification(ctx context.Context, n *notify.Notification) error {
	attrs := []any{
		slog.String("name", n.Name),
		slog.String("channel", n.Channel),
	}
	if n.SendRecord != nil {
		attrs = append(attrs,
			slog.Int64("tracker_id", n.SendRecord.TrackerID),
			logger.Email(n.SendRecord.Email),
			slog.String("message_class", n.SendRecord.MessageClass),
		)
	}

	switch {
	case n.Name == notify.NameEvent:
		slog.Debug("mail event received", attrs...)
		return nil
	case !suppressingKinds[n.Name]:
		slog.Info("mail lifecycle event", attrs...)
		return nil
	}

	slog.Warn("recipient should be suppressed", attrs...)
	if h.suppressor == nil || n.SendRecord == nil {
		return nil
	}

	return h.suppressor.Suppress(ctx, n.SendRecord.Email, n.Name)
}

// redisSuppressor keeps suppressed addresses in a Redis hash keyed by email.
type redisSuppressor struct {
	client rueidis.Client
	key    string
}

func (s *redisSuppressor) Suppress(ctx context.Context, email, reason string) error {
	return s.client.Do(ctx, s.client.B().Hset().Key(s.key).FieldValue().FieldValue(email, reason).Build()).Error()
}

func setupRedisClient(cfg *config.Config) (rueidis.Client, error) {
	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, err
	}

	return redisClient, nil
}

func setupSignalHandling() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, signalBufferSize)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("shutdown signal received, stopping consumer")
		cancel()
	}()

	return ctx, cancel
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	loggerInstance := logger.Setup(cfg.LogLevel)
	slog.SetDefault(loggerInstance)

	redisClient, err := setupRedisClient(cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer redisClient.Close()

	ctx, cancel := setupSignalHandling()
	defer cancel()

	handler := NewMessageHandler(&redisSuppressor{client: redisClient, key: cfg.Notify.Stream + ":suppressed"})
	subscriber := notify.NewStreamSubscriber(redisClient, notify.SubscriberOptions{
		Stream:   cfg.Notify.Stream,
		Group:    cfg.Notify.Group,
		Consumer: cfg.ConsumerName,
	}, handler.HandleNotification)
	subscriber.EnsureGroup(ctx)

	slog.Info("starting message consumer",
		slog.String("service", "consumer"),
		slog.String("stream", cfg.Notify.Stream),
		slog.String("group", cfg.Notify.Group),
		slog.String("consumer", cfg.ConsumerName),
	)

	subscriber.Run(ctx)
}
