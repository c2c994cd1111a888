package service

import (
	"context"
	"log/slog"

	"github.com/jnst/mail-tracker/internal/metrics"
	"github.com/jnst/mail-tracker/internal/notify"
	"github.com/jnst/mail-tracker/internal/repository"
)

// OutboxServiceImpl relays stored notifications to the notification stream.
type OutboxServiceImpl struct {
	outboxRepo repository.OutboxRepository
	publisher  notify.Publisher
}

// NewOutboxServiceImpl creates a new OutboxService implementation.
func NewOutboxServiceImpl(outboxRepo repository.OutboxRepository, publisher notify.Publisher) OutboxService {
	return &OutboxServiceImpl{
		outboxRepo: outboxRepo,
		publisher:  publisher,
	}
}

// ProcessUnpublishedEvents publishes up to limit pending notifications in creation order.
func (s *OutboxServiceImpl) ProcessUnpublishedEvents(ctx context.Context, limit int) error {
	events, err := s.outboxRepo.GetUnpublishedEvents(ctx, limit)
	if err != nil {
		return err
	}

	for _, event := range events {
		n, err := notify.Decode(event.Payload)
		if err != nil {
			// Undecodable rows are marked published so they leave the queue.
			slog.Error("discarding undecodable outbox event",
				slog.Int64("outbox_id", event.ID),
				slog.String("error", err.Error()),
			)
			s.markAsPublished(ctx, event.ID)

			continue
		}

		if err := s.publisher.Publish(ctx, n); err != nil {
			slog.Error("failed to publish outbox event",
				slog.Int64("outbox_id", event.ID),
				slog.String("name", n.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if !s.markAsPublished(ctx, event.ID) {
			continue
		}

		metrics.RecordRelayed()
		slog.Debug("relayed outbox event",
			slog.Int64("outbox_id", event.ID),
			slog.String("name", n.Name),
			slog.String("channel", n.Channel),
		)
	}

	return nil
}

func (s *OutboxServiceImpl) markAsPublished(ctx context.Context, id int64) bool {
	if err := s.outboxRepo.MarkAsPublished(ctx, id); err != nil {
		slog.Error("failed to mark outbox event as published",
			slog.Int64("outbox_id", id),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}
