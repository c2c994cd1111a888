package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// OutboxRepositoryImpl implements OutboxRepository using PostgreSQL.
type OutboxRepositoryImpl struct {
	db DBTX
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(db DBTX) OutboxRepository {
	return &OutboxRepositoryImpl{db: db}
}

// CreateEvent creates a new outbox event.
func (r *OutboxRepositoryImpl) CreateEvent(
	ctx context.Context, params *model.CreateOutboxEventParams,
) (*model.OutboxEvent, error) {
	event := &model.OutboxEvent{
		AggregateID: params.AggregateID,
		EventType:   params.EventType,
		Payload:     params.Payload,
	}

	err := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO mail_outbox (aggregate_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		params.AggregateID, params.EventType, params.Payload,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return event, nil
}

// GetUnpublishedEvents retrieves unpublished outbox events.
func (r *OutboxRepositoryImpl) GetUnpublishedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	rows, err := conn(ctx, r.db).Query(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at, published_at
		FROM mail_outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.OutboxEvent

	for rows.Next() {
		var (
			event       model.OutboxEvent
			publishedAt *time.Time
		)

		if err := rows.Scan(
			&event.ID, &event.AggregateID, &event.EventType, &event.Payload, &event.CreatedAt, &publishedAt,
		); err != nil {
			return nil, err
		}

		event.PublishedAt = publishedAt
		events = append(events, &event)
	}

	return events, rows.Err()
}

// MarkAsPublished marks an outbox event as published.
func (r *OutboxRepositoryImpl) MarkAsPublished(ctx context.Context, id int64) error {
	_, err := conn(ctx, r.db).Exec(ctx, "UPDATE mail_outbox SET published_at = NOW() WHERE id = $1", id)
	return err
}
