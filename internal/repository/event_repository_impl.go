package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// EventRepositoryImpl implements EventRepository using PostgreSQL.
type EventRepositoryImpl struct {
	db DBTX
}

// NewEventRepositoryImpl creates a new EventRepository implementation.
func NewEventRepositoryImpl(db DBTX) EventRepository {
	return &EventRepositoryImpl{db: db}
}

// Create inserts an event for an existing send record.
func (r *EventRepositoryImpl) Create(ctx context.Context, params *model.CreateEventRecordParams) (*model.EventRecord, error) {
	payload, err := encodePayload(params.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event payload: %w", err)
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	event := &model.EventRecord{
		SendRecordID: params.SendRecordID,
		Status:       params.Status,
		Payload:      params.Payload,
		CreatedAt:    createdAt,
	}

	err = conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO mail_events (send_record_id, status, payload, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		params.SendRecordID, string(params.Status), payload, createdAt,
	).Scan(&event.ID)
	if err != nil {
		// The send was pruned between correlation and insert.
		if isForeignKeyViolation(err) {
			return nil, model.ErrSendRecordNotFound
		}

		return nil, fmt.Errorf("failed to insert event: %w", err)
	}

	return event, nil
}

// ListBySendRecord retrieves every event of a send in arrival order.
func (r *EventRepositoryImpl) ListBySendRecord(ctx context.Context, sendRecordID int64) ([]*model.EventRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		"SELECT id, send_record_id, status, payload, created_at FROM mail_events WHERE send_record_id = $1 ORDER BY id",
		sendRecordID,
	)
	if err != nil {
		return nil, err
	}

	return collectEvents(rows)
}

// Latest retrieves the most recent event of a send.
func (r *EventRepositoryImpl) Latest(ctx context.Context, sendRecordID int64) (*model.EventRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		"SELECT id, send_record_id, status, payload, created_at FROM mail_events WHERE send_record_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		sendRecordID,
	)
	if err != nil {
		return nil, err
	}

	events, err := collectEvents(rows)
	if err != nil || len(events) == 0 {
		return nil, err
	}

	return events[0], nil
}

// HasStatus reports whether the send has at least one event with status.
func (r *EventRepositoryImpl) HasStatus(ctx context.Context, sendRecordID int64, status model.EventStatus) (bool, error) {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM mail_events WHERE send_record_id = $1 AND status = $2)",
		sendRecordID, string(status),
	).Scan(&exists)

	return exists, err
}
