package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jnst/mail-tracker/internal/model"
)

// defaultDeleteBatch bounds each retention DELETE so it never holds long locks.
const defaultDeleteBatch = 10000

// SendRepositoryImpl implements SendRepository using PostgreSQL.
type SendRepositoryImpl struct {
	db DBTX
}

// NewSendRepositoryImpl creates a new SendRepository implementation.
func NewSendRepositoryImpl(db DBTX) SendRepository {
	return &SendRepositoryImpl{db: db}
}

// Create inserts one send record.
func (r *SendRepositoryImpl) Create(ctx context.Context, params *model.CreateSendRecordParams) (*model.SendRecord, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	recipientKind, recipientID := refColumns(params.Recipient)
	linkedKind, linkedID := refColumns(params.LinkedTo)

	row := conn(ctx, r.db).QueryRow(ctx, `
		INSERT INTO mail_send_records
			(tracker_id, email, recipient_kind, recipient_id, linked_kind, linked_id,
			 distribution_type, category, queue, message_class, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		params.TrackerID, params.Email, recipientKind, recipientID, linkedKind, linkedID,
		string(params.DistributionType), params.Category, params.Queue, params.MessageClass, createdAt,
	)

	record := &model.SendRecord{
		TrackerID:        params.TrackerID,
		Email:            params.Email,
		Recipient:        params.Recipient,
		LinkedTo:         params.LinkedTo,
		DistributionType: params.DistributionType,
		Category:         params.Category,
		Queue:            params.Queue,
		MessageClass:     params.MessageClass,
		CreatedAt:        createdAt,
	}

	if err := row.Scan(&record.ID); err != nil {
		return nil, fmt.Errorf("failed to insert send record: %w", err)
	}

	return record, nil
}

// FindByCorrelation retrieves the send record for a tracker id and recipient email.
func (r *SendRepositoryImpl) FindByCorrelation(ctx context.Context, trackerID int64, email string) (*model.SendRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		"SELECT "+sendColumns+" FROM mail_send_records s WHERE s.tracker_id = $1 AND s.email = $2 ORDER BY s.id LIMIT 1",
		trackerID, email,
	)
	if err != nil {
		return nil, err
	}

	records, err := collectSends(rows)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, model.ErrSendRecordNotFound
	}

	return records[0], nil
}

// ListByRecipient retrieves every send addressed to ref, newest first.
func (r *SendRepositoryImpl) ListByRecipient(ctx context.Context, ref model.Reference) ([]*model.SendRecord, error) {
	return r.listByRef(ctx, "recipient_kind", "recipient_id", ref)
}

// ListByLinked retrieves every send linked to ref, newest first.
func (r *SendRepositoryImpl) ListByLinked(ctx context.Context, ref model.Reference) ([]*model.SendRecord, error) {
	return r.listByRef(ctx, "linked_kind", "linked_id", ref)
}

func (r *SendRepositoryImpl) listByRef(ctx context.Context, kindColumn, idColumn string, ref model.Reference) ([]*model.SendRecord, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM mail_send_records s WHERE s.%s = $1 AND s.%s = $2 ORDER BY s.created_at DESC, s.id DESC",
		sendColumns, kindColumn, idColumn,
	)

	rows, err := conn(ctx, r.db).Query(ctx, query, ref.Kind, ref.ID)
	if err != nil {
		return nil, err
	}

	return collectSends(rows)
}

// FindWithEvents retrieves the sends matching criteria together with all their events.
func (r *SendRepositoryImpl) FindWithEvents(ctx context.Context, criteria *SendCriteria) ([]model.SendWithEvents, error) {
	query, args, err := buildStatsQuery(criteria)
	if err != nil {
		return nil, err
	}

	db := conn(ctx, r.db)

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query send records: %w", err)
	}

	sends, err := collectSends(rows)
	if err != nil {
		return nil, err
	}

	if len(sends) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(sends))
	index := make(map[int64]int, len(sends))
	result := make([]model.SendWithEvents, len(sends))

	for i, send := range sends {
		ids[i] = send.ID
		index[send.ID] = i
		result[i].Send = *send
	}

	eventRows, err := db.Query(ctx,
		"SELECT id, send_record_id, status, payload, created_at FROM mail_events WHERE send_record_id = ANY($1) ORDER BY id",
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	events, err := collectEvents(eventRows)
	if err != nil {
		return nil, err
	}

	for _, event := range events {
		i := index[event.SendRecordID]
		result[i].Events = append(result[i].Events, *event)
	}

	return result, nil
}

// DeleteBeyondLimit removes the oldest rows until at most keep remain.
func (r *SendRepositoryImpl) DeleteBeyondLimit(ctx context.Context, keep, batchSize int) (int64, error) {
	return r.batchDelete(ctx, batchSize, `
		DELETE FROM mail_send_records
		WHERE id IN (
			SELECT id FROM mail_send_records
			ORDER BY created_at DESC, id DESC
			OFFSET $1
			LIMIT $2
		)`, keep)
}

// DeleteCreatedBefore removes every row created before cutoff.
func (r *SendRepositoryImpl) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return r.batchDelete(ctx, batchSize, `
		DELETE FROM mail_send_records
		WHERE id IN (
			SELECT id FROM mail_send_records
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)`, cutoff)
}

// batchDelete runs query with (arg, batchSize) until a batch comes back short.
func (r *SendRepositoryImpl) batchDelete(ctx context.Context, batchSize int, query string, arg any) (int64, error) {
	if batchSize <= 0 {
		batchSize = defaultDeleteBatch
	}

	var total int64

	for {
		tag, err := conn(ctx, r.db).Exec(ctx, query, arg, batchSize)
		if err != nil {
			return total, fmt.Errorf("failed to delete send records: %w", err)
		}

		total += tag.RowsAffected()

		if tag.RowsAffected() < int64(batchSize) || ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
}

// Count returns the number of send records.
func (r *SendRepositoryImpl) Count(ctx context.Context) (int64, error) {
	var n int64
	err := conn(ctx, r.db).QueryRow(ctx, "SELECT COUNT(*) FROM mail_send_records").Scan(&n)

	return n, err
}

func refColumns(ref *model.Reference) (*string, *string) {
	if ref == nil {
		return nil, nil
	}

	return &ref.Kind, &ref.ID
}

func refFromColumns(kind, id *string) *model.Reference {
	if kind == nil || id == nil {
		return nil
	}

	return &model.Reference{Kind: *kind, ID: *id}
}

func collectSends(rows pgx.Rows) ([]*model.SendRecord, error) {
	defer rows.Close()

	var records []*model.SendRecord

	for rows.Next() {
		var (
			record                     model.SendRecord
			distributionType           string
			recipientKind, recipientID *string
			linkedKind, linkedID       *string
		)

		if err := rows.Scan(
			&record.ID, &record.TrackerID, &record.Email,
			&recipientKind, &recipientID, &linkedKind, &linkedID,
			&distributionType, &record.Category, &record.Queue, &record.MessageClass, &record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan send record: %w", err)
		}

		record.DistributionType = model.DistributionType(distributionType)
		record.Recipient = refFromColumns(recipientKind, recipientID)
		record.LinkedTo = refFromColumns(linkedKind, linkedID)
		records = append(records, &record)
	}

	return records, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]*model.EventRecord, error) {
	defer rows.Close()

	var events []*model.EventRecord

	for rows.Next() {
		var (
			event   model.EventRecord
			status  string
			payload []byte
		)

		if err := rows.Scan(&event.ID, &event.SendRecordID, &status, &payload, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.Status = model.EventStatus(status)

		decoded, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		event.Payload = decoded

		events = append(events, &event)
	}

	return events, rows.Err()
}

func encodePayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(payload)
}

func decodePayload(data []byte) (map[string]any, error) {
	payload := make(map[string]any)
	if len(data) == 0 {
		return payload, nil
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}

	return payload, nil
}
