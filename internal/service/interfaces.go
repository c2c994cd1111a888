// Package service provides business logic layer implementations.
package service

import (
	"context"

	"github.com/jnst/mail-tracker/internal/model"
	"github.com/jnst/mail-tracker/internal/stats"
)

// IngestService correlates provider webhook events with recorded sends.
type IngestService interface {
	// ProcessBatch handles every event independently. Per-event failures are logged
	// and counted in the report, never returned.
	ProcessBatch(ctx context.Context, events []*model.RawEvent) BatchReport
	// ProcessPayload parses a JSON array body and processes it. Only a body that is
	// not a JSON array is an error; malformed elements are skipped.
	ProcessPayload(ctx context.Context, body []byte) (BatchReport, error)
}

// TrackerService records outbound sends for the mail-sending path.
type TrackerService interface {
	BeginSend(ctx context.Context) (int64, error)
	// RecordRecipient stores one addressee of trackerID. It returns nil when the
	// recipient's distribution type is not tracked.
	RecordRecipient(ctx context.Context, trackerID int64, recipient model.RecipientInfo, meta model.SendMeta) (*model.SendRecord, error)
	// RecordSend allocates a tracker id and stores every tracked recipient atomically.
	RecordSend(ctx context.Context, meta model.SendMeta, recipients []model.RecipientInfo) (*SendReceipt, error)
}

// StatsService answers stats queries.
type StatsService interface {
	Query(ctx context.Context, q stats.Query) (*model.StatsResultCollection, error)
}

// RetentionService prunes the send ledger.
type RetentionService interface {
	// Prune applies the configured policy and returns the number of sends removed.
	Prune(ctx context.Context) (int64, error)
}

// OutboxService defines business logic methods for outbox event processing.
type OutboxService interface {
	ProcessUnpublishedEvents(ctx context.Context, limit int) error
}

// Deduplicator remembers provider event ids.
type Deduplicator interface {
	// FirstDelivery reports whether id has not been seen before and marks it as seen.
	FirstDelivery(ctx context.Context, id string) (bool, error)
	// Forget clears id so a redelivery is processed again.
	Forget(ctx context.Context, id string) error
}

// Trackable exposes the send history of a host entity.
type Trackable interface {
	// RecipientHistory lists the sends addressed to the entity.
	RecipientHistory(ctx context.Context) ([]*model.SendRecord, error)
	// RelatedSendHistory lists the sends linked to the entity.
	RelatedSendHistory(ctx context.Context) ([]*model.SendRecord, error)
}
