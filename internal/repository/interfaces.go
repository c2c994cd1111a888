// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"time"

	"github.com/jnst/mail-tracker/internal/model"
)

// SendCriteria selects send records for a stats query. Values of one dimension are ORed,
// distinct dimensions are ANDed. From and To are inclusive.
type SendCriteria struct {
	From    time.Time
	To      time.Time
	Filters map[model.Dimension][]string
}

// SendRepository defines methods for Send Ledger access.
type SendRepository interface {
	Create(ctx context.Context, params *model.CreateSendRecordParams) (*model.SendRecord, error)
	// FindByCorrelation returns model.ErrSendRecordNotFound when no row matches.
	FindByCorrelation(ctx context.Context, trackerID int64, email string) (*model.SendRecord, error)
	ListByRecipient(ctx context.Context, ref model.Reference) ([]*model.SendRecord, error)
	ListByLinked(ctx context.Context, ref model.Reference) ([]*model.SendRecord, error)
	// FindWithEvents returns matching sends ordered by creation time, each with all of its events.
	FindWithEvents(ctx context.Context, criteria *SendCriteria) ([]model.SendWithEvents, error)
	// DeleteBeyondLimit keeps the newest keep rows and deletes the rest, batchSize at a time.
	DeleteBeyondLimit(ctx context.Context, keep, batchSize int) (int64, error)
	// DeleteCreatedBefore deletes rows created strictly before cutoff, batchSize at a time.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// EventRepository defines methods for Event Store access.
type EventRepository interface {
	// Create returns model.ErrSendRecordNotFound when the owning send no longer exists.
	Create(ctx context.Context, params *model.CreateEventRecordParams) (*model.EventRecord, error)
	ListBySendRecord(ctx context.Context, sendRecordID int64) ([]*model.EventRecord, error)
	// Latest returns nil when the send has no events.
	Latest(ctx context.Context, sendRecordID int64) (*model.EventRecord, error)
	HasStatus(ctx context.Context, sendRecordID int64, status model.EventStatus) (bool, error)
}

// OutboxRepository defines methods for outbox event data access.
type OutboxRepository interface {
	CreateEvent(ctx context.Context, params *model.CreateOutboxEventParams) (*model.OutboxEvent, error)
	GetUnpublishedEvents(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkAsPublished(ctx context.Context, id int64) error
}

// TrackerIDAllocator hands out tracker ids. Implementations must never return the same id twice.
type TrackerIDAllocator interface {
	NextTrackerID(ctx context.Context) (int64, error)
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
