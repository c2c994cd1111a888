package repository

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/rueidis"
)

// DefaultTrackerIDKey is the Redis counter backing RedisTrackerIDAllocator.
const DefaultTrackerIDKey = "mail:tracker_id"

// SequenceTrackerIDAllocator draws tracker ids from a Postgres sequence.
type SequenceTrackerIDAllocator struct {
	db DBTX
}

// NewSequenceTrackerIDAllocator creates an allocator on mail_tracker_id_seq.
func NewSequenceTrackerIDAllocator(db DBTX) TrackerIDAllocator {
	return &SequenceTrackerIDAllocator{db: db}
}

// NextTrackerID returns nextval of the sequence. Sequences are not transactional, so a
// rolled-back send burns its id instead of handing it out again.
func (a *SequenceTrackerIDAllocator) NextTrackerID(ctx context.Context) (int64, error) {
	var id int64
	if err := conn(ctx, a.db).QueryRow(ctx, "SELECT nextval('"+trackerSequence+"')").Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate tracker id: %w", err)
	}

	return id, nil
}

// RedisTrackerIDAllocator draws tracker ids from an INCR counter, for deployments that
// share one Redis between several ledgers.
type RedisTrackerIDAllocator struct {
	client rueidis.Client
	key    string
}

// NewRedisTrackerIDAllocator creates an allocator on key (DefaultTrackerIDKey when empty).
func NewRedisTrackerIDAllocator(client rueidis.Client, key string) TrackerIDAllocator {
	if key == "" {
		key = DefaultTrackerIDKey
	}

	return &RedisTrackerIDAllocator{client: client, key: key}
}

// NextTrackerID increments the counter.
func (a *RedisTrackerIDAllocator) NextTrackerID(ctx context.Context) (int64, error) {
	cmd := a.client.B().Incr().Key(a.key).Build()

	id, err := a.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate tracker id: %w", err)
	}

	return id, nil
}

// MemoryTrackerIDAllocator is an in-process counter.
type MemoryTrackerIDAllocator struct {
	last atomic.Int64
}

// NewMemoryTrackerIDAllocator creates a counter whose first id is 1.
func NewMemoryTrackerIDAllocator() *MemoryTrackerIDAllocator {
	return &MemoryTrackerIDAllocator{}
}

// NextTrackerID increments the counter.
func (a *MemoryTrackerIDAllocator) NextTrackerID(_ context.Context) (int64, error) {
	return a.last.Add(1), nil
}
