package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"
)

// Backend and tracker id source names accepted by Open.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	SourceRedis     = "redis"
)

var errUnsupportedBackend = errors.New("unsupported storage backend")

// Store bundles the repositories of one storage backend.
type Store struct {
	Sends      SendRepository
	Events     EventRepository
	Outbox     OutboxRepository
	TrackerIDs TrackerIDAllocator
	Tx         TransactionManager

	pool *pgxpool.Pool
}

// StoreOptions selects a backend.
type StoreOptions struct {
	Backend         string
	DatabaseURL     string
	TrackerIDSource string
	// Redis is required when TrackerIDSource is "redis".
	Redis rueidis.Client
}

// Open builds a store for opts, creating the Postgres schema when needed.
func Open(ctx context.Context, opts StoreOptions) (*Store, error) {
	var store *Store

	switch opts.Backend {
	case BackendPostgres:
		pool, err := pgxpool.New(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}

		store = NewPostgresStore(pool)
	case BackendMemory:
		store = NewInMemoryStore()
	default:
		return nil, fmt.Errorf("%w: %q", errUnsupportedBackend, opts.Backend)
	}

	switch opts.TrackerIDSource {
	case "", opts.Backend:
	case SourceRedis:
		if opts.Redis == nil {
			store.Close()
			return nil, errors.New("redis tracker id source requires a redis client")
		}
		store.TrackerIDs = NewRedisTrackerIDAllocator(opts.Redis, DefaultTrackerIDKey)
	case BackendMemory:
		store.TrackerIDs = NewMemoryTrackerIDAllocator()
	default:
		store.Close()
		return nil, fmt.Errorf("%w for tracker ids: %q", errUnsupportedBackend, opts.TrackerIDSource)
	}

	return store, nil
}

// NewPostgresStore wires every repository to pool.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Sends:      NewSendRepositoryImpl(pool),
		Events:     NewEventRepositoryImpl(pool),
		Outbox:     NewOutboxRepositoryImpl(pool),
		TrackerIDs: NewSequenceTrackerIDAllocator(pool),
		Tx:         NewTransactionManagerImpl(pool),
		pool:       pool,
	}
}

// NewInMemoryStore wires every repository to a fresh MemoryStore.
func NewInMemoryStore() *Store {
	mem := NewMemoryStore()

	return &Store{
		Sends:      mem.Sends(),
		Events:     mem.Events(),
		Outbox:     mem.Outbox(),
		TrackerIDs: NewMemoryTrackerIDAllocator(),
		Tx:         mem,
	}
}

// Ping checks the database connection; the memory backend is always reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}

	return s.pool.Ping(ctx)
}

// Close releases the connection pool, if any.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
