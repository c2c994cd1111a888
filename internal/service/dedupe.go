package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/rueidis"
)

const dedupeKeyPrefix = "mail:dedupe:"

// RedisDeduplicator remembers provider event ids with SET NX and a TTL.
type RedisDeduplicator struct {
	client rueidis.Client
	ttl    time.Duration
}

// NewRedisDeduplicator creates a deduplicator whose keys expire after ttl.
func NewRedisDeduplicator(client rueidis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl < time.Second {
		ttl = time.Second
	}

	return &RedisDeduplicator{client: client, ttl: ttl}
}

// FirstDelivery sets the id's key unless it already exists.
func (d *RedisDeduplicator) FirstDelivery(ctx context.Context, id string) (bool, error) {
	cmd := d.client.B().Set().Key(dedupeKeyPrefix + id).Value("1").Nx().ExSeconds(int64(d.ttl / time.Second)).Build()

	err := d.client.Do(ctx, cmd).Error()
	if rueidis.IsRedisNil(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record event id %s: %w", id, err)
	}

	return true, nil
}

// Forget deletes the id's key.
func (d *RedisDeduplicator) Forget(ctx context.Context, id string) error {
	cmd := d.client.B().Del().Key(dedupeKeyPrefix + id).Build()
	if err := d.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to forget event id %s: %w", id, err)
	}

	return nil
}
