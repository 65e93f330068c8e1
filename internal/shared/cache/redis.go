package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicpay/server/internal/shared/config"
	goredis "github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix  = "webhook:event:"
	defaultEventTTL = 24 * time.Hour
)

// Cache provides a best-effort fast path for webhook event deduplication.
// The webhook event store is the authoritative dedup mechanism; losing
// Redis only loses the short-circuit, never correctness.
type Cache struct {
	client goredis.UniversalClient
}

// New creates a new Redis-backed cache.
func New(cfg *config.RedisConfig) *Cache {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Cache{client: client}
}

// NewWithClient wraps an existing Redis client. Used in tests.
func NewWithClient(client goredis.UniversalClient) *Cache {
	return &Cache{client: client}
}

// MarkEventSeen records the event ID and reports whether it had already
// been seen. Errors are returned so the caller can fall through to the
// datastore check rather than trusting a degraded cache.
func (c *Cache) MarkEventSeen(ctx context.Context, eventID string) (alreadySeen bool, err error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	set, err := c.client.SetNX(ctx, eventKeyPrefix+eventID, "1", defaultEventTTL).Result()
	if err != nil {
		return false, fmt.Errorf("mark event seen: %w", err)
	}
	return !set, nil
}

// Close closes the underlying client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping verifies connectivity. Used by the health endpoint.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
