package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laserostop/booking-calendar/pkg/logging"
)

const cacheKey = "booking:settings"

// CachedStore is a read-through Redis cache in front of another Store.
// Redis failures degrade to the backing store.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedStore wraps next. A nil client disables caching.
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedStore {
	if next == nil {
		panic("settings: backing store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{next: next, redis: client, ttl: ttl, logger: logger}
}

// Get returns the cached settings or loads and caches them.
func (c *CachedStore) Get(ctx context.Context) (*Settings, error) {
	if c.redis == nil {
		return c.next.Get(ctx)
	}
	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	switch {
	case err == nil:
		var s Settings
		if err := json.Unmarshal(data, &s); err == nil {
			return &s, nil
		}
		c.logger.Warn("settings cache entry unreadable", "key", cacheKey)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("settings cache read failed", "error", err)
	}

	s, err := c.next.Get(ctx)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(s); err == nil {
		if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
			c.logger.Warn("settings cache write failed", "error", err)
		}
	}
	return s, nil
}

// Save writes through and drops the cached copy.
func (c *CachedStore) Save(ctx context.Context, s *Settings) error {
	if err := c.next.Save(ctx, s); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, cacheKey).Err(); err != nil {
		return fmt.Errorf("settings: invalidate cache: %w", err)
	}
	return nil
}
