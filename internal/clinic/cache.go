package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/missedcall-ai-platform/pkg/logging"
)

const cacheKeyPrefix = "clinic:routing:"

// CachedDirectory is a Redis read-through cache in front of another Directory.
// Misses are never cached so a newly onboarded clinic shows up on the next lookup.
type CachedDirectory struct {
	next   Directory
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedDirectory wraps next. A nil redis client disables caching.
func NewCachedDirectory(next Directory, rdb redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedDirectory {
	if next == nil {
		panic("clinic: backing directory required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{next: next, redis: rdb, ttl: ttl, logger: logger}
}

func cacheKey(routingNumber string) string {
	return cacheKeyPrefix + routingNumber
}

// FindByRoutingNumber serves from Redis when possible. Redis failures fall through to the store.
func (d *CachedDirectory) FindByRoutingNumber(ctx context.Context, routingNumber string) (*Clinic, error) {
	if d.redis != nil {
		data, err := d.redis.Get(ctx, cacheKey(routingNumber)).Bytes()
		switch {
		case err == nil:
			var c Clinic
			if jsonErr := json.Unmarshal(data, &c); jsonErr == nil {
				return &c, nil
			}
			d.logger.Warn("discarding corrupt clinic cache entry", "routing_number", routingNumber)
		case errors.Is(err, redis.Nil):
		default:
			d.logger.Warn("clinic cache read failed", "routing_number", routingNumber, "error", err)
		}
	}

	c, err := d.next.FindByRoutingNumber(ctx, routingNumber)
	if err != nil {
		return nil, err
	}
	if d.redis != nil && c != nil {
		if data, jsonErr := json.Marshal(c); jsonErr == nil {
			if setErr := d.redis.Set(ctx, cacheKey(routingNumber), data, d.ttl).Err(); setErr != nil {
				d.logger.Warn("clinic cache write failed", "routing_number", routingNumber, "error", setErr)
			}
		}
	}
	return c, nil
}

// Invalidate drops the cached entry after an admin write.
func (d *CachedDirectory) Invalidate(ctx context.Context, routingNumber string) error {
	if d == nil || d.redis == nil {
		return nil
	}
	return d.redis.Del(ctx, cacheKey(routingNumber)).Err()
}
