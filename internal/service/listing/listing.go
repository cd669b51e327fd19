package listing

import (
	"context"
	"time"

	"github.com/jwalitptl/mailing-api/internal/cache"
	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/service/access"
	"github.com/jwalitptl/mailing-api/pkg/logger"
	"github.com/jwalitptl/mailing-api/pkg/metrics"
)

// Cache is the cache-aside front for scoped listings. Entries are never
// invalidated on write; they expire by TTL.
type Cache struct {
	store   cache.Cache
	policy  *access.Policy
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func New(store cache.Cache, policy *access.Policy, logger *logger.Logger, metrics *metrics.Metrics) *Cache {
	return &Cache{store: store, policy: policy, logger: logger, metrics: metrics}
}

// Load returns actor's listing of entity, from cache when a non-empty
// snapshot is present, otherwise from fetch with the actor's scope.
func Load[T any](
	ctx context.Context,
	c *Cache,
	entity string,
	actor model.Actor,
	ttl time.Duration,
	fetch func(ctx context.Context, filter model.OwnerFilter) ([]T, error),
) ([]T, error) {
	key := c.policy.CacheKey(entity, actor)

	var items []T
	if c.get(ctx, entity, key, &items) && len(items) > 0 {
		return items, nil
	}

	items, err := fetch(ctx, c.policy.Scope(actor))
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, items, ttl)
	return items, nil
}

// UserKey is the key for a value computed for actor alone.
func (c *Cache) UserKey(entity string, actor model.Actor) string {
	return c.policy.UserKey(entity, actor)
}

// LoadValue caches a single value under key.
func LoadValue[T any](
	ctx context.Context,
	c *Cache,
	entity, key string,
	ttl time.Duration,
	fetch func(ctx context.Context) (T, error),
) (T, error) {
	var v T
	if c.get(ctx, entity, key, &v) {
		return v, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}
	c.set(ctx, key, v, ttl)
	return v, nil
}

func (c *Cache) get(ctx context.Context, entity, key string, dest interface{}) bool {
	ok, err := c.store.Get(ctx, key, dest)
	switch {
	case err != nil:
		c.logger.WithContext(ctx).Warn("cache read failed", "key", key, "error", err.Error())
		c.metrics.CacheLookups.WithLabelValues(entity, "error").Inc()
		return false
	case ok:
		c.metrics.CacheLookups.WithLabelValues(entity, "hit").Inc()
		return true
	default:
		c.metrics.CacheLookups.WithLabelValues(entity, "miss").Inc()
		return false
	}
}

func (c *Cache) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.logger.WithContext(ctx).Warn("cache write failed", "key", key, "error", err.Error())
	}
}
