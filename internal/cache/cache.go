// Package cache implements a namespaced expiring cache on top of a kvstore.Store.
// Storage failures never reach callers: they are logged and the operation
// degrades to a miss or a no-op.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/kvstore"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

const (
	// Prefix namespaces every key this cache owns in the backing store.
	Prefix = "weather_cache_"
	// DefaultTTL is applied when Set is called with a non-positive ttl.
	DefaultTTL = 2 * time.Hour
)

// entry is the stored envelope. ExpiresAt is unix milliseconds.
type entry struct {
	Data      json.RawMessage `json:"data"`
	ExpiresAt int64           `json:"expiresAt"`
}

// Cache is safe for concurrent use when the backing store is.
type Cache struct {
	store  kvstore.Store
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache over store and purges entries that have already expired.
func New(ctx context.Context, store kvstore.Store, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if n := c.Sweep(ctx); n > 0 {
		c.logger.Info("purged stale cache entries", zap.Int("count", n))
	}
	return c
}

func (c *Cache) key(k string) string {
	return Prefix + k
}

// Set stores value for key until now+ttl, replacing any existing entry.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache set: encode value", zap.String("key", key), zap.Error(err))
		return
	}
	raw, err := json.Marshal(entry{Data: data, ExpiresAt: c.now().Add(ttl).UnixMilli()})
	if err != nil {
		c.logger.Error("cache set: encode entry", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, c.key(key), string(raw)); err != nil {
		c.storageError("set", key, err)
	}
}

// Get decodes the entry for key into dest and reports whether it was present
// and unexpired. Expired and undecodable entries are removed. dest may be nil
// to only test presence.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	raw, ok, err := c.store.Get(ctx, c.key(key))
	if err != nil {
		c.storageError("get", key, err)
		observability.CacheMissesTotal.Inc()
		return false
	}
	if !ok {
		observability.CacheMissesTotal.Inc()
		return false
	}

	e, valid := c.decode(raw)
	if !valid {
		return c.evictOnRead(ctx, key, "corrupt")
	}
	if c.expired(e) {
		return c.evictOnRead(ctx, key, "expired")
	}
	if dest != nil {
		if err := json.Unmarshal(e.Data, dest); err != nil {
			c.logger.Warn("cache get: payload does not decode", zap.String("key", key), zap.Error(err))
			return c.evictOnRead(ctx, key, "corrupt")
		}
	}
	observability.CacheHitsTotal.Inc()
	return true
}

// Has reports whether key holds an unexpired entry.
func (c *Cache) Has(ctx context.Context, key string) bool {
	return c.Get(ctx, key, nil)
}

// Delete removes the entry for key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.store.Remove(ctx, c.key(key)); err != nil {
		c.storageError("delete", key, err)
	}
}

// Clear removes every entry in the cache namespace and nothing else.
func (c *Cache) Clear(ctx context.Context) {
	keys, err := c.store.Keys(ctx, Prefix)
	if err != nil {
		c.storageError("clear", "", err)
		return
	}
	for _, k := range keys {
		if err := c.store.Remove(ctx, k); err != nil {
			c.storageError("clear", strings.TrimPrefix(k, Prefix), err)
		}
	}
}

// Sweep purges expired and corrupt entries in the namespace and returns how many were removed.
func (c *Cache) Sweep(ctx context.Context) int {
	keys, err := c.store.Keys(ctx, Prefix)
	if err != nil {
		c.storageError("sweep", "", err)
		return 0
	}
	purged := 0
	for _, k := range keys {
		raw, ok, err := c.store.Get(ctx, k)
		if err != nil {
			c.storageError("sweep", strings.TrimPrefix(k, Prefix), err)
			continue
		}
		if !ok {
			continue
		}
		reason := ""
		if e, valid := c.decode(raw); !valid {
			reason = "corrupt"
		} else if c.expired(e) {
			reason = "expired"
		} else {
			continue
		}
		if c.purge(ctx, strings.TrimPrefix(k, Prefix), reason) {
			purged++
		}
	}
	return purged
}

func (c *Cache) decode(raw string) (entry, bool) {
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || len(e.Data) == 0 {
		return entry{}, false
	}
	return e, true
}

// expired reports whether now has reached the entry's expiry; an entry is valid iff now < expiresAt.
func (c *Cache) expired(e entry) bool {
	return c.now().UnixMilli() >= e.ExpiresAt
}

// evictOnRead purges an unusable entry found by Get; the lookup counts as a miss.
func (c *Cache) evictOnRead(ctx context.Context, key, reason string) bool {
	observability.CacheMissesTotal.Inc()
	c.purge(ctx, key, reason)
	return false
}

func (c *Cache) purge(ctx context.Context, key, reason string) bool {
	observability.CacheEvictionsTotal.WithLabelValues(reason).Inc()
	if err := c.store.Remove(ctx, c.key(key)); err != nil {
		c.storageError("purge", key, err)
		return false
	}
	c.logger.Debug("cache entry purged", zap.String("key", key), zap.String("reason", reason))
	return true
}

// storageError logs a backend failure. An unavailable backend is expected
// outside interactive deployments and only logged at debug.
func (c *Cache) storageError(op, key string, err error) {
	if errors.Is(err, kvstore.ErrUnavailable) {
		c.logger.Debug("cache storage unavailable", zap.String("operation", op))
		return
	}
	observability.CacheErrorsTotal.WithLabelValues(op).Inc()
	c.logger.Warn("cache storage error", zap.String("operation", op), zap.String("key", key), zap.Error(err))
}
