// Package cache keeps time-boxed identity snapshots in Redis in front of the
// identity table. The cache is never authoritative: every failure is logged
// and reported as a miss so that login and lookups fall back to the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kanggyeonggu/identity-service/internal/config"
	"github.com/kanggyeonggu/identity-service/internal/logger"
	"github.com/kanggyeonggu/identity-service/internal/model"
)

// ErrDisabled is returned by Put when no Redis client is configured.
var ErrDisabled = errors.New("identity cache disabled")

// snapshot is the stored payload. ExpiresAt is checked on read so that an
// entry past its window is a miss even if Redis has not dropped it yet.
type snapshot struct {
	Identity  model.Identity `json:"identity"`
	ExpiresAt int64          `json:"expires_at"` // unix millis
}

// IdentityCache is a read-through/write-through snapshot cache keyed by
// identity id.
type IdentityCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time
	log    *slog.Logger
}

// Option customizes an IdentityCache.
type Option func(*IdentityCache)

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *IdentityCache) { c.now = now }
}

// NewIdentityCache wraps rdb. A nil client, or cfg.Enabled=false, gives a
// cache that always misses.
func NewIdentityCache(rdb *redis.Client, cfg config.IdentityCacheConfig, log *slog.Logger, opts ...Option) *IdentityCache {
	if !cfg.Enabled {
		rdb = nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "user"
	}
	c := &IdentityCache{rdb: rdb, ttl: ttl, prefix: prefix, now: time.Now, log: logger.OrDiscard(log)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the Redis key for an identity id.
func (c *IdentityCache) Key(id uint64) string {
	return c.prefix + ":" + strconv.FormatUint(id, 10)
}

// Get returns the snapshot for id if present and unexpired.
func (c *IdentityCache) Get(ctx context.Context, id uint64) (model.Identity, bool) {
	if c.rdb == nil {
		return model.Identity{}, false
	}
	key := c.Key(id)
	bs, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Identity{}, false
	}
	if err != nil {
		c.log.WarnContext(ctx, "identity cache read failed", "key", key, "error", err)
		return model.Identity{}, false
	}
	var snap snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		c.log.WarnContext(ctx, "identity cache entry undecodable", "key", key, "error", err)
		return model.Identity{}, false
	}
	if c.now().UnixMilli() >= snap.ExpiresAt {
		return model.Identity{}, false
	}
	if snap.Identity.ID != id {
		return model.Identity{}, false
	}
	return snap.Identity, true
}

// Put stores a snapshot valid for the configured TTL from now, replacing
// any previous entry. Failures are logged and returned.
func (c *IdentityCache) Put(ctx context.Context, ident model.Identity) error {
	if c.rdb == nil {
		return ErrDisabled
	}
	key := c.Key(ident.ID)
	payload, err := json.Marshal(snapshot{
		Identity:  ident,
		ExpiresAt: c.now().Add(c.ttl).UnixMilli(),
	})
	if err != nil {
		c.log.WarnContext(ctx, "identity cache encode failed", "key", key, "error", err)
		return err
	}
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "identity cache write failed", "key", key, "error", err)
		return err
	}
	return nil
}

// Invalidate drops the snapshot for id. Failures are logged only.
func (c *IdentityCache) Invalidate(ctx context.Context, id uint64) {
	if c.rdb == nil {
		return
	}
	key := c.Key(id)
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.WarnContext(ctx, "identity cache invalidate failed", "key", key, "error", err)
	}
}
