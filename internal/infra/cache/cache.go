// Package cache persists per-user discovery results with a fixed TTL.
// Every failure mode degrades to a cache miss; discovery always has the
// fan-out path to fall back on.
package cache

import (
	"encoding/json"
	"errors"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"toolgate/internal/domain"
)

var discoveryBucket = []byte("discovery")

// Cache stores one DiscoveryCacheEntry per user in bbolt.
type Cache struct {
	db     *bolt.DB
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(db *bolt.DB, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		db:     db,
		ttl:    domain.DiscoveryCacheTTL,
		now:    time.Now,
		logger: logger.Named("discovery-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(discoveryBucket)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Get returns the user's cached tools and true on a fresh hit. Absent,
// expired, and unreadable entries all report a miss.
func (c *Cache) Get(userID string) ([]domain.OriginTaggedTool, bool) {
	var entry domain.DiscoveryCacheEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(discoveryBucket).Get([]byte(userID))
		if raw == nil {
			return domain.ErrCacheMiss
		}
		return json.Unmarshal(raw, &entry)
	})
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("discarding unreadable cache entry",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		return nil, false
	}
	if entry.Expired(c.now()) {
		return nil, false
	}
	return entry.Tools, true
}

// Put replaces the user's entry with a fresh one. The old row is deleted
// before the insert so a failed write leaves a miss, never a stale hit.
// Write errors are logged and swallowed.
func (c *Cache) Put(userID string, tools []domain.OriginTaggedTool) {
	now := c.now()
	entry := domain.DiscoveryCacheEntry{
		UserID:    userID,
		Tools:     tools,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("skipping cache write", zap.String("user_id", userID), zap.Error(err))
		return
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(discoveryBucket)
		if err := bucket.Delete([]byte(userID)); err != nil {
			return err
		}
		return bucket.Put([]byte(userID), raw)
	})
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Invalidate drops the user's entry so the next discovery goes to the
// backends.
func (c *Cache) Invalidate(userID string) {
	err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(discoveryBucket).Delete([]byte(userID))
	})
	if err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}
