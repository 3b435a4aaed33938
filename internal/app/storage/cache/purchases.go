// Package cache provides a Redis read-through cache for purchase lookups.
//
// Only positive results are cached. Purchases are never deleted, so a cached
// record cannot go stale; a miss always falls through to the backing store so
// a freshly recorded unlock is visible immediately.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nightstudio/paywall/internal/app/domain/purchase"
	"github.com/nightstudio/paywall/internal/app/storage"
	"github.com/nightstudio/paywall/pkg/logger"
)

const keyPrefix = "paywall:purchase:"

// Redis is the subset of the go-redis client used by the cache.
type Redis interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// PurchaseStore decorates a storage.PurchaseStore with a Redis cache.
type PurchaseStore struct {
	storage.PurchaseStore
	redis Redis
	ttl   time.Duration
	log   *logger.Logger
}

var _ storage.PurchaseStore = (*PurchaseStore)(nil)

// NewPurchaseStore wraps next. A non-positive ttl defaults to 24h.
func NewPurchaseStore(next storage.PurchaseStore, rdb Redis, ttl time.Duration, log *logger.Logger) *PurchaseStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logger.NewDefault("purchase-cache")
	}
	return &PurchaseStore{PurchaseStore: next, redis: rdb, ttl: ttl, log: log}
}

func purchaseKey(userID, postID string) string {
	return keyPrefix + userID + ":" + postID
}

// FindPurchase consults Redis first. Cache failures are logged and bypassed.
func (c *PurchaseStore) FindPurchase(ctx context.Context, userID, postID string) (purchase.Purchase, error) {
	key := purchaseKey(userID, postID)

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p purchase.Purchase
		if jsonErr := json.Unmarshal(raw, &p); jsonErr == nil {
			return p, nil
		}
		c.log.WithField("key", key).Warn("discarding undecodable cached purchase")
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).WithField("key", key).Warn("purchase cache read failed")
	}

	p, err := c.PurchaseStore.FindPurchase(ctx, userID, postID)
	if err != nil {
		return purchase.Purchase{}, err
	}
	c.store(ctx, p)
	return p, nil
}

// CreatePurchase writes through to the backing store and caches the result.
func (c *PurchaseStore) CreatePurchase(ctx context.Context, p purchase.Purchase) (purchase.Purchase, error) {
	created, err := c.PurchaseStore.CreatePurchase(ctx, p)
	if err != nil {
		return purchase.Purchase{}, err
	}
	c.store(ctx, created)
	return created, nil
}

func (c *PurchaseStore) store(ctx context.Context, p purchase.Purchase) {
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, purchaseKey(p.UserID, p.PostID), raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("purchase cache write failed")
	}
}
