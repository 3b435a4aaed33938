package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// NonceStore holds outstanding login challenges. Consume must succeed at most
// once per issued nonce.
type NonceStore interface {
	Put(ctx context.Context, wallet, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, wallet, nonce string) (bool, error)
}

type nonceEntry struct {
	wallet  string
	expires time.Time
}

// MemoryNonces keeps challenges in process memory.
type MemoryNonces struct {
	mu      sync.Mutex
	entries map[string]nonceEntry
	now     func() time.Time
}

func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{entries: make(map[string]nonceEntry), now: time.Now}
}

func (m *MemoryNonces) Put(_ context.Context, wallet, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if now.After(e.expires) {
			delete(m.entries, k)
		}
	}
	m.entries[nonce] = nonceEntry{wallet: wallet, expires: now.Add(ttl)}
	return nil
}

func (m *MemoryNonces) Consume(_ context.Context, wallet, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[nonce]
	if !ok {
		return false, nil
	}
	delete(m.entries, nonce)
	return e.wallet == wallet && !m.now().After(e.expires), nil
}

// RedisNonces shares challenges between instances.
type RedisNonces struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisNonces(rdb redis.Cmdable) *RedisNonces {
	return &RedisNonces{rdb: rdb, prefix: "paywall:nonce:"}
}

func (r *RedisNonces) Put(ctx context.Context, wallet, nonce string, ttl time.Duration) error {
	return r.rdb.Set(ctx, r.prefix+nonce, wallet, ttl).Err()
}

func (r *RedisNonces) Consume(ctx context.Context, wallet, nonce string) (bool, error) {
	owner, err := r.rdb.GetDel(ctx, r.prefix+nonce).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == wallet, nil
}
