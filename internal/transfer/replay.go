package transfer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// ReplayGuard remembers (sender, nonce) pairs for at least the replay window.
type ReplayGuard interface {
	// Reserve claims the pair. It reports false when the pair was already
	// claimed and has not expired.
	Reserve(ctx context.Context, from string, nonce int64) (bool, error)
	// Release forgets a pair whose transfer was not applied.
	Release(ctx context.Context, from string, nonce int64) error
}

func replayKey(from string, nonce int64) string {
	return "replay:v1:" + from + ":" + strconv.FormatInt(nonce, 10)
}

// RedisReplayGuard shares seen nonces across instances through Redis.
type RedisReplayGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReplayGuard keeps each pair for ttl.
func NewRedisReplayGuard(client *redis.Client, ttl time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{client: client, ttl: ttl}
}

func (g *RedisReplayGuard) Reserve(ctx context.Context, from string, nonce int64) (bool, error) {
	ok, err := g.client.SetNX(ctx, replayKey(from, nonce), time.Now().UTC().UnixMilli(), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve nonce: %w", err)
	}
	return ok, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, from string, nonce int64) error {
	if err := g.client.Del(ctx, replayKey(from, nonce)).Err(); err != nil {
		return fmt.Errorf("release nonce: %w", err)
	}
	return nil
}

// MemoryReplayGuard is a single-process guard backed by an expiring LRU.
// When the cache is full the oldest pairs are evicted early; the ledger's
// own per-sender nonce check still rejects those.
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen *expirable.LRU[string, struct{}]
}

// NewMemoryReplayGuard keeps up to size pairs for ttl each.
func NewMemoryReplayGuard(size int, ttl time.Duration) *MemoryReplayGuard {
	return &MemoryReplayGuard{seen: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (g *MemoryReplayGuard) Reserve(_ context.Context, from string, nonce int64) (bool, error) {
	key := replayKey(from, nonce)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen.Contains(key) {
		return false, nil
	}
	g.seen.Add(key, struct{}{})
	return true, nil
}

func (g *MemoryReplayGuard) Release(_ context.Context, from string, nonce int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen.Remove(replayKey(from, nonce))
	return nil
}
