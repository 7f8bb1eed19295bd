package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenKey is the fixed name the session token is stored under.
const TokenKey = "token"

// TokenStore keeps one session token per scope (workspace).
type TokenStore interface {
	Get(ctx context.Context, scope string) (string, bool, error)
	Set(ctx context.Context, scope, token string) error
	Delete(ctx context.Context, scope string) error
}

// MemoryTokens is a process local TokenStore.
type MemoryTokens struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemoryTokens creates an empty store.
func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[string]string)}
}

func (m *MemoryTokens) key(scope string) string { return scope + "/" + TokenKey }

// Get implements TokenStore.
func (m *MemoryTokens) Get(_ context.Context, scope string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[m.key(scope)]
	return t, ok, nil
}

// Set implements TokenStore.
func (m *MemoryTokens) Set(_ context.Context, scope, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[m.key(scope)] = token
	return nil
}

// Delete implements TokenStore.
func (m *MemoryTokens) Delete(_ context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, m.key(scope))
	return nil
}

// redisBackend is the part of *redis.Client used by RedisTokens.
type redisBackend interface {
	GetEx(ctx context.Context, key string, expiration time.Duration) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisTokens stores tokens in Redis so they survive restarts. The TTL is a
// sliding idle timeout: every read extends it.
type RedisTokens struct {
	rdb redisBackend
	ttl time.Duration
}

// NewRedisTokens creates a Redis backed store; ttl 0 keeps tokens until deleted.
func NewRedisTokens(rdb *redis.Client, ttl time.Duration) *RedisTokens {
	return &RedisTokens{rdb: rdb, ttl: ttl}
}

func (r *RedisTokens) key(scope string) string { return "mapnote:session:" + scope + ":" + TokenKey }

// Get implements TokenStore.
func (r *RedisTokens) Get(ctx context.Context, scope string) (string, bool, error) {
	t, err := r.rdb.GetEx(ctx, r.key(scope), r.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return t, true, nil
}

// Set implements TokenStore.
func (r *RedisTokens) Set(ctx context.Context, scope, token string) error {
	return r.rdb.Set(ctx, r.key(scope), token, r.ttl).Err()
}

// Delete implements TokenStore.
func (r *RedisTokens) Delete(ctx context.Context, scope string) error {
	return r.rdb.Del(ctx, r.key(scope)).Err()
}
