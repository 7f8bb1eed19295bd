package geocode

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/woozymasta/mapnote/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const cacheKeyPrefix = "revgeo:"

// Cache stores resolved addresses by key.
type Cache interface {
	Get(ctx context.Context, key string) (Address, bool)
	Set(ctx context.Context, key string, addr Address)
}

// Cached wraps a geocoder with a cache keyed by rounded coordinates.
// Only successful lookups are stored.
type Cached struct {
	Geocoder  Geocoder
	Cache     Cache
	Precision int
}

// Name implements Geocoder.
func (c *Cached) Name() string { return c.Geocoder.Name() }

// Reverse implements Geocoder.
func (c *Cached) Reverse(ctx context.Context, lat, lng float64) (Address, error) {
	key := CacheKey(lat, lng, c.Precision)
	if addr, ok := c.Cache.Get(ctx, key); ok {
		metrics.GeocodeCacheHitsTotal.Inc()
		return addr, nil
	}
	metrics.GeocodeCacheMissesTotal.Inc()

	addr, err := c.Geocoder.Reverse(ctx, lat, lng)
	if err != nil {
		return Address{}, err
	}
	if addr.District != "" {
		c.Cache.Set(ctx, key, addr)
	}

	return addr, nil
}

// CacheKey rounds a coordinate to precision decimals.
func CacheKey(lat, lng float64, precision int) string {
	return cacheKeyPrefix + strconv.FormatFloat(lat, 'f', precision, 64) + ":" + strconv.FormatFloat(lng, 'f', precision, 64)
}

// RedisCache keeps addresses in Redis with a TTL.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis backed cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (Address, bool) {
	s, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("Geocode cache read failed")
		}
		return Address{}, false
	}

	var addr Address
	if err := json.Unmarshal([]byte(s), &addr); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Geocode cache entry is corrupted")
		return Address{}, false
	}
	return addr, true
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, addr Address) {
	b, err := json.Marshal(addr)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Geocode cache write failed")
	}
}

// LRU is an in-process cache with a capacity and entry TTL.
type LRU struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	lst   *list.List
	items map[string]*list.Element
}

type lruEntry struct {
	key  string
	addr Address
	exp  time.Time
}

// NewLRU creates an LRU holding at most capacity entries.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{cap: capacity, ttl: ttl, lst: list.New(), items: make(map[string]*list.Element)}
}

// Len returns the number of stored entries, expired ones included.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lst.Len()
}

// Get implements Cache.
func (c *LRU) Get(_ context.Context, key string) (Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return Address{}, false
	}
	it := e.Value.(lruEntry)
	if time.Now().After(it.exp) {
		c.lst.Remove(e)
		delete(c.items, key)
		return Address{}, false
	}

	c.lst.MoveToFront(e)
	return it.addr, true
}

// Set implements Cache.
func (c *LRU) Set(_ context.Context, key string, addr Address) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it := lruEntry{key: key, addr: addr, exp: time.Now().Add(c.ttl)}
	if e, ok := c.items[key]; ok {
		e.Value = it
		c.lst.MoveToFront(e)
		return
	}

	c.items[key] = c.lst.PushFront(it)
	for c.lst.Len() > c.cap {
		back := c.lst.Back()
		delete(c.items, back.Value.(lruEntry).key)
		c.lst.Remove(back)
	}
}
