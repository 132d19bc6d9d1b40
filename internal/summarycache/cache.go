// Package summarycache stores expensive per-tenant summaries with a TTL.
// Concurrent writers race benignly: the last write wins.
package summarycache

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is keyed by tenant.
type Cache interface {
	Get(ctx context.Context, tenantID string) (string, bool)
	Set(ctx context.Context, tenantID, value string)
}

type entry struct {
	value   string
	expires time.Time
}

// Memory is a process-local cache.
type Memory struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// NewMemory builds a process-local cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, tenantID string) (string, bool) {
	m.mu.RLock()
	e, ok := m.entries[tenantID]
	m.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !m.now().Before(e.expires) {
		m.mu.Lock()
		if cur, ok := m.entries[tenantID]; ok && cur.expires.Equal(e.expires) {
			delete(m.entries, tenantID)
		}
		m.mu.Unlock()
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, tenantID, value string) {
	m.mu.Lock()
	m.entries[tenantID] = entry{value: value, expires: m.now().Add(m.ttl)}
	m.mu.Unlock()
}

// RedisKV is the subset of the redis client the cache uses.
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis shares summaries across processes. Errors degrade to a miss.
type Redis struct {
	rdb    RedisKV
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

// NewRedis builds a redis-backed cache; keys are prefix + tenant id.
func NewRedis(rdb RedisKV, prefix string, ttl time.Duration, logger *log.Logger) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = "training_summary:"
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (r *Redis) Get(ctx context.Context, tenantID string) (string, bool) {
	v, err := r.rdb.Get(ctx, r.prefix+tenantID).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Printf("warn: get %s: %v", tenantID, err)
		}
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, tenantID, value string) {
	if err := r.rdb.Set(ctx, r.prefix+tenantID, value, r.ttl).Err(); err != nil {
		r.logger.Printf("warn: set %s: %v", tenantID, err)
	}
}
