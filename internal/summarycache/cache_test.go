package summarycache

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMemoryExpires(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if _, ok := m.Get(ctx, "t1"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	m.Set(ctx, "t1", "summary")
	if v, ok := m.Get(ctx, "t1"); !ok || v != "summary" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}
	if _, ok := m.Get(ctx, "t2"); ok {
		t.Fatalf("tenants must not share entries")
	}
	now = now.Add(time.Minute)
	if _, ok := m.Get(ctx, "t1"); ok {
		t.Fatalf("entry should expire after the TTL")
	}
}

type fakeRedis struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = value.(string)
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}}
	c := NewRedis(rdb, "", 2*time.Hour, log.New(io.Discard, "", 0))
	ctx := context.Background()

	if _, ok := c.Get(ctx, "t1"); ok {
		t.Fatalf("expected miss")
	}
	c.Set(ctx, "t1", "cached")
	if rdb.data["training_summary:t1"] != "cached" || rdb.ttl != 2*time.Hour {
		t.Fatalf("unexpected redis state %v ttl=%s", rdb.data, rdb.ttl)
	}
	if v, ok := c.Get(ctx, "t1"); !ok || v != "cached" {
		t.Fatalf("expected hit, got %q", v)
	}
	rdb.getErr = errors.New("connection refused")
	if _, ok := c.Get(ctx, "t1"); ok {
		t.Fatalf("redis errors must read as a miss")
	}
}
