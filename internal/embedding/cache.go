package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is the subset of the redis client used for caching vectors.
type RedisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedEmbedder serves repeated texts from redis and forwards misses.
// Cache failures are logged and never fail the call.
type CachedEmbedder struct {
	next   Embedder
	rdb    RedisKV
	model  string
	ttl    time.Duration
	logger *log.Logger
}

// NewCachedEmbedder wraps next; model namespaces the cache keys.
func NewCachedEmbedder(next Embedder, rdb RedisKV, model string, ttl time.Duration, logger *log.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	return &CachedEmbedder{next: next, rdb: rdb, model: model, ttl: ttl, logger: logger}
}

// CacheKey is the redis key for text under model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return "emb:" + hex.EncodeToString(sum[:16])
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, v)
	return v, nil
}

func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, errors.New("embedder returned a short batch")
	}
	for j, i := range missIdx {
		out[i] = vecs[j]
		c.store(ctx, texts[i], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	raw, err := c.rdb.Get(ctx, CacheKey(c.model, text)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Printf("cache get failed: %v", err)
		}
		recordCache(ctx, false)
		return nil, false
	}
	var v []float32
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		c.logger.Printf("cache entry corrupt: %v", err)
		recordCache(ctx, false)
		return nil, false
	}
	recordCache(ctx, true)
	return v, true
}

func (c *CachedEmbedder) store(ctx context.Context, text string, v []float32) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, CacheKey(c.model, text), raw, c.ttl).Err(); err != nil {
		c.logger.Printf("cache set failed: %v", err)
	}
}
