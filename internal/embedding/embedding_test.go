package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/redis/go-redis/v9"
)

type embeddingsServer struct {
	requests atomic.Int32
	dims     int
}

func (s *embeddingsServer) handler(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	var req struct {
		Input []string `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	type item struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}
	data := make([]item, 0, len(req.Input))
	// reply in reverse order; the client must sort by index
	for i := len(req.Input) - 1; i >= 0; i-- {
		vec := make([]float32, s.dims)
		vec[0] = float32(len(req.Input[i]))
		data = append(data, item{Object: "embedding", Index: i, Embedding: vec})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"object": "list", "data": data, "model": "text-embedding-3-small"})
}

func newTestEmbedder(t *testing.T, srv *embeddingsServer, batch int) *OpenAIEmbedder {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(ts.Close)
	return NewOpenAIEmbedder(OpenAIOptions{
		APIKey:     "k",
		BaseURL:    ts.URL,
		Dimensions: 3,
		BatchSize:  batch,
		Retry:      llm.RetryPolicy{Attempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
}

func TestEmbedBatchEmpty(t *testing.T) {
	srv := &embeddingsServer{dims: 3}
	e := newTestEmbedder(t, srv, 2)
	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 0 || srv.requests.Load() != 0 {
		t.Fatalf("expected no vectors and no requests, got %d/%d", len(vecs), srv.requests.Load())
	}
}

func TestEmbedBatchSplitsAndOrders(t *testing.T) {
	srv := &embeddingsServer{dims: 3}
	e := newTestEmbedder(t, srv, 2)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("expected %d vectors, got %d", len(texts), len(vecs))
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Fatalf("vector %d out of order: %v", i, v)
		}
	}
	if got := srv.requests.Load(); got != 3 {
		t.Fatalf("expected 3 batched requests, got %d", got)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := &embeddingsServer{dims: 4}
	e := newTestEmbedder(t, srv, 10)
	if _, err := e.Embed(context.Background(), "hello"); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := e.Embed(context.Background(), "  "); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

type fakeRedis struct {
	data    map[string]string
	sets    int
	failGet bool
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.failGet {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	if v, ok := f.data[key]; ok {
		return redis.NewStringResult(v, nil)
	}
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.sets++
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

type countingEmbedder struct {
	texts []string
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.texts = append(c.texts, texts...)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func TestCachedEmbedder(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}}
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, rdb, "m", time.Hour, nil)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "hooks"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	v, err := c.Embed(ctx, "hooks")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(inner.texts) != 1 || v[0] != 5 {
		t.Fatalf("second call should hit the cache: calls=%v v=%v", inner.texts, v)
	}

	vecs, err := c.EmbedBatch(ctx, []string{"hooks", "story", "cta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 || vecs[0][0] != 5 || vecs[1][0] != 5 || vecs[2][0] != 3 {
		t.Fatalf("unexpected batch vectors %v", vecs)
	}
	if len(inner.texts) != 3 || inner.texts[1] != "story" || inner.texts[2] != "cta" {
		t.Fatalf("only misses should be forwarded, got %v", inner.texts)
	}
	if _, ok := rdb.data[CacheKey("m", "cta")]; !ok {
		t.Fatalf("miss was not stored")
	}
}

func TestCachedEmbedderIgnoresRedisFailure(t *testing.T) {
	rdb := &fakeRedis{data: map[string]string{}, failGet: true}
	inner := &countingEmbedder{}
	c := NewCachedEmbedder(inner, rdb, "m", time.Hour, nil)
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("redis failure must not fail the call: %v", err)
	}
	if len(inner.texts) != 1 {
		t.Fatalf("expected passthrough to inner embedder")
	}
}

func TestCacheKeyScopesModel(t *testing.T) {
	if CacheKey("a", "text") == CacheKey("b", "text") {
		t.Fatalf("cache keys must differ across models")
	}
}
