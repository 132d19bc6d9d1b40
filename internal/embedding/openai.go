package embedding

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIOptions configure an OpenAIEmbedder.
type OpenAIOptions struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	BatchSize         int
	RequestsPerSecond float64
	Timeout           time.Duration
	Retry             llm.RetryPolicy
	Logger            *log.Logger
}

// OpenAIEmbedder calls the OpenAI embeddings endpoint in bounded batches.
type OpenAIEmbedder struct {
	client    *openai.Client
	model     string
	dims      int
	batchSize int
	limiter   *rate.Limiter
	retry     llm.RetryPolicy
	logger    *log.Logger
}

// NewOpenAIEmbedder builds an embedder. RequestsPerSecond <= 0 disables the
// client-side limiter.
func NewOpenAIEmbedder(opts OpenAIOptions) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	if opts.Model == "" {
		opts.Model = string(openai.SmallEmbedding3)
	}
	if opts.Dimensions <= 0 {
		opts.Dimensions = 1536
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = llm.DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &OpenAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dims:      opts.Dimensions,
		batchSize: opts.BatchSize,
		limiter:   limiter,
		retry:     opts.Retry,
		logger:    opts.Logger,
	}
}

// Model returns the embedding model name.
func (e *OpenAIEmbedder) Model() string { return e.model }

// Dimensions returns the expected vector length.
func (e *OpenAIEmbedder) Dimensions() int { return e.dims }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	recordEmbedded(ctx, e.model, len(texts))
	return out, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := llm.Retry(ctx, e.retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		})
		return resp, llm.Classify("openai", err)
	}, func(err error, wait time.Duration) {
		e.logger.Printf("batch_size=%d retrying in %s: %v", len(batch), wait, err)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count %d != inputs %d", len(resp.Data), len(batch))
	}
	data := append([]openai.Embedding(nil), resp.Data...)
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	vecs := make([][]float32, len(data))
	for i, d := range data {
		if len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(d.Embedding), e.dims)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}
