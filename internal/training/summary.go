// Package training summarises the techniques taught by the transcript corpus
// visible to a tenant.
package training

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
	"github.com/mohammad-safakhou/marketbrain/internal/summarycache"
)

const excerptChars = 600

// Sampler returns raw chunks of one content type visible to a tenant.
type Sampler interface {
	SampleKnowledge(ctx context.Context, tenantID, contentType string, limit int) ([]store.KnowledgeChunk, error)
}

// Summarizer builds and caches per-tenant training summaries.
type Summarizer struct {
	sampler    Sampler
	llm        llm.Client
	cache      summarycache.Cache
	sampleSize int
	model      string
	logger     *log.Logger
}

// NewSummarizer wires the summarizer. cache may be nil to disable caching.
func NewSummarizer(sampler Sampler, client llm.Client, cache summarycache.Cache, sampleSize int, model string, logger *log.Logger) *Summarizer {
	if sampleSize <= 0 {
		sampleSize = 20
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TRAINING] ", log.LstdFlags)
	}
	return &Summarizer{sampler: sampler, llm: client, cache: cache, sampleSize: sampleSize, model: model, logger: logger}
}

// Summary returns the tenant's training summary, computing it on a cache
// miss. An empty corpus yields an empty summary, which is not cached.
func (s *Summarizer) Summary(ctx context.Context, tenantID string) (string, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, tenantID); ok {
			return v, nil
		}
	}
	samples, err := s.sampler.SampleKnowledge(ctx, tenantID, store.ContentTypeTranscript, s.sampleSize)
	if err != nil {
		return "", fmt.Errorf("sample transcripts: %w", err)
	}
	if len(samples) == 0 {
		return "", nil
	}
	summary, err := s.llm.Generate(ctx, buildPrompt(samples), llm.GenerateOptions{
		Model:       s.model,
		MaxTokens:   600,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("training summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if s.cache != nil && summary != "" {
		s.cache.Set(ctx, tenantID, summary)
	}
	s.logger.Printf("tenant=%s samples=%d summary_chars=%d", tenantID, len(samples), len(summary))
	return summary, nil
}

func buildPrompt(samples []store.KnowledgeChunk) string {
	var b strings.Builder
	b.WriteString("These are excerpts from marketing training videos:\n\n")
	for i, c := range samples {
		text := []rune(c.ChunkText)
		if len(text) > excerptChars {
			text = text[:excerptChars]
		}
		fmt.Fprintf(&b, "[%d] %s: %s\n\n", i+1, c.SourceTitle, string(text))
	}
	b.WriteString("Summarise the content creation techniques they teach: hook styles, story structures, ")
	b.WriteString("calls to action and recurring principles. Use short bullet points.")
	return b.String()
}
