package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/embedding"
	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var searchTracer trace.Tracer = otel.Tracer("marketbrain/internal/retrieval")

var (
	// ErrEmptyQuery is returned for blank query text.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrMissingTenant is returned when a search is not scoped to a tenant.
	ErrMissingTenant = errors.New("tenant is required")
)

// Searcher is the vector store surface the engine ranks against.
type Searcher interface {
	SearchKnowledge(ctx context.Context, p store.SearchParams) ([]store.SearchHit, error)
	SearchConversationDocuments(ctx context.Context, p store.SearchParams) ([]store.SearchHit, error)
}

// Request describes one search.
type Request struct {
	Query          string  `json:"query"`
	TenantID       string  `json:"-"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Limit          int     `json:"limit,omitempty"`
	Rerank         bool    `json:"rerank,omitempty"`
	Filters        Filters `json:"filters,omitempty"`
}

// Engine runs vector search, metadata filtering and optional reranking, in
// that order.
type Engine struct {
	store    Searcher
	embedder embedding.Embedder
	llm      llm.Client
	cfg      config.RetrievalConfig
	logger   *log.Logger
}

// NewEngine builds an engine. client may be nil, which disables reranking.
func NewEngine(st Searcher, embedder embedding.Embedder, client llm.Client, cfg config.RetrievalConfig, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(log.Writer(), "[RAG] ", log.LstdFlags)
	}
	return &Engine{store: st, embedder: embedder, llm: client, cfg: cfg.Normalize(), logger: logger}
}

// Search returns up to req.Limit results, most relevant first. A failed
// rerank degrades to the similarity order and is never returned as an error.
func (e *Engine) Search(ctx context.Context, req Request) ([]Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.TenantID == "" {
		return nil, ErrMissingTenant
	}
	limit := req.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	fetch := limit
	if req.Rerank {
		fetch = limit * e.cfg.CandidateFactor
	}
	ctx, span := searchTracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.Int("search.limit", limit),
			attribute.Bool("search.rerank", req.Rerank),
		))
	defer span.End()
	e.logger.Printf("query_len=%d tenant=%s conversation=%s limit=%d rerank=%t filters=%v",
		len(req.Query), req.TenantID, req.ConversationID, limit, req.Rerank, map[string]interface{}(req.Filters))

	start := time.Now()
	vec, err := e.embedder.Embed(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed query")
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.SearchKnowledge(ctx, store.SearchParams{
		TenantID:       req.TenantID,
		ConversationID: req.ConversationID,
		Vector:         vec,
		Limit:          fetch,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search")
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, fromHit(h))
	}
	results = req.Filters.Apply(results)

	reranked := false
	if req.Rerank && e.llm != nil && len(results) > 0 {
		ordered, rerr := e.rerank(ctx, req.Query, results)
		if rerr != nil {
			e.logger.Printf("warn: rerank failed, keeping similarity order: %v", rerr)
			recordRerankFallback(ctx)
		} else {
			results = ordered
			reranked = true
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}
	span.SetAttributes(attribute.Int("search.results", len(results)), attribute.Bool("search.reranked", reranked))
	recordSearch(ctx, reranked, len(results), time.Since(start))
	e.logger.Printf("result_count=%d reranked=%t top=%s", len(results), reranked, describeTop(results, 3))
	return results, nil
}

// SearchConversation ranks only the documents uploaded to one conversation.
func (e *Engine) SearchConversation(ctx context.Context, tenantID, conversationID, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrEmptyQuery
	}
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	if conversationID == "" {
		return nil, fmt.Errorf("conversation is required")
	}
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := e.store.SearchConversationDocuments(ctx, store.SearchParams{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Vector:         vec,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation search: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		out = append(out, fromHit(h))
	}
	return out, nil
}

func describeTop(results []Result, n int) string {
	if len(results) < n {
		n = len(results)
	}
	parts := make([]string, 0, n)
	for _, r := range results[:n] {
		parts = append(parts, fmt.Sprintf("%s:%.3f", r.ContentType, r.Similarity))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
