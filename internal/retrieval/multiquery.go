package retrieval

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/internal/decompose"
	"golang.org/x/sync/errgroup"
)

// QueryDecomposer expands one query into several.
type QueryDecomposer interface {
	Decompose(ctx context.Context, query string, persona *decompose.Persona, n int) []string
}

// MultiQueryRequest describes a decomposed search.
type MultiQueryRequest struct {
	Query          string             `json:"query"`
	TenantID       string             `json:"-"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Persona        *decompose.Persona `json:"persona,omitempty"`
	NumQueries     int                `json:"num_queries,omitempty"`
	PerQueryLimit  int                `json:"per_query_limit,omitempty"`
	MaxResults     int                `json:"max_results,omitempty"`
	MinBooks       *int               `json:"min_books,omitempty"`
	Rerank         bool               `json:"rerank,omitempty"`
	Filters        Filters            `json:"filters,omitempty"`
}

// MultiQueryResult carries the merged results and the sub-queries behind them.
type MultiQueryResult struct {
	Queries []string `json:"queries"`
	Results []Result `json:"results"`
}

// MultiQuery decomposes a query, searches every sub-query concurrently and
// merges the results with Combine.
type MultiQuery struct {
	engine     *Engine
	decomposer QueryDecomposer
	logger     *log.Logger
}

// NewMultiQuery wires the decomposed search path.
func NewMultiQuery(engine *Engine, decomposer QueryDecomposer, logger *log.Logger) *MultiQuery {
	if logger == nil {
		logger = log.New(log.Writer(), "[COMBINER] ", log.LstdFlags)
	}
	return &MultiQuery{engine: engine, decomposer: decomposer, logger: logger}
}

// Search runs the decomposed search. Failing sub-queries are logged and
// skipped; the call fails only when every sub-query failed.
func (m *MultiQuery) Search(ctx context.Context, req MultiQueryRequest) (MultiQueryResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return MultiQueryResult{}, ErrEmptyQuery
	}
	cfg := m.engine.cfg
	perQuery := req.PerQueryLimit
	if perQuery <= 0 {
		perQuery = cfg.PerQueryLimit
	}
	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = cfg.MaxResults
	}
	minBooks := cfg.MinBooks
	if req.MinBooks != nil && *req.MinBooks >= 0 {
		minBooks = *req.MinBooks
	}
	numQueries := req.NumQueries
	if numQueries == 0 {
		numQueries = cfg.NumQueries
	}

	queries := []string{req.Query}
	if m.decomposer != nil {
		queries = m.decomposer.Decompose(ctx, req.Query, req.Persona, numQueries)
	}

	perQueryResults := make([][]Result, len(queries))
	errs := make([]error, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxParallel)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			res, err := m.engine.Search(gctx, Request{
				Query:          q,
				TenantID:       req.TenantID,
				ConversationID: req.ConversationID,
				Limit:          perQuery,
				Rerank:         req.Rerank,
				Filters:        req.Filters,
			})
			if err != nil {
				errs[i] = fmt.Errorf("sub-query %q: %w", q, err)
				return nil
			}
			perQueryResults[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var all []Result
	var failed []error
	for i := range queries {
		if errs[i] != nil {
			m.logger.Printf("warn: %v", errs[i])
			failed = append(failed, errs[i])
			continue
		}
		all = append(all, perQueryResults[i]...)
	}
	if len(failed) == len(queries) {
		return MultiQueryResult{Queries: queries}, failed[0]
	}

	combined := Combine(all, maxResults, minBooks)
	m.logger.Printf("queries=%d input=%d output=%d sources=%v", len(queries), len(all), len(combined), distinctSources(combined))
	return MultiQueryResult{Queries: queries, Results: combined}, nil
}

func distinctSources(results []Result) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range results {
		s := r.source()
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
