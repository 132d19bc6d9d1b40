package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/internal/llm"
)

const rerankSystem = "You are a relevance ranking expert. Return only numbers."

// rerank asks the model for a relevance permutation of candidates. Candidates
// the model leaves out are appended in their original order with score 0.
// Any failure returns the error and leaves candidates untouched.
func (e *Engine) rerank(ctx context.Context, query string, candidates []Result) ([]Result, error) {
	prompt := buildRerankPrompt(query, candidates, e.cfg.RerankPreviewChars)
	resp, err := e.llm.Generate(ctx, prompt, llm.GenerateOptions{
		System:      rerankSystem,
		Model:       e.cfg.RerankModel,
		MaxTokens:   100,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	order := parseRanking(resp, len(candidates))
	if len(order) == 0 {
		return nil, fmt.Errorf("rerank: no usable indices in %q", truncate(resp, 80))
	}
	out := make([]Result, 0, len(candidates))
	seen := make(map[int]bool, len(order))
	for rank, idx := range order {
		r := candidates[idx]
		r.RerankScore = float64Ptr(1 - float64(rank)/float64(len(order)))
		out = append(out, r)
		seen[idx] = true
	}
	for i, r := range candidates {
		if seen[i] {
			continue
		}
		r.RerankScore = float64Ptr(0)
		out = append(out, r)
	}
	return out, nil
}

func buildRerankPrompt(query string, candidates []Result, preview int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Given the user query and candidate documents, rank them by relevance.\n")
	fmt.Fprintf(&b, "Return ONLY a comma-separated list of numbers (1-%d) in order of relevance.\n\n", len(candidates))
	fmt.Fprintf(&b, "Query: %q\n\nDocuments:\n", query)
	for i, c := range candidates {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s...", i+1, truncate(c.Content, preview))
	}
	b.WriteString("\n\nRanking (most relevant first):")
	return b.String()
}

// parseRanking turns "3, 1,2" into zero-based indices, dropping entries that
// are not numbers, out of range, or repeated.
func parseRanking(resp string, n int) []int {
	var out []int
	seen := make(map[int]bool)
	for _, field := range strings.Split(strings.TrimSpace(resp), ",") {
		v, err := strconv.Atoi(strings.Trim(strings.TrimSpace(field), "[]."))
		if err != nil {
			continue
		}
		idx := v - 1
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
