// Package decompose expands a user query into several search queries, each
// approaching the question from a different angle.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/llmjson"
)

const (
	MinQueries     = 3
	MaxQueries     = 5
	DefaultQueries = 4
)

// Persona carries the buyer-persona fields that sharpen sub-queries.
type Persona struct {
	Industry       string   `json:"industry,omitempty"`
	MainProblems   []string `json:"main_problems,omitempty"`
	TargetAudience string   `json:"target_audience,omitempty"`
}

// Decomposer turns one query into 3 to 5 sub-queries through a language model.
type Decomposer struct {
	llm    llm.Client
	model  string
	logger *log.Logger
}

// New builds a decomposer. model may be empty to use the client's default.
func New(client llm.Client, model string, logger *log.Logger) *Decomposer {
	if logger == nil {
		logger = log.New(log.Writer(), "[DECOMPOSE] ", log.LstdFlags)
	}
	return &Decomposer{llm: client, model: model, logger: logger}
}

type response struct {
	Reasoning json.RawMessage `json:"reasoning"`
	Queries   json.RawMessage `json:"queries"`
}

// Decompose returns up to n sub-queries, n clamped to [3,5]. Whenever the
// model fails or its answer yields fewer than three usable queries it
// returns []string{query}.
func (d *Decomposer) Decompose(ctx context.Context, query string, persona *Persona, n int) []string {
	n = Clamp(n)
	fallback := []string{query}
	if d == nil || d.llm == nil {
		return fallback
	}
	resp, err := d.llm.Generate(ctx, buildPrompt(query, persona, n), llm.GenerateOptions{
		Model:       d.model,
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		d.logger.Printf("warn: decompose failed for %q, using original query: %v", preview(query), err)
		return fallback
	}
	var parsed response
	if err := llmjson.Decode(resp, &parsed); err != nil {
		d.logger.Printf("warn: unparseable decomposition for %q: %v", preview(query), err)
		return fallback
	}
	queries := llmjson.List(parsed.Queries)
	if len(queries) > n {
		queries = queries[:n]
	}
	if len(queries) < MinQueries {
		d.logger.Printf("warn: decomposition for %q produced %d usable queries", preview(query), len(queries))
		return fallback
	}
	if reasoning := llmjson.Text(parsed.Reasoning); reasoning != "" {
		d.logger.Printf("reasoning=%q", preview(reasoning))
	}
	d.logger.Printf("original=%q generated=%d queries=%q", preview(query), len(queries), queries)
	return queries
}

// Clamp bounds n to [MinQueries, MaxQueries]; zero selects DefaultQueries.
func Clamp(n int) int {
	if n == 0 {
		return DefaultQueries
	}
	if n < MinQueries {
		return MinQueries
	}
	if n > MaxQueries {
		return MaxQueries
	}
	return n
}

func buildPrompt(query string, persona *Persona, n int) string {
	var b strings.Builder
	b.WriteString("You are a marketing expert searching a knowledge base of books and video transcripts.\n\n")
	fmt.Fprintf(&b, "The user asked: %q\n\n", query)
	b.WriteString("Additional context:\n")
	b.WriteString(personaContext(persona))
	b.WriteString("\n\nQuestion the request before searching:\n")
	b.WriteString("1. What is the user REALLY asking for?\n")
	b.WriteString("2. Which related concepts could help?\n")
	b.WriteString("3. Which techniques from other domains apply?\n")
	b.WriteString("4. Which aspects might the user be ignoring?\n\n")
	fmt.Fprintf(&b, "Generate exactly %d DIVERSE search queries.\n\n", n)
	b.WriteString("Rules:\n")
	b.WriteString("- Short queries (3-7 words each)\n")
	b.WriteString("- Each query targets a DIFFERENT angle\n")
	b.WriteString("- Do not repeat the original query verbatim\n")
	b.WriteString("- Do not put quotes inside the queries\n\n")
	b.WriteString("Answer ONLY with valid JSON:\n")
	b.WriteString(`{"reasoning": "your reasoning in 1-2 sentences", "queries": ["query1", "query2", "query3"]}`)
	return b.String()
}

func personaContext(p *Persona) string {
	if p == nil {
		return "No additional context available."
	}
	var parts []string
	if p.Industry != "" {
		parts = append(parts, "Industry: "+p.Industry)
	}
	if len(p.MainProblems) > 0 {
		problems := p.MainProblems
		if len(problems) > 3 {
			problems = problems[:3]
		}
		parts = append(parts, "Problems: "+strings.Join(problems, ", "))
	}
	if p.TargetAudience != "" {
		parts = append(parts, "Audience: "+p.TargetAudience)
	}
	if len(parts) == 0 {
		return "No additional context available."
	}
	return strings.Join(parts, "\n")
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 50 {
		return string(r[:50])
	}
	return s
}
