package booklearning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/internal/llmjson"
)

const (
	maxMainConcepts   = 5
	maxCondensedChars = 2000
	maxExcerptChars   = 300

	// UnavailableConcept marks a chunk whose extraction could not be parsed.
	UnavailableConcept = "concept extraction unavailable"
)

// Concept is the structured distillation of one chunk.
type Concept struct {
	MainConcepts   []string
	Relationships  []string
	KeyExamples    []string
	TechnicalTerms map[string]string
	CondensedText  string
	Degraded       bool
}

type conceptPayload struct {
	MainConcepts   json.RawMessage `json:"main_concepts"`
	Relationships  json.RawMessage `json:"relationships"`
	KeyExamples    json.RawMessage `json:"key_examples"`
	TechnicalTerms json.RawMessage `json:"technical_terms"`
	CondensedText  json.RawMessage `json:"condensed_text"`
}

// ParseConcept reads a model response into a Concept. It never fails: an
// unparseable response becomes a degraded concept carrying the raw text.
// Fields of the wrong shape are coerced rather than rejected.
func ParseConcept(resp string) Concept {
	var p conceptPayload
	if err := llmjson.Decode(resp, &p); err != nil {
		return degradedConcept(resp)
	}
	c := Concept{
		MainConcepts:   llmjson.List(p.MainConcepts),
		Relationships:  llmjson.List(p.Relationships),
		KeyExamples:    llmjson.List(p.KeyExamples),
		TechnicalTerms: llmjson.Glossary(p.TechnicalTerms),
		CondensedText:  clip(llmjson.Text(p.CondensedText), maxCondensedChars),
	}
	if len(c.MainConcepts) > maxMainConcepts {
		c.MainConcepts = c.MainConcepts[:maxMainConcepts]
	}
	return c
}

func degradedConcept(resp string) Concept {
	return Concept{
		MainConcepts:   []string{UnavailableConcept},
		Relationships:  []string{},
		KeyExamples:    []string{},
		TechnicalTerms: map[string]string{},
		CondensedText:  clip(strings.TrimSpace(resp), maxCondensedChars),
		Degraded:       true,
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func extractionPrompt(chunk string, index int) string {
	var b strings.Builder
	b.WriteString("You are an expert analysing marketing and business books.\n")
	b.WriteString("Extract the MOST IMPORTANT concepts from this fragment.\n\n")
	b.WriteString("Do NOT write a generic summary. Extract the KEY CONCEPTS a student should remember.\n\n")
	fmt.Fprintf(&b, "Fragment (chunk %d):\n---\n%s\n---\n\n", index, chunk)
	b.WriteString("Answer in JSON only, without explanations:\n")
	b.WriteString(`{
    "main_concepts": ["concept1", "concept2"],
    "relationships": ["concept1 causes concept2"],
    "key_examples": ["concrete example 1"],
    "technical_terms": {"term": "short definition"},
    "condensed_text": "200-300 word summary with the key points of the fragment"
}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- At most 5 main concepts\n")
	b.WriteString("- Examples must be specific, not generic\n")
	b.WriteString("- condensed_text must capture the essence of the fragment\n")
	b.WriteString("- If there are no clear concepts, extract the main ideas")
	return b.String()
}

// summaryConcepts collects the unique main concepts of the first maxChunks
// concepts, at most perChunk from each, capped at maxTotal, in first-seen order.
func summaryConcepts(concepts []Concept, maxChunks, perChunk, maxTotal int) []string {
	if len(concepts) > maxChunks {
		concepts = concepts[:maxChunks]
	}
	seen := make(map[string]bool)
	var out []string
	for _, c := range concepts {
		if c.Degraded {
			continue
		}
		items := c.MainConcepts
		if len(items) > perChunk {
			items = items[:perChunk]
		}
		for _, item := range items {
			key := strings.ToLower(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, item)
			if len(out) >= maxTotal {
				return out
			}
		}
	}
	return out
}

func summaryPrompt(title string, concepts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse these concepts extracted from the book %q:\n\nMAIN CONCEPTS:\n", title)
	for _, c := range concepts {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nWrite an executive summary of the book (at most 500 words) that:\n")
	b.WriteString("1. Identifies the CENTRAL THEME of the book\n")
	b.WriteString("2. Lists the 3-5 most important KEY CONCEPTS\n")
	b.WriteString("3. Describes the RELATIONSHIPS between concepts\n")
	b.WriteString("4. Includes PRACTICAL APPLICATIONS\n\n")
	b.WriteString("Format: clear, structured text ready to use as a quick reference.")
	return b.String()
}

// excerpts returns the leading maxChars runes of the first maxChunks chunks.
func excerpts(chunks []string, maxChunks, maxChars int) []string {
	if len(chunks) > maxChunks {
		chunks = chunks[:maxChunks]
	}
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		out = append(out, clip(c, maxChars))
	}
	return out
}

func excerptSummaryPrompt(title string, excerpts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyse these excerpts from the book %q:\n\n", title)
	for i, e := range excerpts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, e)
	}
	b.WriteString("\nWrite an executive summary of the book (at most 500 words) that:\n")
	b.WriteString("1. Identifies the CENTRAL THEME of the book\n")
	b.WriteString("2. Lists the 3-5 most important KEY CONCEPTS\n")
	b.WriteString("3. Describes the RELATIONSHIPS between concepts\n")
	b.WriteString("4. Includes PRACTICAL APPLICATIONS\n\n")
	b.WriteString("Format: clear, structured text ready to use as a quick reference.")
	return b.String()
}
