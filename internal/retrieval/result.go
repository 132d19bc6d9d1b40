// Package retrieval ranks knowledge chunks for a query: vector search, then
// metadata filtering, then an optional language-model rerank.
package retrieval

import "github.com/mohammad-safakhou/marketbrain/internal/store"

// Result is one retrieved chunk or book concept.
type Result struct {
	ID            string                 `json:"id"`
	Content       string                 `json:"content"`
	SourceTitle   string                 `json:"source_title"`
	ContentType   string                 `json:"content_type"`
	Kind          string                 `json:"knowledge_kind"`
	ChunkIndex    int                    `json:"chunk_index"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Similarity    float64                `json:"similarity"`
	RerankScore   *float64               `json:"rerank_score,omitempty"`
	CombinedScore *float64               `json:"combined_score,omitempty"`
	Appearances   int                    `json:"appearances,omitempty"`
}

func fromHit(h store.SearchHit) Result {
	return Result{
		ID:          h.ID,
		Content:     h.Content,
		SourceTitle: h.SourceTitle,
		ContentType: h.ContentType,
		Kind:        h.Kind,
		ChunkIndex:  h.ChunkIndex,
		Metadata:    h.Metadata,
		Similarity:  h.Similarity,
	}
}

// source names the book or title a result came from, for diversity balancing.
func (r Result) source() string {
	if r.Metadata != nil {
		if v, ok := r.Metadata["book_title"].(string); ok && v != "" {
			return v
		}
	}
	if r.SourceTitle != "" {
		return r.SourceTitle
	}
	return "unknown"
}

func float64Ptr(v float64) *float64 { return &v }
