package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type fakeSearcher struct {
	mu     sync.Mutex
	hits   []store.SearchHit
	err    error
	params []store.SearchParams
}

func (f *fakeSearcher) SearchKnowledge(_ context.Context, p store.SearchParams) ([]store.SearchHit, error) {
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if p.Limit < len(f.hits) {
		return append([]store.SearchHit(nil), f.hits[:p.Limit]...), nil
	}
	return append([]store.SearchHit(nil), f.hits...), nil
}

func (f *fakeSearcher) SearchConversationDocuments(ctx context.Context, p store.SearchParams) ([]store.SearchHit, error) {
	return f.SearchKnowledge(ctx, p)
}

type stubLLM struct {
	resp  string
	err   error
	calls int
	last  string
}

func (s *stubLLM) Generate(_ context.Context, prompt string, _ llm.GenerateOptions) (string, error) {
	s.calls++
	s.last = prompt
	return s.resp, s.err
}

func (s *stubLLM) GenerateMessages(ctx context.Context, msgs []llm.Message, opts llm.GenerateOptions) (string, error) {
	return s.Generate(ctx, msgs[len(msgs)-1].Content, opts)
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func hit(id, contentType string, sim float64) store.SearchHit {
	return store.SearchHit{
		ID:          id,
		ContentType: contentType,
		Kind:        store.KindRawChunk,
		SourceTitle: "source-" + id,
		Content:     "content of " + id,
		Metadata:    map[string]interface{}{},
		Similarity:  sim,
		Distance:    1 - sim,
	}
}

func ids(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.ID
	}
	return strings.Join(parts, ",")
}

func newTestEngine(st Searcher, client llm.Client) *Engine {
	return NewEngine(st, fakeEmbedder{}, client, config.RetrievalConfig{}, quietLogger())
}

func TestSearchFiltersByContentType(t *testing.T) {
	var hits []store.SearchHit
	for i := 0; i < 10; i++ {
		ct := store.ContentTypeTranscript
		if i%3 == 1 {
			ct = store.ContentTypeUserDocument
		}
		hits = append(hits, hit(fmt.Sprintf("h%d", i), ct, 0.95-float64(i)*0.05))
	}
	// h1, h4, h7 are documents; add one more to reach 4 documents.
	hits[9].ContentType = store.ContentTypeUserDocument
	st := &fakeSearcher{hits: hits}
	e := newTestEngine(st, nil)

	got, err := e.Search(context.Background(), Request{
		Query:    "hooks",
		TenantID: "tenant-1",
		Limit:    10,
		Filters:  Filters{"content_type": store.ContentTypeTranscript},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ids(got) != "h0,h2,h3,h5,h6,h8" {
		t.Fatalf("expected the 6 transcripts in similarity order, got %s", ids(got))
	}
	for _, r := range got {
		if r.RerankScore != nil {
			t.Fatalf("rerank score must be empty without rerank")
		}
	}
}

func TestSearchRerankFailureKeepsSimilarityOrder(t *testing.T) {
	hits := []store.SearchHit{
		hit("a", store.ContentTypeBook, 0.9),
		hit("b", store.ContentTypeTranscript, 0.8),
		hit("c", store.ContentTypeTranscript, 0.7),
		hit("d", store.ContentTypeUserDocument, 0.6),
	}
	for name, client := range map[string]*stubLLM{
		"error":       {err: errors.New("rate limited")},
		"unparseable": {resp: "document one seems best"},
	} {
		t.Run(name, func(t *testing.T) {
			st := &fakeSearcher{hits: hits}
			e := newTestEngine(st, client)
			plain, err := e.Search(context.Background(), Request{Query: "q", TenantID: "t", Limit: 5})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			reranked, err := e.Search(context.Background(), Request{Query: "q", TenantID: "t", Limit: 5, Rerank: true})
			if err != nil {
				t.Fatalf("Search with rerank: %v", err)
			}
			if len(reranked) == 0 || ids(plain) != ids(reranked) {
				t.Fatalf("expected identical order, plain=%s reranked=%s", ids(plain), ids(reranked))
			}
			for _, r := range reranked {
				if r.RerankScore != nil {
					t.Fatalf("rerank score must stay empty when rerank failed")
				}
			}
			if client.calls != 1 {
				t.Fatalf("expected one rerank call, got %d", client.calls)
			}
		})
	}
}

func TestSearchRerankReorders(t *testing.T) {
	st := &fakeSearcher{hits: []store.SearchHit{
		hit("a", store.ContentTypeBook, 0.9),
		hit("b", store.ContentTypeBook, 0.8),
		hit("c", store.ContentTypeBook, 0.7),
		hit("d", store.ContentTypeBook, 0.6),
	}}
	client := &stubLLM{resp: "3, 1, 9, 3"}
	e := newTestEngine(st, client)

	got, err := e.Search(context.Background(), Request{Query: "q", TenantID: "t", Limit: 3, Rerank: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if ids(got) != "c,a,b" {
		t.Fatalf("unexpected order %s", ids(got))
	}
	if *got[0].RerankScore != 1 || *got[1].RerankScore != 0.5 || *got[2].RerankScore != 0 {
		t.Fatalf("unexpected rerank scores %v %v %v", *got[0].RerankScore, *got[1].RerankScore, *got[2].RerankScore)
	}
	if st.params[0].Limit != 9 {
		t.Fatalf("rerank should fetch limit x 3 candidates, fetched %d", st.params[0].Limit)
	}
	if !strings.Contains(client.last, "[4] content of d...") {
		t.Fatalf("prompt should enumerate candidates: %s", client.last)
	}
}

func TestSearchValidation(t *testing.T) {
	e := newTestEngine(&fakeSearcher{}, nil)
	if _, err := e.Search(context.Background(), Request{Query: "  ", TenantID: "t"}); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := e.Search(context.Background(), Request{Query: "q"}); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
	failing := NewEngine(&fakeSearcher{}, fakeEmbedder{err: errors.New("down")}, nil, config.RetrievalConfig{}, quietLogger())
	if _, err := failing.Search(context.Background(), Request{Query: "q", TenantID: "t"}); err == nil {
		t.Fatalf("expected embed error to propagate")
	}
}

func TestSearchPassesScope(t *testing.T) {
	st := &fakeSearcher{hits: []store.SearchHit{hit("a", store.ContentTypeBook, 0.9)}}
	e := newTestEngine(st, nil)
	if _, err := e.Search(context.Background(), Request{Query: "q", TenantID: "t", ConversationID: "c"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	p := st.params[0]
	if p.TenantID != "t" || p.ConversationID != "c" || p.Limit != 5 || len(p.Vector) != 2 {
		t.Fatalf("unexpected search params %+v", p)
	}
}

func TestSearchConversation(t *testing.T) {
	st := &fakeSearcher{hits: []store.SearchHit{hit("a", store.ContentTypeUserDocument, 0.9)}}
	e := newTestEngine(st, nil)
	got, err := e.SearchConversation(context.Background(), "t", "c", "q", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("unexpected result %v err=%v", got, err)
	}
	if _, err := e.SearchConversation(context.Background(), "t", "", "q", 0); err == nil {
		t.Fatalf("expected error without conversation")
	}
}

func TestParseRanking(t *testing.T) {
	got := parseRanking(" 2,[1], x, 0, 7, 2, 3.", 3)
	want := []int{1, 0, 2}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
