package retrieval

import (
	"fmt"
	"math"
	"testing"
)

func res(id, book string, sim float64) Result {
	return Result{ID: id, SourceTitle: book, Similarity: sim}
}

func TestCombineKeepsMinimumSources(t *testing.T) {
	in := []Result{
		res("1", "A", 0.9),
		res("2", "A", 0.85),
		res("3", "A", 0.8),
		res("4", "B", 0.5),
	}
	out := Combine(in, 3, 2)
	if len(out) != 3 {
		t.Fatalf("expected 3 results, got %d", len(out))
	}
	books := map[string]bool{}
	for _, r := range out {
		books[r.SourceTitle] = true
	}
	if !books["A"] || !books["B"] {
		t.Fatalf("expected both books, got %s", ids(out))
	}
	if ids(out) != "1,2,4" {
		t.Fatalf("expected score order 1,2,4, got %s", ids(out))
	}
}

func TestCombineEmpty(t *testing.T) {
	out := Combine(nil, 7, 2)
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", out)
	}
}

func TestCombineBoostsRepeats(t *testing.T) {
	in := []Result{
		res("x", "A", 0.6),
		res("y", "B", 0.8),
		res("x", "A", 0.8),
		res("x", "A", 0.7),
	}
	out := Combine(in, 5, 0)
	if len(out) != 2 {
		t.Fatalf("expected 2 unique results, got %d", len(out))
	}
	if out[0].ID != "x" || out[0].Appearances != 3 {
		t.Fatalf("expected boosted x first, got %+v", out[0])
	}
	want := 0.7 * (1 + 0.3*2)
	if math.Abs(*out[0].CombinedScore-want) > 1e-9 {
		t.Fatalf("expected combined score %v, got %v", want, *out[0].CombinedScore)
	}
	if *out[1].CombinedScore != 0.8 || out[1].Appearances != 1 {
		t.Fatalf("single appearance must keep its similarity, got %+v", out[1])
	}
}

func TestCombineProperties(t *testing.T) {
	var in []Result
	for i := 0; i < 40; i++ {
		in = append(in, res(fmt.Sprintf("id%d", i%13), fmt.Sprintf("book%d", i%4), float64(i%10)/10))
	}
	in = append(in, res("", "anon", 0.99))
	for max := 0; max <= 15; max++ {
		for minBooks := 0; minBooks <= 5; minBooks++ {
			out := Combine(in, max, minBooks)
			if len(out) > max {
				t.Fatalf("max=%d returned %d results", max, len(out))
			}
			seen := map[string]bool{}
			sources := map[string]bool{}
			for _, r := range out {
				if r.ID == "" {
					t.Fatalf("results without id must be dropped")
				}
				if seen[r.ID] {
					t.Fatalf("duplicate id %s", r.ID)
				}
				seen[r.ID] = true
				sources[r.SourceTitle] = true
			}
			wantSources := minBooks
			if wantSources > 4 {
				wantSources = 4
			}
			if max >= minBooks && len(sources) < wantSources {
				t.Fatalf("max=%d min_books=%d: only %d sources", max, minBooks, len(sources))
			}
		}
	}
}

func TestCombineStableTies(t *testing.T) {
	in := []Result{res("b", "B", 0.5), res("a", "A", 0.5), res("c", "C", 0.5)}
	if got := ids(Combine(in, 3, 0)); got != "b,a,c" {
		t.Fatalf("ties must keep input order, got %s", got)
	}
}

func TestCombineUsesBookTitleMetadata(t *testing.T) {
	in := []Result{
		{ID: "1", SourceTitle: "chunk-1", Similarity: 0.9, Metadata: map[string]interface{}{"book_title": "A"}},
		{ID: "2", SourceTitle: "chunk-2", Similarity: 0.8, Metadata: map[string]interface{}{"book_title": "A"}},
		{ID: "3", SourceTitle: "chunk-3", Similarity: 0.1, Metadata: map[string]interface{}{"book_title": "B"}},
	}
	if got := ids(Combine(in, 2, 2)); got != "1,3" {
		t.Fatalf("expected diversity by book_title, got %s", got)
	}
}
