package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const dims = 1536

func unit(i int) []float32 {
	v := make([]float32, dims)
	v[i] = 1
	return v
}

// startStore runs a pgvector container, migrates it and returns a store.
func startStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		testcontainers.WithImage("pgvector/pgvector:pg16"),
		tcPostgres.WithDatabase("marketbrain"),
		tcPostgres.WithUsername("marketbrain"),
		tcPostgres.WithPassword("marketbrain"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://marketbrain:marketbrain@%s:%s/marketbrain?sslmode=disable", host, port.Port())

	m, err := migrate.New("file://../../migrations", dsn)
	if err != nil {
		t.Fatalf("migrate init: %v", err)
	}
	if err := m.Up(); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	m.Close()

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPgvectorRoundTrip(t *testing.T) {
	st := startStore(t)
	ctx := context.Background()

	written, err := st.InsertKnowledgeChunks(ctx, []store.KnowledgeChunk{
		{ContentType: store.ContentTypeTranscript, Kind: store.KindRawChunk, SourceTitle: "hooks.txt", ChunkText: "open with a question", ChunkIndex: 0, Embedding: unit(0)},
		{ContentType: store.ContentTypeTranscript, Kind: store.KindRawChunk, SourceTitle: "hooks.txt", ChunkText: "tell a story", ChunkIndex: 1, Embedding: unit(1)},
		{TenantID: "other", ContentType: store.ContentTypeTranscript, Kind: store.KindRawChunk, SourceTitle: "private.txt", ChunkText: "not visible", ChunkIndex: 0, Embedding: unit(0)},
	})
	if err != nil {
		t.Fatalf("insert chunks: %v", err)
	}
	if written != 3 {
		t.Fatalf("expected 3 rows, got %d", written)
	}

	hits, err := st.SearchKnowledge(ctx, store.SearchParams{TenantID: "t1", Vector: unit(0), Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected shared chunks only, got %d", len(hits))
	}
	if hits[0].Content != "open with a question" || hits[0].Similarity < 0.99 {
		t.Fatalf("unexpected top hit %+v", hits[0])
	}

	book, err := st.CreateLearnedBook(ctx, store.LearnedBook{TenantID: "t1", Title: "Story Arcs", FileType: ".txt"})
	if err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := st.StartBook(ctx, book.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.SetBookTotalChunks(ctx, book.ID, 1); err != nil {
		t.Fatalf("total: %v", err)
	}
	if err := st.InsertBookConcepts(ctx, []store.BookConcept{{
		LearnedBookID: book.ID,
		ChunkIndex:    0,
		MainConcepts:  []string{"three act structure"},
		CondensedText: "setup, confrontation, resolution",
		Embedding:     unit(2),
	}}); err != nil {
		t.Fatalf("insert concepts: %v", err)
	}
	if err := st.AdvanceBookProgress(ctx, book.ID, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := st.CompleteBook(ctx, book.ID, "stories move in acts"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := st.FailBook(ctx, book.ID, "late"); err != store.ErrInvalidTransition {
		t.Fatalf("expected terminal state to hold, got %v", err)
	}

	hits, err = st.SearchKnowledge(ctx, store.SearchParams{TenantID: "t1", Vector: unit(2), Limit: 1})
	if err != nil {
		t.Fatalf("search concepts: %v", err)
	}
	if len(hits) != 1 || hits[0].Kind != store.KindExtractedConcept || hits[0].SourceTitle != "Story Arcs" {
		t.Fatalf("expected book concept hit, got %+v", hits)
	}

	got, err := st.GetLearnedBook(ctx, "t1", book.ID)
	if err != nil {
		t.Fatalf("get book: %v", err)
	}
	if got.Status != store.BookStatusCompleted || got.ProcessedChunks != 1 || got.CompletedAt == nil {
		t.Fatalf("unexpected book %+v", got)
	}

	if err := st.DeleteLearnedBook(ctx, "t1", book.ID); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	concepts, err := st.ListBookConcepts(ctx, book.ID)
	if err != nil {
		t.Fatalf("list concepts: %v", err)
	}
	if len(concepts) != 0 {
		t.Fatalf("concepts should cascade, got %d", len(concepts))
	}
}

func summaryChunk(book store.LearnedBook, text string, vec []float32) store.KnowledgeChunk {
	return store.KnowledgeChunk{
		TenantID:      book.TenantID,
		LearnedBookID: book.ID,
		ContentType:   store.ContentTypeBook,
		Kind:          store.KindThematicSummary,
		SourceTitle:   book.Title,
		ChunkText:     text,
		Embedding:     vec,
	}
}

func TestSameTitleBooksKeepOwnSummaries(t *testing.T) {
	st := startStore(t)
	ctx := context.Background()

	var books []store.LearnedBook
	for i := 0; i < 2; i++ {
		book, err := st.CreateLearnedBook(ctx, store.LearnedBook{TenantID: "t1", Title: "Influence", FileType: ".pdf"})
		if err != nil {
			t.Fatalf("create book %d: %v", i, err)
		}
		written, err := st.InsertKnowledgeChunks(ctx, []store.KnowledgeChunk{summaryChunk(book, fmt.Sprintf("edition %d", i+1), unit(3+i))})
		if err != nil {
			t.Fatalf("insert summary %d: %v", i, err)
		}
		if written != 1 {
			t.Fatalf("summary of book %d should be written, got %d rows", i, written)
		}
		books = append(books, book)
	}

	written, err := st.InsertKnowledgeChunks(ctx, []store.KnowledgeChunk{summaryChunk(books[1], "edition 2 again", unit(4))})
	if err != nil {
		t.Fatalf("re-insert summary: %v", err)
	}
	if written != 0 {
		t.Fatalf("repeat summary for the same book should be skipped, got %d", written)
	}

	if err := st.DeleteLearnedBook(ctx, "t1", books[0].ID); err != nil {
		t.Fatalf("delete first book: %v", err)
	}
	hits, err := st.SearchKnowledge(ctx, store.SearchParams{TenantID: "t1", Vector: unit(4), Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	found := false
	for _, h := range hits {
		if h.Kind == store.KindThematicSummary {
			if h.Content == "edition 1" {
				t.Fatalf("deleted book's summary should cascade away")
			}
			found = found || h.Content == "edition 2"
		}
	}
	if !found {
		t.Fatalf("second book's summary should survive, got %+v", hits)
	}
}
