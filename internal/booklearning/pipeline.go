// Package booklearning turns long-form documents into searchable concepts:
// parse, chunk, extract concepts per chunk, summarise, embed and persist,
// keeping progress on the book record as it goes.
package booklearning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/chunker"
	"github.com/mohammad-safakhou/marketbrain/internal/embedding"
	"github.com/mohammad-safakhou/marketbrain/internal/llm"
	"github.com/mohammad-safakhou/marketbrain/internal/parser"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var bookTracer trace.Tracer = otel.Tracer("marketbrain/internal/booklearning")

// ErrEmptyText is returned when the source yields no text.
var ErrEmptyText = parser.ErrEmptyDocument

// ErrSummaryNotStored is returned when the summary chunk insert wrote no row.
var ErrSummaryNotStored = errors.New("booklearning: summary chunk not stored")

// Store is the persistence the pipeline needs.
type Store interface {
	CreateLearnedBook(ctx context.Context, b store.LearnedBook) (store.LearnedBook, error)
	GetLearnedBook(ctx context.Context, tenantID, id string) (store.LearnedBook, error)
	StartBook(ctx context.Context, id string) error
	SetBookTotalChunks(ctx context.Context, id string, total int) error
	AdvanceBookProgress(ctx context.Context, id string, processed int) error
	CompleteBook(ctx context.Context, id, summary string) error
	FailBook(ctx context.Context, id, reason string) error
	FailStaleBooks(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	InsertBookConcepts(ctx context.Context, concepts []store.BookConcept) error
	InsertKnowledgeChunks(ctx context.Context, chunks []store.KnowledgeChunk) (int, error)
}

// Parser extracts plain text from a file.
type Parser interface {
	Parse(ctx context.Context, path, fileType string) (string, error)
}

// BookInput identifies the file to learn. When BookID names an existing
// pending record it is reused; otherwise a new record is created.
type BookInput struct {
	BookID   string
	TenantID string
	Title    string
	Author   string
	FilePath string
	FileType string
}

// Pipeline processes one book at a time per call; calls are independent.
type Pipeline struct {
	store    Store
	parser   Parser
	llm      llm.Client
	embedder embedding.Embedder
	cfg      config.BooksConfig
	logger   *log.Logger
}

// NewPipeline wires the pipeline.
func NewPipeline(st Store, parser Parser, client llm.Client, embedder embedding.Embedder, cfg config.BooksConfig, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[BOOK] ", log.LstdFlags)
	}
	return &Pipeline{store: st, parser: parser, llm: client, embedder: embedder, cfg: cfg.Normalize(), logger: logger}
}

// ProcessBook runs the book to a terminal state. On failure the book is
// marked failed and the error is returned; rows persisted before the failure
// are kept.
func (p *Pipeline) ProcessBook(ctx context.Context, in BookInput) (store.LearnedBook, error) {
	if in.TenantID == "" {
		return store.LearnedBook{}, fmt.Errorf("tenant is required")
	}
	if in.FileType == "" {
		in.FileType = strings.ToLower(filepath.Ext(in.FilePath))
	}
	ctx, span := bookTracer.Start(ctx, "booklearning.process_book",
		trace.WithAttributes(
			attribute.String("tenant.id", in.TenantID),
			attribute.String("book.file_type", in.FileType),
		))
	defer span.End()
	book, err := p.begin(ctx, in)
	if err != nil {
		span.RecordError(err)
		return store.LearnedBook{}, err
	}
	span.SetAttributes(attribute.String("book.id", book.ID))
	p.logger.Printf("start book_id=%s title=%q", book.ID, book.Title)
	start := time.Now()

	summary, conceptCount, err := p.run(ctx, &book)
	if err == nil {
		if cerr := p.store.CompleteBook(ctx, book.ID, summary); cerr != nil {
			err = fmt.Errorf("complete book: %w", cerr)
		}
	}
	if err != nil {
		p.logger.Printf("failed book_id=%s error=%v", book.ID, err)
		if ferr := p.store.FailBook(context.WithoutCancel(ctx), book.ID, err.Error()); ferr != nil {
			p.logger.Printf("warn: mark book_id=%s failed: %v", book.ID, ferr)
		}
		book.Status = store.BookStatusFailed
		book.Error = err.Error()
		recordBook(ctx, store.BookStatusFailed, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "book failed")
		return book, fmt.Errorf("process book %s: %w", book.ID, err)
	}

	now := time.Now()
	book.Status = store.BookStatusCompleted
	book.GlobalSummary = summary
	book.CompletedAt = &now
	recordBook(ctx, store.BookStatusCompleted, time.Since(start))
	span.SetAttributes(attribute.Int("book.concepts", conceptCount))
	p.logger.Printf("completed book_id=%s concepts=%d elapsed=%s", book.ID, conceptCount, time.Since(start).Round(time.Millisecond))
	return book, nil
}

func (p *Pipeline) begin(ctx context.Context, in BookInput) (store.LearnedBook, error) {
	if in.BookID != "" {
		book, err := p.store.GetLearnedBook(ctx, in.TenantID, in.BookID)
		if err != nil {
			return store.LearnedBook{}, fmt.Errorf("load book %s: %w", in.BookID, err)
		}
		if err := p.store.StartBook(ctx, book.ID); err != nil {
			return store.LearnedBook{}, fmt.Errorf("start book %s: %w", book.ID, err)
		}
		book.Status = store.BookStatusProcessing
		if book.FilePath == "" {
			book.FilePath = in.FilePath
		}
		return book, nil
	}
	return p.store.CreateLearnedBook(ctx, store.LearnedBook{
		TenantID: in.TenantID,
		Title:    in.Title,
		Author:   in.Author,
		FilePath: in.FilePath,
		FileType: in.FileType,
		Status:   store.BookStatusProcessing,
	})
}

func (p *Pipeline) run(ctx context.Context, book *store.LearnedBook) (string, int, error) {
	text, err := p.parser.Parse(ctx, book.FilePath, book.FileType)
	if err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(text) == "" {
		return "", 0, ErrEmptyText
	}

	chunks := chunker.Split(text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	if err := p.store.SetBookTotalChunks(ctx, book.ID, len(chunks)); err != nil {
		return "", 0, fmt.Errorf("record total chunks: %w", err)
	}
	total := len(chunks)
	book.TotalChunks = &total
	p.logger.Printf("chunks book_id=%s total=%d", book.ID, total)

	concepts := make([]Concept, 0, total)
	for batchStart := 0; batchStart < total; batchStart += p.cfg.BatchSize {
		batchEnd := batchStart + p.cfg.BatchSize
		if batchEnd > total {
			batchEnd = total
		}
		for idx := batchStart; idx < batchEnd; idx++ {
			c, err := p.extract(ctx, chunks[idx], idx)
			if err != nil {
				return "", 0, fmt.Errorf("extract chunk %d: %w", idx, err)
			}
			concepts = append(concepts, c)
			if err := p.store.AdvanceBookProgress(ctx, book.ID, idx+1); err != nil {
				return "", 0, fmt.Errorf("record progress: %w", err)
			}
			book.ProcessedChunks = idx + 1
		}
		p.logger.Printf("batch book_id=%s processed=%d/%d", book.ID, batchEnd, total)
	}

	summary, err := p.summarize(ctx, book.Title, concepts, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("global summary: %w", err)
	}
	if err := p.persist(ctx, book, concepts, summary); err != nil {
		return "", 0, err
	}
	return summary, len(concepts), nil
}

func (p *Pipeline) extract(ctx context.Context, chunk string, idx int) (Concept, error) {
	resp, err := p.llm.Generate(ctx, extractionPrompt(chunk, idx), llm.GenerateOptions{
		Model:       p.cfg.ExtractionModel,
		Temperature: 0.3,
	})
	if err != nil {
		return Concept{}, err
	}
	c := ParseConcept(resp)
	if c.Degraded {
		recordDegradedExtraction(ctx)
		p.logger.Printf("warn: chunk %d extraction unparseable, keeping raw response", idx)
	}
	return c, nil
}

// summarize builds the global summary from the extracted concepts. When no
// extraction parsed it works from excerpts of the raw chunks instead.
func (p *Pipeline) summarize(ctx context.Context, title string, concepts []Concept, chunks []string) (string, error) {
	prompt := ""
	if items := summaryConcepts(concepts, p.cfg.SummaryChunks, p.cfg.ConceptsPerChunk, p.cfg.MaxSummaryConcepts); len(items) > 0 {
		prompt = summaryPrompt(title, items)
	} else {
		p.logger.Printf("warn: no parsed concepts for %q, summarising raw excerpts", title)
		prompt = excerptSummaryPrompt(title, excerpts(chunks, p.cfg.SummaryChunks, maxExcerptChars))
	}
	summary, err := p.llm.Generate(ctx, prompt, llm.GenerateOptions{
		Model:       p.cfg.SummaryModel,
		MaxTokens:   700,
		Temperature: 0.4,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// persist embeds every non-empty condensed text plus the global summary in
// one batch call, then writes the concept rows and the summary chunk.
func (p *Pipeline) persist(ctx context.Context, book *store.LearnedBook, concepts []Concept, summary string) error {
	rows := make([]store.BookConcept, len(concepts))
	texts := make([]string, 0, len(concepts)+1)
	owners := make([]int, 0, len(concepts))
	for i, c := range concepts {
		rows[i] = store.BookConcept{
			LearnedBookID:  book.ID,
			ChunkIndex:     i,
			MainConcepts:   c.MainConcepts,
			Relationships:  c.Relationships,
			KeyExamples:    c.KeyExamples,
			TechnicalTerms: c.TechnicalTerms,
			CondensedText:  c.CondensedText,
		}
		if strings.TrimSpace(c.CondensedText) != "" {
			texts = append(texts, c.CondensedText)
			owners = append(owners, i)
		}
	}
	if summary != "" {
		texts = append(texts, summary)
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed concepts: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("embed concepts: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for j, i := range owners {
		rows[i].Embedding = vectors[j]
	}

	if err := p.store.InsertBookConcepts(ctx, rows); err != nil {
		return fmt.Errorf("store concepts: %w", err)
	}
	if summary != "" {
		written, err := p.store.InsertKnowledgeChunks(ctx, []store.KnowledgeChunk{{
			TenantID:      book.TenantID,
			LearnedBookID: book.ID,
			ContentType:   store.ContentTypeBook,
			Kind:          store.KindThematicSummary,
			SourceTitle:   book.Title,
			ChunkText:     summary,
			Metadata: map[string]interface{}{
				"book_id":    book.ID,
				"book_title": book.Title,
				"author":     book.Author,
			},
			Embedding: vectors[len(vectors)-1],
		}})
		if err != nil {
			return fmt.Errorf("store summary: %w", err)
		}
		if written == 0 {
			return ErrSummaryNotStored
		}
	}
	recordConcepts(ctx, len(rows))
	return nil
}
