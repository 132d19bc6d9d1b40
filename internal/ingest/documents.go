// Package ingest loads user documents and transcript corpora into the
// knowledge base as embedded raw chunks.
package ingest

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/chunker"
	"github.com/mohammad-safakhou/marketbrain/internal/embedding"
	"github.com/mohammad-safakhou/marketbrain/internal/parser"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
)

// Store is the persistence used by ingestion.
type Store interface {
	InsertKnowledgeChunks(ctx context.Context, chunks []store.KnowledgeChunk) (int, error)
	MarkDocumentProcessed(ctx context.Context, id string, chunks int) error
	MarkDocumentFailed(ctx context.Context, id, reason string) error
}

// Parser extracts plain text from a file.
type Parser interface {
	Parse(ctx context.Context, path, fileType string) (string, error)
}

// DocumentInput describes an uploaded document already recorded as pending.
type DocumentInput struct {
	DocumentID     string
	TenantID       string
	ConversationID string
	Path           string
	FileType       string
	Title          string
}

// Documents turns uploads into user_document chunks.
type Documents struct {
	store    Store
	parser   Parser
	embedder embedding.Embedder
	splitter chunker.Splitter
	logger   *log.Logger
}

// NewDocuments wires document ingestion.
func NewDocuments(st Store, p Parser, embedder embedding.Embedder, cfg config.DocumentsConfig, logger *log.Logger) *Documents {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Documents{
		store:    st,
		parser:   p,
		embedder: embedder,
		splitter: chunker.New(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:   logger,
	}
}

// Process parses, chunks, embeds and stores one document, then marks it
// processed. Any failure marks the document failed and is returned.
func (d *Documents) Process(ctx context.Context, in DocumentInput) (int, error) {
	n, err := d.process(ctx, in)
	if err != nil {
		if in.DocumentID != "" {
			if ferr := d.store.MarkDocumentFailed(context.WithoutCancel(ctx), in.DocumentID, err.Error()); ferr != nil {
				d.logger.Printf("warn: mark document %s failed: %v", in.DocumentID, ferr)
			}
		}
		return 0, err
	}
	return n, nil
}

func (d *Documents) process(ctx context.Context, in DocumentInput) (int, error) {
	if in.TenantID == "" {
		return 0, fmt.Errorf("tenant is required")
	}
	fileType := in.FileType
	if fileType == "" {
		fileType = filepath.Ext(in.Path)
	}
	fileType = parser.NormalizeType(fileType)
	title := in.Title
	if title == "" {
		title = filepath.Base(in.Path)
	}

	text, err := d.parser.Parse(ctx, in.Path, fileType)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, parser.ErrEmptyDocument
	}
	pieces := d.splitter.Split(text)
	if len(pieces) == 0 {
		return 0, parser.ErrEmptyDocument
	}
	vectors, err := d.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != len(pieces) {
		return 0, fmt.Errorf("embed document: got %d vectors for %d chunks", len(vectors), len(pieces))
	}

	chunks := make([]store.KnowledgeChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.KnowledgeChunk{
			TenantID:       in.TenantID,
			ConversationID: in.ConversationID,
			DocumentID:     in.DocumentID,
			ContentType:    store.ContentTypeUserDocument,
			Kind:           store.KindRawChunk,
			SourceTitle:    title,
			ChunkText:      piece,
			ChunkIndex:     i,
			Metadata: map[string]interface{}{
				"document_id":  in.DocumentID,
				"file_type":    fileType,
				"total_chunks": len(pieces),
			},
			Embedding: vectors[i],
		}
	}
	if _, err := d.store.InsertKnowledgeChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("store chunks: %w", err)
	}
	if in.DocumentID != "" {
		if err := d.store.MarkDocumentProcessed(ctx, in.DocumentID, len(chunks)); err != nil {
			return 0, fmt.Errorf("mark processed: %w", err)
		}
	}
	d.logger.Printf("document=%s tenant=%s chunks=%d", title, in.TenantID, len(chunks))
	return len(chunks), nil
}
