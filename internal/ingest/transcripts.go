package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/marketbrain/config"
	"github.com/mohammad-safakhou/marketbrain/internal/chunker"
	"github.com/mohammad-safakhou/marketbrain/internal/embedding"
	"github.com/mohammad-safakhou/marketbrain/internal/store"
)

// TranscriptOptions describe a transcript corpus. An empty TenantID stores
// the chunks as global knowledge.
type TranscriptOptions struct {
	TenantID string
	Source   string
	Author   string
}

// TranscriptReport summarises one ingestion run.
type TranscriptReport struct {
	Files    int
	Chunks   int
	Inserted int
	Skipped  []string
}

// Transcripts ingests directories of .txt video transcripts.
type Transcripts struct {
	store    Store
	embedder embedding.Embedder
	words    int
	overlap  int
	logger   *log.Logger
}

// NewTranscripts wires transcript ingestion.
func NewTranscripts(st Store, embedder embedding.Embedder, cfg config.DocumentsConfig, logger *log.Logger) *Transcripts {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Transcripts{store: st, embedder: embedder, words: cfg.TranscriptWords, overlap: cfg.TranscriptOverlap, logger: logger}
}

// IngestDir chunks every .txt file of dir by word windows, embeds all chunks
// in one batch call and stores them as video_transcript rows. Unreadable
// files are skipped and reported.
func (t *Transcripts) IngestDir(ctx context.Context, dir string, opts TranscriptOptions) (TranscriptReport, error) {
	var report TranscriptReport
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return report, err
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return report, fmt.Errorf("no .txt transcripts in %s", dir)
	}
	if opts.Source == "" {
		opts.Source = "youtube"
	}

	var chunks []store.KnowledgeChunk
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.logger.Printf("warn: skip %s: %v", path, err)
			report.Skipped = append(report.Skipped, filepath.Base(path))
			continue
		}
		name := filepath.Base(path)
		title := strings.TrimSuffix(name, filepath.Ext(name))
		pieces := chunker.SplitWords(string(raw), t.words, t.overlap)
		for i, piece := range pieces {
			meta := map[string]interface{}{
				"source":   opts.Source,
				"filename": name,
			}
			if opts.Author != "" {
				meta["author"] = opts.Author
			}
			chunks = append(chunks, store.KnowledgeChunk{
				TenantID:    opts.TenantID,
				ContentType: store.ContentTypeTranscript,
				Kind:        store.KindRawChunk,
				SourceTitle: title,
				ChunkText:   piece,
				ChunkIndex:  i,
				Metadata:    meta,
			})
		}
		report.Files++
		t.logger.Printf("file=%s chunks=%d chars=%d", name, len(pieces), len(raw))
	}
	report.Chunks = len(chunks)
	if len(chunks) == 0 {
		return report, fmt.Errorf("no chunks produced from %s", dir)
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].ChunkText
	}
	vectors, err := t.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return report, fmt.Errorf("embed transcripts: %w", err)
	}
	if len(vectors) != len(chunks) {
		return report, fmt.Errorf("embed transcripts: got %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	inserted, err := t.store.InsertKnowledgeChunks(ctx, chunks)
	if err != nil {
		return report, fmt.Errorf("store transcripts: %w", err)
	}
	report.Inserted = inserted
	t.logger.Printf("files=%d chunks=%d inserted=%d", report.Files, report.Chunks, report.Inserted)
	return report, nil
}
