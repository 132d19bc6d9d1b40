package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Content types stored in knowledge_chunks.
const (
	ContentTypeTranscript   = "video_transcript"
	ContentTypeBook         = "book"
	ContentTypeUserDocument = "user_document"
)

// Knowledge kinds discriminate raw chunks from derived rows.
const (
	KindRawChunk         = "raw_chunk"
	KindExtractedConcept = "extracted_concept"
	KindThematicSummary  = "thematic_summary"
)

// KnowledgeChunk is a retrievable unit of text. An empty TenantID marks
// globally shared knowledge.
type KnowledgeChunk struct {
	ID             string
	TenantID       string
	ConversationID string
	DocumentID     string
	LearnedBookID  string
	ContentType    string
	Kind           string
	SourceTitle    string
	ChunkText      string
	ChunkIndex     int
	Metadata       map[string]interface{}
	Embedding      []float32
	CreatedAt      time.Time
}

// SearchParams select the candidate set for a similarity query.
type SearchParams struct {
	TenantID       string
	ConversationID string
	Vector         []float32
	Limit          int
}

// SearchHit is one ranked candidate. Similarity is 1 - cosine distance.
type SearchHit struct {
	ID          string
	ContentType string
	Kind        string
	SourceTitle string
	Content     string
	ChunkIndex  int
	Metadata    map[string]interface{}
	Distance    float64
	Similarity  float64
}

const insertKnowledgeChunkSQL = `
INSERT INTO knowledge_chunks (id, tenant_id, conversation_id, document_id, learned_book_id, content_type, knowledge_kind, source_title, chunk_text, chunk_index, metadata, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::vector,NOW())
ON CONFLICT DO NOTHING`

// InsertKnowledgeChunks writes chunks in one transaction. Rows that collide
// with an existing (tenant, document, book, source, kind, index) are skipped.
// It returns the number of rows written.
func (s *Store) InsertKnowledgeChunks(ctx context.Context, chunks []KnowledgeChunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, insertKnowledgeChunkSQL)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	written := 0
	for i := range chunks {
		c := &chunks[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.Kind == "" {
			c.Kind = KindRawChunk
		}
		meta, mErr := metadataParam(c.Metadata)
		if mErr != nil {
			err = mErr
			return 0, err
		}
		var res sql.Result
		res, err = stmt.ExecContext(ctx,
			c.ID,
			nullString(c.TenantID),
			nullString(c.ConversationID),
			nullString(c.DocumentID),
			nullString(c.LearnedBookID),
			c.ContentType,
			c.Kind,
			c.SourceTitle,
			c.ChunkText,
			c.ChunkIndex,
			meta,
			vectorParam(c.Embedding),
		)
		if err != nil {
			return 0, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

const searchKnowledgeSQL = `
SELECT id, content_type, knowledge_kind, source_title, content, chunk_index, metadata, distance
FROM (
  SELECT kc.id::text AS id, kc.content_type, kc.knowledge_kind, kc.source_title,
         kc.chunk_text AS content, kc.chunk_index, kc.metadata,
         kc.embedding <=> $1::vector AS distance
  FROM knowledge_chunks kc
  WHERE kc.embedding IS NOT NULL
    AND (kc.tenant_id = $2 OR kc.tenant_id IS NULL)
    AND ($3 = '' OR kc.conversation_id IS NULL OR kc.conversation_id = $3)
  UNION ALL
  SELECT bc.id::text, 'book', 'extracted_concept', lb.title,
         bc.condensed_text, bc.chunk_index,
         jsonb_build_object('book_id', lb.id::text, 'author', COALESCE(lb.author, ''), 'main_concepts', to_jsonb(bc.main_concepts)),
         bc.embedding <=> $1::vector
  FROM book_concepts bc
  JOIN learned_books lb ON lb.id = bc.learned_book_id
  WHERE bc.embedding IS NOT NULL AND lb.tenant_id = $2
) AS candidates
ORDER BY distance ASC, id ASC
LIMIT $4`

// SearchKnowledge ranks every chunk and book concept visible to the tenant
// by ascending cosine distance to the query vector.
func (s *Store) SearchKnowledge(ctx context.Context, p SearchParams) ([]SearchHit, error) {
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("search vector is empty")
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, searchKnowledgeSQL, vectorParam(p.Vector), p.TenantID, p.ConversationID, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

const searchConversationSQL = `
SELECT id::text, content_type, knowledge_kind, source_title, chunk_text, chunk_index, metadata,
       embedding <=> $1::vector AS distance
FROM knowledge_chunks
WHERE tenant_id = $2 AND conversation_id = $3 AND content_type = 'user_document'
  AND embedding IS NOT NULL
ORDER BY distance ASC, id ASC
LIMIT $4`

// SearchConversationDocuments ranks only the documents uploaded to one conversation.
func (s *Store) SearchConversationDocuments(ctx context.Context, p SearchParams) ([]SearchHit, error) {
	if len(p.Vector) == 0 {
		return nil, fmt.Errorf("search vector is empty")
	}
	if p.Limit <= 0 {
		p.Limit = 5
	}
	rows, err := s.DB.QueryContext(ctx, searchConversationSQL, vectorParam(p.Vector), p.TenantID, p.ConversationID, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanHits(rows)
}

func scanHits(rows *sql.Rows) ([]SearchHit, error) {
	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		var meta []byte
		if err := rows.Scan(&h.ID, &h.ContentType, &h.Kind, &h.SourceTitle, &h.Content, &h.ChunkIndex, &meta, &h.Distance); err != nil {
			return nil, err
		}
		h.Metadata = decodeMetadata(meta)
		h.Similarity = 1 - h.Distance
		out = append(out, h)
	}
	return out, rows.Err()
}

const sampleKnowledgeSQL = `
SELECT source_title, chunk_text
FROM knowledge_chunks
WHERE content_type = $1 AND knowledge_kind = 'raw_chunk'
  AND (tenant_id = $2 OR tenant_id IS NULL)
ORDER BY source_title ASC, chunk_index ASC
LIMIT $3`

// SampleKnowledge returns up to limit raw chunks of one content type visible
// to the tenant, in source order.
func (s *Store) SampleKnowledge(ctx context.Context, tenantID, contentType string, limit int) ([]KnowledgeChunk, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, sampleKnowledgeSQL, contentType, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []KnowledgeChunk
	for rows.Next() {
		c := KnowledgeChunk{ContentType: contentType, Kind: KindRawChunk}
		if err := rows.Scan(&c.SourceTitle, &c.ChunkText); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteKnowledgeByConversation removes every chunk scoped to a conversation.
func (s *Store) DeleteKnowledgeByConversation(ctx context.Context, tenantID, conversationID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE tenant_id=$1 AND conversation_id=$2`, tenantID, conversationID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
