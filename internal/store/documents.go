package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Document statuses.
const (
	DocumentStatusPending   = "pending"
	DocumentStatusProcessed = "processed"
	DocumentStatusFailed    = "failed"
)

// Document is a user upload attached to a tenant and optionally a conversation.
type Document struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Filename       string     `json:"filename"`
	FileType       string     `json:"file_type"`
	FileSize       int64      `json:"file_size"`
	Status         string     `json:"status"`
	ChunkCount     int        `json:"chunk_count"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// CreateDocument inserts a pending document row.
func (s *Store) CreateDocument(ctx context.Context, d Document) (Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.Status = DocumentStatusPending
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (id, tenant_id, conversation_id, filename, file_type, file_size, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,'pending',NOW())
RETURNING created_at`,
		d.ID, d.TenantID, nullString(d.ConversationID), d.Filename, d.FileType, d.FileSize,
	).Scan(&d.CreatedAt)
	if err != nil {
		return Document{}, err
	}
	return d, nil
}

// MarkDocumentProcessed records the chunk count of a processed document.
func (s *Store) MarkDocumentProcessed(ctx context.Context, id string, chunks int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status='processed', chunk_count=$2, processed_at=NOW() WHERE id=$1`, id, chunks)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrNotFound)
}

// MarkDocumentFailed records why a document could not be processed.
func (s *Store) MarkDocumentFailed(ctx context.Context, id, reason string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE documents SET status='failed', error=$2, processed_at=NOW() WHERE id=$1`, id, reason)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrNotFound)
}

// GetDocument loads a tenant's document.
func (s *Store) GetDocument(ctx context.Context, tenantID, id string) (Document, error) {
	if !validID(id) {
		return Document{}, ErrNotFound
	}
	var d Document
	var conv, errText sql.NullString
	var processed sql.NullTime
	err := s.DB.QueryRowContext(ctx, `
SELECT id::text, tenant_id, conversation_id, filename, file_type, file_size, status, chunk_count, error, created_at, processed_at
FROM documents WHERE id=$1 AND tenant_id=$2`, id, tenantID).Scan(
		&d.ID, &d.TenantID, &conv, &d.Filename, &d.FileType, &d.FileSize, &d.Status, &d.ChunkCount, &errText, &d.CreatedAt, &processed)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	d.ConversationID = conv.String
	d.Error = errText.String
	if processed.Valid {
		t := processed.Time
		d.ProcessedAt = &t
	}
	return d, nil
}

// DeleteDocument removes a document; its chunks cascade.
func (s *Store) DeleteDocument(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM documents WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrNotFound)
}
