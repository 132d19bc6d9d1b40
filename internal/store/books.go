package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Learned book statuses. Completed and failed are terminal.
const (
	BookStatusPending    = "pending"
	BookStatusProcessing = "processing"
	BookStatusCompleted  = "completed"
	BookStatusFailed     = "failed"
)

// LearnedBook tracks one long-form document through the learning pipeline.
// TotalChunks is nil until chunking has finished.
type LearnedBook struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"tenant_id"`
	Title           string     `json:"title"`
	Author          string     `json:"author,omitempty"`
	FilePath        string     `json:"-"`
	FileType        string     `json:"file_type"`
	Status          string     `json:"status"`
	TotalChunks     *int       `json:"total_chunks"`
	ProcessedChunks int        `json:"processed_chunks"`
	GlobalSummary   string     `json:"global_summary,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// BookConcept is the structured extraction of one chunk of a book.
type BookConcept struct {
	ID             string            `json:"id"`
	LearnedBookID  string            `json:"learned_book_id"`
	ChunkIndex     int               `json:"chunk_index"`
	MainConcepts   []string          `json:"main_concepts"`
	Relationships  []string          `json:"relationships"`
	KeyExamples    []string          `json:"key_examples"`
	TechnicalTerms map[string]string `json:"technical_terms"`
	CondensedText  string            `json:"condensed_text"`
	Embedding      []float32         `json:"-"`
	CreatedAt      time.Time         `json:"created_at"`
}

const insertLearnedBookSQL = `
INSERT INTO learned_books (id, tenant_id, title, author, file_path, file_type, status, processed_chunks, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,0,NOW(),NOW())
RETURNING created_at, updated_at`

// CreateLearnedBook inserts a new book record. Status defaults to pending.
func (s *Store) CreateLearnedBook(ctx context.Context, b LearnedBook) (LearnedBook, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Status == "" {
		b.Status = BookStatusPending
	}
	if b.Status != BookStatusPending && b.Status != BookStatusProcessing {
		return LearnedBook{}, fmt.Errorf("%w: cannot create book as %s", ErrInvalidTransition, b.Status)
	}
	err := s.DB.QueryRowContext(ctx, insertLearnedBookSQL,
		b.ID, b.TenantID, b.Title, nullString(b.Author), b.FilePath, b.FileType, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return LearnedBook{}, err
	}
	return b, nil
}

// StartBook moves a pending book to processing.
func (s *Store) StartBook(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET status='processing', updated_at=NOW() WHERE id=$1 AND status='pending'`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrInvalidTransition)
}

// SetBookTotalChunks records the chunk count once chunking has finished.
func (s *Store) SetBookTotalChunks(ctx context.Context, id string, total int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET total_chunks=$2, updated_at=NOW() WHERE id=$1 AND status='processing'`, id, total)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrInvalidTransition)
}

// AdvanceBookProgress raises processed_chunks to processed; it never lowers it.
// Every call also refreshes updated_at, which the stale sweeper reads as a heartbeat.
func (s *Store) AdvanceBookProgress(ctx context.Context, id string, processed int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET processed_chunks=GREATEST(processed_chunks, $2), updated_at=NOW() WHERE id=$1 AND status='processing'`, id, processed)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrInvalidTransition)
}

// CompleteBook stores the global summary and marks the book completed.
func (s *Store) CompleteBook(ctx context.Context, id, summary string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET status='completed', global_summary=$2, completed_at=NOW(), updated_at=NOW() WHERE id=$1 AND status='processing'`, id, summary)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrInvalidTransition)
}

// FailBook marks a non-terminal book failed with a reason.
func (s *Store) FailBook(ctx context.Context, id, reason string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET status='failed', error=$2, updated_at=NOW() WHERE id=$1 AND status IN ('pending','processing')`, id, reason)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrInvalidTransition)
}

// FailStaleBooks fails books whose heartbeat is older than cutoff.
func (s *Store) FailStaleBooks(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE learned_books SET status='failed', error=$2, updated_at=NOW() WHERE status='processing' AND updated_at < $1`, cutoff, reason)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const selectLearnedBookColumns = `id::text, tenant_id, title, author, file_path, file_type, status, total_chunks, processed_chunks, global_summary, error, created_at, updated_at, completed_at`

// GetLearnedBook loads a book owned by tenantID.
func (s *Store) GetLearnedBook(ctx context.Context, tenantID, id string) (LearnedBook, error) {
	if !validID(id) {
		return LearnedBook{}, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+selectLearnedBookColumns+` FROM learned_books WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	b, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return LearnedBook{}, ErrNotFound
	}
	return b, err
}

// ListLearnedBooks returns the tenant's books, newest first.
func (s *Store) ListLearnedBooks(ctx context.Context, tenantID string) ([]LearnedBook, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+selectLearnedBookColumns+` FROM learned_books WHERE tenant_id=$1 ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LearnedBook
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteLearnedBook removes a book; its concepts and derived chunks cascade.
func (s *Store) DeleteLearnedBook(ctx context.Context, tenantID, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM learned_books WHERE id=$1 AND tenant_id=$2`, id, tenantID)
	if err != nil {
		return err
	}
	return expectOneRow(res, ErrNotFound)
}

// validID reports whether id can name a row; ids are UUID columns and
// anything else could never match.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBook(r rowScanner) (LearnedBook, error) {
	var b LearnedBook
	var author, summary, errText sql.NullString
	var total sql.NullInt64
	var completed sql.NullTime
	if err := r.Scan(&b.ID, &b.TenantID, &b.Title, &author, &b.FilePath, &b.FileType, &b.Status,
		&total, &b.ProcessedChunks, &summary, &errText, &b.CreatedAt, &b.UpdatedAt, &completed); err != nil {
		return LearnedBook{}, err
	}
	b.Author = author.String
	b.GlobalSummary = summary.String
	b.Error = errText.String
	if total.Valid {
		n := int(total.Int64)
		b.TotalChunks = &n
	}
	if completed.Valid {
		t := completed.Time
		b.CompletedAt = &t
	}
	return b, nil
}

const insertBookConceptSQL = `
INSERT INTO book_concepts (id, learned_book_id, chunk_index, main_concepts, relationships, key_examples, technical_terms, condensed_text, embedding, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::vector,NOW())
ON CONFLICT (learned_book_id, chunk_index) DO UPDATE SET
  main_concepts = EXCLUDED.main_concepts,
  relationships = EXCLUDED.relationships,
  key_examples = EXCLUDED.key_examples,
  technical_terms = EXCLUDED.technical_terms,
  condensed_text = EXCLUDED.condensed_text,
  embedding = EXCLUDED.embedding`

// InsertBookConcepts persists concepts in one transaction.
func (s *Store) InsertBookConcepts(ctx context.Context, concepts []BookConcept) error {
	if len(concepts) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, insertBookConceptSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range concepts {
		c := &concepts[i]
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		terms := make(map[string]interface{}, len(c.TechnicalTerms))
		for k, v := range c.TechnicalTerms {
			terms[k] = v
		}
		termsJSON, mErr := metadataParam(terms)
		if mErr != nil {
			err = mErr
			return err
		}
		if _, err = stmt.ExecContext(ctx,
			c.ID,
			c.LearnedBookID,
			c.ChunkIndex,
			pq.Array(nonNil(c.MainConcepts)),
			pq.Array(nonNil(c.Relationships)),
			pq.Array(nonNil(c.KeyExamples)),
			termsJSON,
			c.CondensedText,
			vectorParam(c.Embedding),
		); err != nil {
			return fmt.Errorf("insert concept %d: %w", c.ChunkIndex, err)
		}
	}
	err = tx.Commit()
	return err
}

// ListBookConcepts returns a book's concepts in chunk order.
func (s *Store) ListBookConcepts(ctx context.Context, bookID string) ([]BookConcept, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id::text, learned_book_id::text, chunk_index, main_concepts, relationships, key_examples, technical_terms, condensed_text, created_at
FROM book_concepts WHERE learned_book_id=$1 ORDER BY chunk_index ASC`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BookConcept
	for rows.Next() {
		var c BookConcept
		var terms []byte
		if err := rows.Scan(&c.ID, &c.LearnedBookID, &c.ChunkIndex,
			pq.Array(&c.MainConcepts), pq.Array(&c.Relationships), pq.Array(&c.KeyExamples),
			&terms, &c.CondensedText, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.TechnicalTerms = map[string]string{}
		for k, v := range decodeMetadata(terms) {
			if s, ok := v.(string); ok {
				c.TechnicalTerms[k] = s
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
