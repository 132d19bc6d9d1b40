package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO documents (id, tenant_id, conversation_id, filename, file_type, file_size, status, created_at)`)).
		WithArgs("d1", "tenant-1", nil, "brief.pdf", ".pdf", int64(2048)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))

	d, err := st.CreateDocument(context.Background(), Document{ID: "d1", TenantID: "tenant-1", Filename: "brief.pdf", FileType: ".pdf", FileSize: 2048})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if d.Status != DocumentStatusPending || !d.CreatedAt.Equal(now) {
		t.Fatalf("unexpected document: %+v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMarkDocumentProcessedAndDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE documents SET status='processed', chunk_count=$2, processed_at=NOW() WHERE id=$1`)).
		WithArgs("d1", 7).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id=$1 AND tenant_id=$2`)).
		WithArgs(testDocumentID, "tenant-2").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.MarkDocumentProcessed(context.Background(), "d1", 7); err != nil {
		t.Fatalf("MarkDocumentProcessed: %v", err)
	}
	if err := st.DeleteDocument(context.Background(), "tenant-2", testDocumentID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

const testDocumentID = "0c4a9b7e-6f2d-4e1a-b3c8-1d5e7f9a2b44"

func TestGetDocumentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()
	st := &Store{DB: db}

	mock.ExpectQuery(`SELECT id::text, tenant_id, conversation_id`).
		WithArgs(testDocumentID, "tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := st.GetDocument(context.Background(), "tenant-1", testDocumentID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetDocument(context.Background(), "tenant-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("malformed id should be not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
