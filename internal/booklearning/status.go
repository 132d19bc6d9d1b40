package booklearning

import (
	"context"
	"time"
)

// BookStatus is the polling view of a book.
type BookStatus struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	ProcessedChunks int        `json:"processed_chunks"`
	TotalChunks     *int       `json:"total_chunks"`
	Progress        float64    `json:"progress"`
	Error           string     `json:"error,omitempty"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// Status reports the progress of a tenant's book.
func (p *Pipeline) Status(ctx context.Context, tenantID, bookID string) (BookStatus, error) {
	b, err := p.store.GetLearnedBook(ctx, tenantID, bookID)
	if err != nil {
		return BookStatus{}, err
	}
	st := BookStatus{
		ID:              b.ID,
		Title:           b.Title,
		Status:          b.Status,
		ProcessedChunks: b.ProcessedChunks,
		TotalChunks:     b.TotalChunks,
		Error:           b.Error,
		CompletedAt:     b.CompletedAt,
	}
	if b.TotalChunks != nil && *b.TotalChunks > 0 {
		st.Progress = float64(b.ProcessedChunks) / float64(*b.TotalChunks)
	}
	return st, nil
}
