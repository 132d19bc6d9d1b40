// Package embedding turns text into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrDimensionMismatch is returned when the provider answers with vectors
	// of an unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyInput is returned by Embed for blank text.
	ErrEmptyInput = errors.New("embedding input is empty")
)

// Embedder produces one vector per input text. EmbedBatch with no texts
// returns an empty slice and no error.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
