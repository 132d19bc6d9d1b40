// Package parser extracts plain text from uploaded files.
package parser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnsupportedType is returned for file types without a registered extractor.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrEmptyDocument is returned by callers that require text when a file yields none.
	ErrEmptyDocument = errors.New("document is empty or could not be parsed")
)

// ExtractFunc reads the file at path and returns its text.
type ExtractFunc func(ctx context.Context, path string) (string, error)

// Registry maps normalised file types (".pdf") to extractors.
type Registry struct {
	extractors map[string]ExtractFunc
}

// New returns a registry with the built-in extractors.
func New() *Registry {
	r := &Registry{extractors: make(map[string]ExtractFunc)}
	r.Register(".txt", ExtractText)
	r.Register(".md", ExtractText)
	r.Register(".pdf", ExtractPDF)
	r.Register(".docx", ExtractDOCX)
	r.Register(".html", ExtractHTML)
	r.Register(".htm", ExtractHTML)
	return r
}

// Register adds or replaces the extractor for fileType.
func (r *Registry) Register(fileType string, fn ExtractFunc) {
	r.extractors[NormalizeType(fileType)] = fn
}

// Supported reports whether fileType has an extractor.
func (r *Registry) Supported(fileType string) bool {
	_, ok := r.extractors[NormalizeType(fileType)]
	return ok
}

// Types lists the registered file types in sorted order.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.extractors))
	for t := range r.extractors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Parse extracts the text of path according to fileType.
func (r *Registry) Parse(ctx context.Context, path, fileType string) (string, error) {
	ft := NormalizeType(fileType)
	fn, ok := r.extractors[ft]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, fileType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := fn(ctx, path)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", ft, err)
	}
	return text, nil
}

// NormalizeType lower-cases a file type and ensures a leading dot, so
// "PDF", "pdf" and ".pdf" are equivalent.
func NormalizeType(fileType string) string {
	ft := strings.ToLower(strings.TrimSpace(fileType))
	if ft == "" {
		return ""
	}
	if !strings.HasPrefix(ft, ".") {
		ft = "." + ft
	}
	return ft
}
