// Package chunker splits long text into overlapping segments, preferring
// paragraph, then line, then sentence, then word boundaries.
//
// Sizes and overlaps are measured in characters (runes). Every segment is a
// contiguous slice of the input; a segment after the first starts with the
// trailing Overlap characters of its predecessor.
package chunker

import "strings"

// DefaultSeparators lists boundaries from strongest to weakest.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter holds the chunking parameters.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// New returns a Splitter with normalised parameters.
func New(size, overlap int) Splitter {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split is shorthand for New(size, overlap).Split(text).
func Split(text string, size, overlap int) []string {
	return New(size, overlap).Split(text)
}

// Split cuts text into segments of at most Size characters. Empty input
// yields no segments.
func (s Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}
	if s.Size <= 0 || s.Overlap < 0 || s.Overlap >= s.Size {
		norm := New(s.Size, s.Overlap)
		if len(s.Separators) > 0 {
			norm.Separators = s.Separators
		}
		s = norm
	}
	runes := []rune(text)
	n := len(runes)

	// a cut never lands before minLen so each segment outgrows the overlap
	// it carries and the walk always advances
	minLen := s.Size / 2
	if minLen <= s.Overlap {
		minLen = s.Overlap + 1
	}

	var out []string
	prevCut := 0
	for prevCut < n {
		start := 0
		if prevCut > 0 {
			start = prevCut - s.Overlap
		}
		limit := start + s.Size
		if limit >= n {
			out = append(out, string(runes[start:]))
			break
		}
		cut := s.findCut(runes, start+minLen, limit)
		out = append(out, string(runes[start:cut]))
		prevCut = cut
	}
	return out
}

// findCut returns the end of the last occurrence of the strongest separator
// that ends within [lo, hi], or hi when none does.
func (s Splitter) findCut(runes []rune, lo, hi int) int {
	for _, sep := range s.Separators {
		sr := []rune(sep)
		if len(sr) == 0 {
			continue
		}
		for end := hi; end >= lo && end-len(sr) >= 0; end-- {
			if hasRunes(runes[end-len(sr):end], sr) {
				return end
			}
		}
	}
	return hi
}

func hasRunes(a, b []rune) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SplitWords groups whitespace-separated words into windows of size words,
// each sharing overlap words with the previous window. Windows are joined
// with single spaces.
func SplitWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size <= 0 {
		size = 800
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	step := size - overlap
	var out []string
	for i := 0; i < len(words); i += step {
		end := i + size
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
