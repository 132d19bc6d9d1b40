package server

import "github.com/mohammad-safakhou/marketbrain/internal/retrieval"

// SearchResponse is the body of a single-query search.
type SearchResponse struct {
	Query   string             `json:"query"`
	Results []retrieval.Result `json:"results"`
}

// HTTPError is the body of every error response.
type HTTPError struct {
	Error string `json:"error"`
}
