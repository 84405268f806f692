package ai

import (
	"errors"
	"fmt"
)

var (
	ErrNoChoices       = errors.New("no choices returned from inference API")
	ErrEmptyExtraction = errors.New("extraction returned an empty response")
	ErrNoEmbeddings    = errors.New("embedding service returned no embeddings")
)

// APIError is a non-2xx answer from a model endpoint
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("inference API error (status %d): %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed if sent again
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
