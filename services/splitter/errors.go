package splitter

import (
	"errors"
	"fmt"

	"github.com/sahilchouksey/study-ingest/utils/pdfvalidation"
)

var (
	// ErrTooManyPages is returned before any unit is produced when a PDF is
	// over the page ceiling
	ErrTooManyPages = pdfvalidation.ErrTooManyPages

	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyDocument     = errors.New("document has no extractable content")
	ErrAlreadyConsumed   = errors.New("unit sequence already consumed")
)

// PageError reports a page that could not be cut out of its document
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }
