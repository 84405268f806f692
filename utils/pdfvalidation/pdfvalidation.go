package pdfvalidation

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
)

var (
	ErrFileTooLarge = errors.New("pdf exceeds maximum file size")
	ErrNotPDF       = errors.New("invalid PDF file: missing PDF header")
	ErrTooManyPages = errors.New("pdf exceeds maximum page count")
	ErrNoPages      = errors.New("pdf has no pages")
)

// PDFLimits defines the validation limits for ingested PDFs
type PDFLimits struct {
	MaxFileSizeMB int // Maximum file size in MB, 0 disables the check
	MaxPages      int // Maximum number of pages
}

// IngestLimits bounds the cost of a single ingestion run
var IngestLimits = PDFLimits{
	MaxFileSizeMB: 100,
	MaxPages:      250,
}

// ValidationResult contains the result of PDF validation
type ValidationResult struct {
	PageCount int
	FileSize  int64
	Reader    *pdf.Reader
}

// ValidatePDFBytes checks size, header and page count. The page count is
// read from the document catalog only, no page content is decoded. The
// returned reader can be used to walk pages afterwards.
func ValidatePDFBytes(content []byte, limits PDFLimits) (*ValidationResult, error) {
	result := &ValidationResult{
		FileSize: int64(len(content)),
	}

	// 1. Validate file size
	if limits.MaxFileSizeMB > 0 {
		maxSize := int64(limits.MaxFileSizeMB) * 1024 * 1024
		if result.FileSize > maxSize {
			return result, fmt.Errorf("%w: %d bytes, limit is %dMB", ErrFileTooLarge, result.FileSize, limits.MaxFileSizeMB)
		}
	}

	// 2. Validate PDF header
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return result, ErrNotPDF
	}

	// 3. Get page count
	content = Sanitize(content)
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return result, fmt.Errorf("failed to parse PDF: %w", err)
	}
	result.PageCount = reader.NumPage()
	result.Reader = reader

	// 4. Validate page count
	if result.PageCount > limits.MaxPages {
		return result, fmt.Errorf("%w: PDF has %d pages, the maximum is %d",
			ErrTooManyPages, result.PageCount, limits.MaxPages)
	}
	if result.PageCount == 0 {
		return result, ErrNoPages
	}

	return result, nil
}

// Sanitize removes trailing garbage after the last %%EOF marker.
// Many PDFs downloaded from the web have HTML appended after it.
func Sanitize(content []byte) []byte {
	if len(content) == 0 {
		return content
	}

	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)

	if lastEOF == -1 {
		return content
	}

	pdfEnd := lastEOF + len(eofMarker)

	for pdfEnd < len(content) && (content[pdfEnd] == '\n' || content[pdfEnd] == '\r') {
		pdfEnd++
	}

	if pdfEnd < len(content) {
		return content[:pdfEnd]
	}

	return content
}
