package splitter

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/sahilchouksey/study-ingest/utils/pdfvalidation"
)

// UnitKind tells downstream stages how a unit was cut
type UnitKind string

const (
	UnitKindPage  UnitKind = "page"
	UnitKindChunk UnitKind = "chunk"
)

// DefaultChunkSize is the target chunk length in runes for non-PDF sources
const DefaultChunkSize = 2000

// ContentUnit is one raw slice of a source document
type ContentUnit struct {
	Index int // 0-based position in the source document
	Kind  UnitKind
	Text  string // text layer; empty for scanned pages
	// Data is the page as a standalone single-page PDF. Nil for chunks.
	Data []byte
}

// MIMEType of Data
func (u ContentUnit) MIMEType() string {
	if len(u.Data) == 0 {
		return ""
	}
	return "application/pdf"
}

// Config holds splitter limits
type Config struct {
	MaxPages  int // PDF page ceiling, defaults to 250
	ChunkSize int // target chunk length in runes, defaults to DefaultChunkSize
}

// Splitter turns a downloaded document into ordered content units
type Splitter struct {
	limits    pdfvalidation.PDFLimits
	chunkSize int
}

// New creates a splitter
func New(cfg Config) *Splitter {
	limits := pdfvalidation.IngestLimits
	if cfg.MaxPages > 0 {
		limits.MaxPages = cfg.MaxPages
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Splitter{limits: limits, chunkSize: cfg.ChunkSize}
}

// Split validates the document and returns its units as a one-shot sequence.
// Shape errors (page ceiling, unknown format) are returned here, before any
// unit is produced.
func (s *Splitter) Split(ctx context.Context, filename string, data []byte) (iter.Seq2[ContentUnit, error], error) {
	var (
		seq iter.Seq2[ContentUnit, error]
		err error
	)

	switch format := detectFormat(filename, data); format {
	case formatPDF:
		seq, err = s.splitPDF(data)
	case formatText:
		seq, err = s.splitChunks(string(data))
	case formatHTML:
		var text string
		text, err = htmlText(data)
		if err == nil {
			seq, err = s.splitChunks(text)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
	if err != nil {
		return nil, err
	}

	return oneShot(ctx, seq), nil
}

type format int

const (
	formatUnknown format = iota
	formatPDF
	formatText
	formatHTML
)

func detectFormat(filename string, data []byte) format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return formatPDF
	case ".txt", ".md", ".markdown", ".csv":
		return formatText
	case ".html", ".htm":
		return formatHTML
	}
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return formatPDF
	}
	return formatUnknown
}

func (s *Splitter) splitChunks(text string) (iter.Seq2[ContentUnit, error], error) {
	chunks := chunkText(text, s.chunkSize)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	return func(yield func(ContentUnit, error) bool) {
		for i, c := range chunks {
			if !yield(ContentUnit{Index: i, Kind: UnitKindChunk, Text: c}, nil) {
				return
			}
		}
	}, nil
}

// oneShot refuses a second iteration and stops early on cancellation
func oneShot(ctx context.Context, seq iter.Seq2[ContentUnit, error]) iter.Seq2[ContentUnit, error] {
	var used atomic.Bool
	return func(yield func(ContentUnit, error) bool) {
		if used.Swap(true) {
			yield(ContentUnit{}, ErrAlreadyConsumed)
			return
		}
		for unit, err := range seq {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(ContentUnit{}, ctxErr)
				return
			}
			if !yield(unit, err) || err != nil {
				return
			}
		}
	}
}
