package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/utils"
)

// DefaultExtractionRetryDelay is the backoff before the single retry
const DefaultExtractionRetryDelay = 3 * time.Second

// ExtractedUnit is a content page after extraction and numbering
type ExtractedUnit struct {
	ID         string // assigned before the page is stored; persistence fills it otherwise
	PageIndex  int
	Content    string
	Summary    string
	Chapter    float64
	PageNumber float64
	Page       []byte // single-page PDF, nil for chunks
	PageKey    string // object key of the stored page
}

// EmbeddingText is what gets embedded for the unit
func (u ExtractedUnit) EmbeddingText() string {
	if strings.TrimSpace(u.Summary) != "" {
		return u.Summary
	}
	return u.Content
}

// ExtractionResult is the outcome of one document run
type ExtractionResult struct {
	Units   []ExtractedUnit
	Total   int // units read from the splitter
	Skipped int // non-content units dropped
}

// ContentExtractionService reads units one after another through the
// extractor and resolves missing page and chapter numbers
type ContentExtractionService struct {
	extractor  ai.Extractor
	retryDelay time.Duration
	log        *utils.Logger
}

// NewContentExtractionService creates the service. A zero retryDelay uses
// DefaultExtractionRetryDelay.
func NewContentExtractionService(extractor ai.Extractor, retryDelay time.Duration, log *utils.Logger) *ContentExtractionService {
	if retryDelay <= 0 {
		retryDelay = DefaultExtractionRetryDelay
	}
	return &ContentExtractionService{
		extractor:  extractor,
		retryDelay: retryDelay,
		log:        log,
	}
}

// numbering carries the last known page and chapter across one document
type numbering struct {
	prevPageNumber float64
	prevChapter    float64
}

func (n *numbering) resolve(e *ai.PageExtraction) {
	if e.PageNumber != 0 {
		n.prevPageNumber = e.PageNumber
	} else if n.prevPageNumber != 0 {
		e.PageNumber = n.prevPageNumber + 1
		n.prevPageNumber = e.PageNumber
	}

	if e.Chapter != 0 {
		n.prevChapter = e.Chapter
	} else if n.prevChapter != 0 {
		e.Chapter = n.prevChapter
	}
}

// ExtractAll consumes the units in order. Any unit failing twice aborts the
// whole run and nothing extracted so far is returned.
func (s *ContentExtractionService) ExtractAll(ctx context.Context, units iter.Seq2[splitter.ContentUnit, error]) (*ExtractionResult, error) {
	result := &ExtractionResult{}
	var state numbering

	for unit, err := range units {
		if err != nil {
			return nil, err
		}
		result.Total++

		extraction, err := s.extractWithRetry(ctx, unit)
		if err != nil {
			return nil, err
		}

		if !extraction.IsContentPage {
			result.Skipped++
			s.log.Debug("skipping non-content unit", "index", unit.Index)
			continue
		}

		state.resolve(extraction)

		result.Units = append(result.Units, ExtractedUnit{
			PageIndex:  unit.Index,
			Content:    extraction.Content,
			Summary:    extraction.Summary,
			Chapter:    extraction.Chapter,
			PageNumber: extraction.PageNumber,
			Page:       unit.Data,
		})
	}

	return result, nil
}

func (s *ContentExtractionService) extractWithRetry(ctx context.Context, unit splitter.ContentUnit) (*ai.PageExtraction, error) {
	extraction, err := s.extractor.Extract(ctx, unit)
	if err == nil {
		return extraction, nil
	}

	// transient is logged only, every failure is retried once
	var apiErr *ai.APIError
	transient := errors.As(err, &apiErr) && apiErr.Retryable()
	s.log.Warn("extraction failed, retrying", "index", unit.Index, "delay", s.retryDelay, "transient", transient, "error", err)

	timer := time.NewTimer(s.retryDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return nil, ctx.Err()
	}

	extraction, err = s.extractor.Extract(ctx, unit)
	if err != nil {
		return nil, fmt.Errorf("%w: unit %d: %w", ErrExtractionFailed, unit.Index, err)
	}
	return extraction, nil
}

// SplitChapter turns a decimal chapter into chapter and sub-chapter on its
// decimal point (3.2 is chapter 3, sub-chapter 2). Zero parts are nil.
func SplitChapter(chapter float64) (*int, *int) {
	whole, frac, _ := strings.Cut(strconv.FormatFloat(chapter, 'f', -1, 64), ".")
	return nonZeroInt(whole), nonZeroInt(frac)
}

// PageNumberOf returns the page number only when it is a positive integer
func PageNumberOf(pageNumber float64) *int {
	if pageNumber <= 0 || pageNumber != math.Trunc(pageNumber) || pageNumber > math.MaxInt32 {
		return nil
	}
	n := int(pageNumber)
	return &n
}

func nonZeroInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n == 0 {
		return nil
	}
	return &n
}
