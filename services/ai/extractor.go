package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/utils"
)

// PageExtraction is the structured reading of one content unit
type PageExtraction struct {
	IsContentPage bool    `json:"isContentPage"`
	Summary       string  `json:"summary"`
	Content       string  `json:"content"`
	Chapter       float64 `json:"chapter"`    // 3.2 means chapter 3, section 2; 0 when unknown
	PageNumber    float64 `json:"pageNumber"` // printed page label; 0 when unknown
}

// Extractor reads one unit through an external content-understanding service
type Extractor interface {
	Extract(ctx context.Context, unit splitter.ContentUnit) (*PageExtraction, error)
}

const extractionSystemPrompt = `You read single pages or chunks of course material.
Classify the input and transcribe it.
- isContentPage is false for cover pages, title pages, tables of contents, indexes and blank pages.
- content is the cleaned full text of the input in markdown.
- summary is two or three sentences describing what the input teaches.
- chapter is the chapter and section shown on the page as a decimal (e.g. 3.2), or 0 if none is visible.
- pageNumber is the printed page number, or 0 if none is visible.`

var pageExtractionSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"isContentPage": map[string]interface{}{"type": "boolean"},
		"summary":       map[string]interface{}{"type": "string"},
		"content":       map[string]interface{}{"type": "string"},
		"chapter":       map[string]interface{}{"type": "number"},
		"pageNumber":    map[string]interface{}{"type": "number"},
	},
	"required":             []string{"isContentPage", "summary", "content", "chapter", "pageNumber"},
	"additionalProperties": false,
}

// PageExtractor implements Extractor on top of structured chat completions
type PageExtractor struct {
	client *InferenceClient
}

// NewPageExtractor creates an extractor backed by the given client
func NewPageExtractor(client *InferenceClient) *PageExtractor {
	return &PageExtractor{client: client}
}

// Extract sends the unit to the model and parses its JSON answer. Pages go
// out as their single-page PDF with the text layer as a hint, so scanned
// pages are read too.
func (e *PageExtractor) Extract(ctx context.Context, unit splitter.ContentUnit) (*PageExtraction, error) {
	text := strings.TrimSpace(unit.Text)
	if text == "" && len(unit.Data) == 0 {
		return &PageExtraction{IsContentPage: false}, nil
	}

	userPrompt := fmt.Sprintf("Input type: %s\nPosition in document: %d\n\n%s", unit.Kind, unit.Index, text)

	var (
		raw string
		err error
	)
	if len(unit.Data) > 0 {
		if text == "" {
			userPrompt += "(no text layer, read the attached page)"
		}
		parts := []ContentPart{
			TextPart(userPrompt),
			FileDataPart(fmt.Sprintf("page-%d.pdf", unit.Index+1), unit.MIMEType(), unit.Data),
		}
		raw, err = e.client.StructuredCompletionParts(ctx, extractionSystemPrompt, parts,
			"page_extraction", "Structured reading of a page of course material", pageExtractionSchema)
	} else {
		raw, err = e.client.StructuredCompletion(ctx, extractionSystemPrompt, userPrompt,
			"page_extraction", "Structured reading of a page of course material", pageExtractionSchema)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyExtraction
	}

	var out PageExtraction
	if err := utils.ExtractJSONTo(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse extraction: %w", err)
	}
	return &out, nil
}
