package retrieval

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/study-ingest/handlers"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/response"
	"github.com/sahilchouksey/study-ingest/utils/validation"
)

// Search defaults when a request omits them
const (
	DefaultMatchCount     = 4
	DefaultMatchThreshold = 0.4
)

// Search modes
const (
	SearchModeVector = "vector"
	SearchModeText   = "text"
)

// RetrievalHandler exposes similarity search and practice sampling
type RetrievalHandler struct {
	retrieval *services.RetrievalService
	validator *validation.Validator
	log       *utils.Logger
}

// NewRetrievalHandler creates a new retrieval handler
func NewRetrievalHandler(retrieval *services.RetrievalService, log *utils.Logger) *RetrievalHandler {
	return &RetrievalHandler{
		retrieval: retrieval,
		validator: validation.NewValidator(),
		log:       log,
	}
}

// SearchRequest is either a text query or a precomputed embedding. Mode
// "text" runs a keyword search over unit content instead and needs a query.
type SearchRequest struct {
	Mode            string          `json:"mode" validate:"omitempty,oneof=vector text"`
	Query           string          `json:"query" validate:"required_without=Embedding,required_if=Mode text,max=4000"`
	Embedding       []float32       `json:"embedding" validate:"required_without=Query"`
	Filter          services.Filter `json:"filter"`
	Threshold       *float64        `json:"threshold" validate:"omitempty,gte=-1,lte=1"`
	Count           int             `json:"count" validate:"omitempty,min=1,max=100"`
	RetrieveContent *bool           `json:"retrieveContent"`
}

// Search handles POST /api/v1/search. Count defaults to 4 and threshold to
// 0.4. Content is returned unless retrieveContent is false.
func (h *RetrievalHandler) Search(c *fiber.Ctx) error {
	var req SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationMessage(err))
	}

	opts := services.MatchOptions{Count: req.Count, Threshold: DefaultMatchThreshold, RetrieveContent: true}
	if opts.Count == 0 {
		opts.Count = DefaultMatchCount
	}
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.RetrieveContent != nil {
		opts.RetrieveContent = *req.RetrieveContent
	}

	if req.Mode == SearchModeText {
		units, err := h.retrieval.SearchUnitsByContent(c.UserContext(), req.Query, req.Filter, services.ContentSearchOptions{
			Limit:           opts.Count,
			RetrieveContent: opts.RetrieveContent,
		})
		if err != nil {
			return handlers.ServiceError(c, h.log, err)
		}
		return response.Success(c, units)
	}

	var (
		results []services.MatchResult
		err     error
	)
	if req.Query != "" {
		results, err = h.retrieval.MatchText(c.UserContext(), req.Query, req.Filter, opts)
	} else {
		results, err = h.retrieval.MatchDocuments(c.UserContext(), req.Embedding, req.Filter, opts)
	}
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}
	return response.Success(c, results)
}

// PracticeSources handles POST /api/v1/practice/sources
func (h *RetrievalHandler) PracticeSources(c *fiber.Ctx) error {
	var req services.PracticeFilter
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, validation.FormatValidationMessage(err))
	}

	sources, err := h.retrieval.RetrieveRandomSources(c.UserContext(), req)
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}
	return response.Success(c, sources)
}

// FilePages handles GET /api/v1/files/:fileId/pages with either
// ?numbers=12,13 or ?chapter=3[&subChapter=1]
func (h *RetrievalHandler) FilePages(c *fiber.Ctx) error {
	fileID := c.Params("fileId")

	var (
		units []model.Unit
		err   error
	)
	switch {
	case c.Query("numbers") != "":
		pages, perr := parseInts(c.Query("numbers"))
		if perr != nil {
			return response.BadRequest(c, "numbers must be a comma separated list of integers")
		}
		units, err = h.retrieval.UnitsByPageNumbers(c.UserContext(), fileID, pages)
	case c.Query("chapter") != "":
		chapter, perr := strconv.Atoi(c.Query("chapter"))
		if perr != nil {
			return response.BadRequest(c, "chapter must be an integer")
		}
		var sub *int
		if raw := c.Query("subChapter"); raw != "" {
			v, perr := strconv.Atoi(raw)
			if perr != nil {
				return response.BadRequest(c, "subChapter must be an integer")
			}
			sub = &v
		}
		units, err = h.retrieval.UnitsByChapter(c.UserContext(), fileID, chapter, sub)
	default:
		return response.BadRequest(c, "either numbers or chapter is required")
	}
	if err != nil {
		return handlers.ServiceError(c, h.log, err)
	}
	return response.Success(c, units)
}

func parseInts(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
