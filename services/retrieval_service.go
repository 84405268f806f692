package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/lib/pq"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// RandomSampleSize is how many units a practice sample returns
	RandomSampleSize = 4
	// PageLookupLimit caps UnitsByPageNumbers
	PageLookupLimit = 4
	// ChapterLookupLimit caps UnitsByChapter
	ChapterLookupLimit = 8
	// DefaultContentSearchLimit is used when a content search omits its limit
	DefaultContentSearchLimit = 4
)

// Filter scopes a search. Files, courses and documents (unit ids) are a
// union. When all three are empty the search covers the whole bucket. A
// BucketID given together with explicit scopes also limits the union to that
// bucket, so a caller holding one bucket cannot reach ids from another.
type Filter struct {
	BucketID  string   `json:"bucketId"`
	Courses   []string `json:"courses"`
	Files     []string `json:"files"`
	Documents []string `json:"documents"`
}

func (f Filter) hasExplicitScope() bool {
	return len(f.Files) > 0 || len(f.Courses) > 0 || len(f.Documents) > 0
}

// PracticeFile selects a file and optionally some of its chapters
type PracticeFile struct {
	ID       string `json:"id" validate:"required"`
	Chapters []int  `json:"chapters"`
}

// PracticeFilter scopes a random sample
type PracticeFilter struct {
	Files     []PracticeFile `json:"files" validate:"dive"`
	StudyMode bool           `json:"studyMode"`
}

// PracticeSources is a random sample tagged with the caller's mode
type PracticeSources struct {
	StudyMode bool         `json:"studyMode"`
	Units     []model.Unit `json:"units"`
}

// MatchResult is a unit with its similarity to the query
type MatchResult struct {
	model.Unit
	Similarity float64 `json:"similarity"`
}

// MatchOptions tunes a similarity search
type MatchOptions struct {
	Threshold       float64 // compared as similarity >= Threshold; may be negative
	Count           int     // at most this many results
	RetrieveContent bool    // false blanks Unit.Content
}

// RetrievalService answers read-only queries over persisted units
type RetrievalService struct {
	db         *gorm.DB
	embeddings *EmbeddingService
	log        *utils.Logger
}

// NewRetrievalService creates the retrieval service. embeddings is only
// needed by MatchText.
func NewRetrievalService(db *gorm.DB, embeddings *EmbeddingService, log *utils.Logger) *RetrievalService {
	return &RetrievalService{db: db, embeddings: embeddings, log: log}
}

func (s *RetrievalService) isPostgres() bool {
	return s.db.Dialector.Name() == "postgres"
}

// anyOf renders "column matches one of ids" for the active dialect
func (s *RetrievalService) anyOf(column string, ids []string) (string, interface{}) {
	if s.isPostgres() {
		return column + " = ANY(?)", pq.Array(ids)
	}
	return column + " IN ?", ids
}

// scope restricts a unit query to the filter
func (s *RetrievalService) scope(db *gorm.DB, filter Filter) (*gorm.DB, error) {
	bucketCourses := "course_id IN (SELECT id FROM courses WHERE bucket_id = ?)"

	if !filter.hasExplicitScope() {
		if filter.BucketID == "" {
			return nil, fmt.Errorf("%w: bucketId, courses, files or documents is required", ErrInvalidFilter)
		}
		return db.Where(bucketCourses, filter.BucketID), nil
	}

	var (
		conds []string
		args  []interface{}
	)
	add := func(column string, ids []string) {
		if len(ids) == 0 {
			return
		}
		cond, arg := s.anyOf(column, ids)
		conds = append(conds, cond)
		args = append(args, arg)
	}
	add("file_id", filter.Files)
	add("course_id", filter.Courses)
	add("id", filter.Documents)

	db = db.Where("("+strings.Join(conds, " OR ")+")", args...)
	if filter.BucketID != "" {
		db = db.Where(bucketCourses, filter.BucketID)
	}
	return db, nil
}

// MatchDocuments returns up to opts.Count units in scope whose cosine
// similarity to queryEmbedding is at least opts.Threshold, most similar first.
// Unknown ids simply match nothing.
func (s *RetrievalService) MatchDocuments(ctx context.Context, queryEmbedding []float32, filter Filter, opts MatchOptions) ([]MatchResult, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("%w: match count must be positive", ErrInvalidFilter)
	}
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrInvalidFilter)
	}

	query, err := s.scope(s.db.WithContext(ctx).Model(&model.Unit{}), filter)
	if err != nil {
		return nil, err
	}

	var results []MatchResult
	if s.isPostgres() {
		results, err = s.matchPgvector(query, model.Vector(queryEmbedding), opts)
	} else {
		results, err = s.matchInMemory(query, queryEmbedding, opts)
	}
	if err != nil {
		return nil, err
	}

	if !opts.RetrieveContent {
		for i := range results {
			results[i].Content = ""
		}
	}
	return results, nil
}

func (s *RetrievalService) matchPgvector(query *gorm.DB, q model.Vector, opts MatchOptions) ([]MatchResult, error) {
	similarity := "1 - (embedding <=> CAST(? AS vector))"

	var results []MatchResult
	err := query.
		Select("units.*, "+similarity+" AS similarity", q).
		Where(similarity+" >= ?", q, opts.Threshold).
		Order("similarity DESC").
		Limit(opts.Count).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return results, nil
}

func (s *RetrievalService) matchInMemory(query *gorm.DB, q []float32, opts MatchOptions) ([]MatchResult, error) {
	var units []model.Unit
	if err := query.Find(&units).Error; err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}

	results := make([]MatchResult, 0, len(units))
	for _, u := range units {
		score := model.CosineSimilarity(q, u.Embedding)
		if score >= opts.Threshold {
			results = append(results, MatchResult{Unit: u, Similarity: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.Count {
		results = results[:opts.Count]
	}
	return results, nil
}

// MatchText embeds text and runs MatchDocuments with it
func (s *RetrievalService) MatchText(ctx context.Context, text string, filter Filter, opts MatchOptions) ([]MatchResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidFilter)
	}
	embedding, err := s.embeddings.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return s.MatchDocuments(ctx, embedding, filter, opts)
}

// RetrieveRandomSources samples up to RandomSampleSize units from the listed
// files. A file with chapters only contributes units from those chapters.
// StudyMode is carried through to the result and does not change the sample.
func (s *RetrievalService) RetrieveRandomSources(ctx context.Context, filter PracticeFilter) (*PracticeSources, error) {
	sources := &PracticeSources{StudyMode: filter.StudyMode, Units: []model.Unit{}}
	if len(filter.Files) == 0 {
		return sources, nil
	}

	var (
		conds []string
		args  []interface{}
	)
	for _, f := range filter.Files {
		if len(f.Chapters) == 0 {
			conds = append(conds, "file_id = ?")
			args = append(args, f.ID)
			continue
		}
		conds = append(conds, "(file_id = ? AND chapter IN ?)")
		args = append(args, f.ID, f.Chapters)
	}

	err := s.db.WithContext(ctx).
		Omit("embedding").
		Where("("+strings.Join(conds, " OR ")+")", args...).
		Order("RANDOM()").
		Limit(RandomSampleSize).
		Find(&sources.Units).Error
	if err != nil {
		return nil, fmt.Errorf("random sampling failed: %w", err)
	}
	return sources, nil
}

// UnitsByPageNumbers returns units of a file with the given printed page
// numbers, in page order
func (s *RetrievalService) UnitsByPageNumbers(ctx context.Context, fileID string, pageNumbers []int) ([]model.Unit, error) {
	units := []model.Unit{}
	if len(pageNumbers) == 0 {
		return units, nil
	}
	err := s.db.WithContext(ctx).
		Omit("embedding").
		Where("file_id = ? AND page_number IN ?", fileID, pageNumbers).
		Order("page_number ASC").
		Limit(PageLookupLimit).
		Find(&units).Error
	return units, err
}

// UnitsByChapter returns the first units of a chapter, optionally narrowed to
// a sub-chapter, in document order
func (s *RetrievalService) UnitsByChapter(ctx context.Context, fileID string, chapter int, subChapter *int) ([]model.Unit, error) {
	query := s.db.WithContext(ctx).
		Omit("embedding").
		Where("file_id = ? AND chapter = ?", fileID, chapter)
	if subChapter != nil {
		query = query.Where("sub_chapter = ?", *subChapter)
	}

	units := []model.Unit{}
	err := query.Order("page_index ASC").Limit(ChapterLookupLimit).Find(&units).Error
	return units, err
}

// ContentSearchOptions tunes SearchUnitsByContent
type ContentSearchOptions struct {
	Limit           int  // defaults to DefaultContentSearchLimit
	RetrieveContent bool // false blanks Unit.Content
}

// SearchUnitsByContent returns units in scope whose content contains any of
// the words of query. Postgres uses English full-text search ranked by
// ts_rank; other dialects fall back to a case-insensitive substring match.
func (s *RetrievalService) SearchUnitsByContent(ctx context.Context, query string, filter Filter, opts ContentSearchOptions) ([]model.Unit, error) {
	words := searchWords(query)
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidFilter)
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultContentSearchLimit
	}

	db, err := s.scope(s.db.WithContext(ctx).Model(&model.Unit{}).Omit("embedding"), filter)
	if err != nil {
		return nil, err
	}

	if s.isPostgres() {
		tsQuery := strings.Join(words, " | ")
		db = db.Where("to_tsvector('english', content) @@ to_tsquery('english', ?)", tsQuery).
			Order(clause.OrderBy{Expression: clause.Expr{
				SQL:                "ts_rank(to_tsvector('english', content), to_tsquery('english', ?)) DESC",
				Vars:               []interface{}{tsQuery},
				WithoutParentheses: true,
			}})
	} else {
		conds := make([]string, len(words))
		args := make([]interface{}, len(words))
		for i, w := range words {
			conds[i] = "LOWER(content) LIKE ?"
			args[i] = "%" + w + "%"
		}
		db = db.Where("("+strings.Join(conds, " OR ")+")", args...).Order("page_index ASC")
	}

	units := []model.Unit{}
	if err := db.Limit(opts.Limit).Find(&units).Error; err != nil {
		return nil, fmt.Errorf("content search failed: %w", err)
	}
	if !opts.RetrieveContent {
		for i := range units {
			units[i].Content = ""
		}
	}
	return units, nil
}

// searchWords lowercases query and keeps its letter and digit runs, which
// also strips tsquery operators
func searchWords(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
