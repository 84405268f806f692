package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/sahilchouksey/study-ingest/utils/cache"
)

// QueryEmbeddingTTL is how long search query embeddings stay cached
const QueryEmbeddingTTL = 24 * time.Hour

// EmbeddingService turns extracted units and search queries into vectors
type EmbeddingService struct {
	embedder   ai.Embedder
	dimensions int
	cache      cache.Cache
	log        *utils.Logger
}

// NewEmbeddingService creates the service. queryCache may be nil.
func NewEmbeddingService(embedder ai.Embedder, dimensions int, queryCache cache.Cache, log *utils.Logger) *EmbeddingService {
	if dimensions <= 0 {
		dimensions = model.EmbeddingDimensions
	}
	return &EmbeddingService{
		embedder:   embedder,
		dimensions: dimensions,
		cache:      queryCache,
		log:        log,
	}
}

// EmbedUnits embeds every unit of a document in a single batched call.
// Vector i belongs to unit i.
func (s *EmbeddingService) EmbedUnits(ctx context.Context, units []ExtractedUnit) ([]model.Vector, error) {
	if len(units) == 0 {
		return nil, ErrNoContent
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.EmbeddingText()
	}

	start := time.Now()
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if errors.Is(err, ai.ErrNoEmbeddings) {
			return nil, ErrNoEmbeddings
		}
		return nil, fmt.Errorf("failed to embed units: %w", err)
	}
	if len(vectors) == 0 {
		return nil, ErrNoEmbeddings
	}
	if len(vectors) != len(units) {
		return nil, fmt.Errorf("%w: got %d for %d units", ErrEmbeddingCountMismatch, len(vectors), len(units))
	}

	out := make([]model.Vector, len(vectors))
	for i, v := range vectors {
		if len(v) != s.dimensions {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrEmbeddingDimension, i, len(v), s.dimensions)
		}
		out[i] = model.Vector(v)
	}

	s.log.Debug("embedded units", "count", len(out), "model", s.embedder.Model(), "duration", time.Since(start))
	return out, nil
}

// EmbedQuery embeds a single search query, using the cache when configured
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) (model.Vector, error) {
	key := s.queryCacheKey(text)

	if s.cache != nil {
		var cached []float32
		if err := s.cache.GetJSON(ctx, key, &cached); err == nil && len(cached) == s.dimensions {
			return model.Vector(cached), nil
		} else if err != nil && !errors.Is(err, cache.ErrNotFound) {
			s.log.Warn("query embedding cache read failed", "error", err)
		}
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, ErrNoEmbeddings
	}
	if len(vectors[0]) != s.dimensions {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrEmbeddingDimension, len(vectors[0]), s.dimensions)
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, key, vectors[0], QueryEmbeddingTTL); err != nil {
			s.log.Warn("query embedding cache write failed", "error", err)
		}
	}
	return model.Vector(vectors[0]), nil
}

func (s *EmbeddingService) queryCacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.embedder.Model() + "\x00" + text))
	return "embedding:query:" + hex.EncodeToString(sum[:])
}
