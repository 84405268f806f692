package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedUnitsSingleBatchInOrder(t *testing.T) {
	fake := &fakeEmbedder{}
	svc := NewEmbeddingService(fake, model.EmbeddingDimensions, nil, utils.NewNopLogger())

	units := []ExtractedUnit{
		{Content: "first content", Summary: "first summary"},
		{Content: "second content"},
		{Content: "third content", Summary: "  "},
	}
	vectors, err := svc.EmbedUnits(context.Background(), units)
	require.NoError(t, err)

	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, []string{"first summary", "second content", "third content"}, fake.texts[0])
	require.Len(t, vectors, 3)
	for i, v := range vectors {
		assert.Equal(t, float32(1), v[i], "vector %d", i)
	}
}

func TestEmbedUnitsFailures(t *testing.T) {
	units := []ExtractedUnit{{Content: "a"}, {Content: "b"}}

	tests := []struct {
		name     string
		embedder *fakeEmbedder
		want     error
	}{
		{"empty result", &fakeEmbedder{vectors: [][]float32{}}, ErrNoEmbeddings},
		{"provider reports none", &fakeEmbedder{err: ai.ErrNoEmbeddings}, ErrNoEmbeddings},
		{"count mismatch", &fakeEmbedder{vectors: [][]float32{basis(0)}}, ErrEmbeddingCountMismatch},
		{"wrong dimension", &fakeEmbedder{vectors: [][]float32{basis(0), {1, 2, 3}}}, ErrEmbeddingDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewEmbeddingService(tt.embedder, model.EmbeddingDimensions, nil, utils.NewNopLogger())
			_, err := svc.EmbedUnits(context.Background(), units)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 1, tt.embedder.calls, "no retry")
		})
	}

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("connection reset")
		svc := NewEmbeddingService(&fakeEmbedder{err: boom}, 0, nil, utils.NewNopLogger())
		_, err := svc.EmbedUnits(context.Background(), units)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("no units", func(t *testing.T) {
		fake := &fakeEmbedder{}
		svc := NewEmbeddingService(fake, 0, nil, utils.NewNopLogger())
		_, err := svc.EmbedUnits(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoContent)
		assert.Zero(t, fake.calls)
	})
}

func TestEmbedQueryUsesCache(t *testing.T) {
	fake := &fakeEmbedder{}
	c := &memoryCache{}
	svc := NewEmbeddingService(fake, model.EmbeddingDimensions, c, utils.NewNopLogger())

	first, err := svc.EmbedQuery(context.Background(), "entropy")
	require.NoError(t, err)
	second, err := svc.EmbedQuery(context.Background(), "entropy")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, 1, c.sets)

	_, err = svc.EmbedQuery(context.Background(), "enthalpy")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls)
}
