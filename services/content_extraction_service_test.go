package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExtraction(extractor ai.Extractor, delay time.Duration) *ContentExtractionService {
	return NewContentExtractionService(extractor, delay, utils.NewNopLogger())
}

func TestExtractAllCarriesChapterForward(t *testing.T) {
	fake := newFakeExtractor()
	for i, ch := range []float64{2, 0, 0, 5} {
		fake.script[i] = ai.PageExtraction{IsContentPage: true, Content: "c", Chapter: ch}
	}

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(4)...))
	require.NoError(t, err)

	var chapters []float64
	for _, u := range res.Units {
		chapters = append(chapters, u.Chapter)
	}
	assert.Equal(t, []float64{2, 2, 2, 5}, chapters)
}

func TestExtractAllCarriesPageNumberForward(t *testing.T) {
	fake := newFakeExtractor()
	for i, p := range []float64{10, 0, 0} {
		fake.script[i] = ai.PageExtraction{IsContentPage: true, Content: "c", PageNumber: p}
	}

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(3)...))
	require.NoError(t, err)

	var numbers []float64
	for _, u := range res.Units {
		numbers = append(numbers, u.PageNumber)
	}
	assert.Equal(t, []float64{10, 11, 12}, numbers)
}

func TestExtractAllLeavesLeadingUnknownsAlone(t *testing.T) {
	fake := newFakeExtractor()
	fake.script[0] = ai.PageExtraction{IsContentPage: true, Content: "c"}
	fake.script[1] = ai.PageExtraction{IsContentPage: true, Content: "c", PageNumber: 4, Chapter: 1.1}

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(2)...))
	require.NoError(t, err)
	require.Len(t, res.Units, 2)
	assert.Zero(t, res.Units[0].PageNumber)
	assert.Zero(t, res.Units[0].Chapter)
	assert.Equal(t, 4.0, res.Units[1].PageNumber)
}

func TestExtractAllDropsNonContentUnits(t *testing.T) {
	fake := newFakeExtractor()
	fake.script[0] = ai.PageExtraction{IsContentPage: false, Content: "Cover"}
	fake.script[1] = ai.PageExtraction{IsContentPage: false, Content: "Contents", PageNumber: 99}
	fake.script[2] = ai.PageExtraction{IsContentPage: true, Content: "Intro", PageNumber: 1, Chapter: 1}
	fake.script[3] = ai.PageExtraction{IsContentPage: true, Content: "More"}

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(4)...))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Units, 2)
	assert.Equal(t, 2, res.Units[0].PageIndex)
	assert.Equal(t, 3, res.Units[1].PageIndex)
	// the skipped contents page does not feed the numbering
	assert.Equal(t, 2.0, res.Units[1].PageNumber)
	assert.Equal(t, 1.0, res.Units[1].Chapter)
}

func TestExtractAllRetriesOnceThenSucceeds(t *testing.T) {
	fake := newFakeExtractor()
	fake.failures[1] = 1

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(3)...))
	require.NoError(t, err)
	assert.Len(t, res.Units, 3)
	assert.Equal(t, 4, fake.Calls())
	assert.Equal(t, 2, fake.perUnit[1])
}

func TestExtractAllAbortsAfterSecondFailure(t *testing.T) {
	fake := newFakeExtractor()
	fake.failures[1] = 2

	res, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), unitSeq(pages(3)...))
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Nil(t, res)

	var apiErr *ai.APIError
	assert.True(t, errors.As(err, &apiErr))
	// unit 2 is never attempted
	assert.Equal(t, 3, fake.Calls())
}

func TestExtractAllBackoffHonoursCancellation(t *testing.T) {
	fake := newFakeExtractor()
	fake.failures[0] = 1

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := newExtraction(fake, time.Hour).ExtractAll(ctx, unitSeq(pages(1)...))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, fake.Calls())
}

func TestExtractAllPropagatesSequenceError(t *testing.T) {
	boom := errors.New("corrupt page")
	fake := newFakeExtractor()
	_, err := newExtraction(fake, time.Millisecond).ExtractAll(context.Background(), failingSeq(boom))
	require.ErrorIs(t, err, boom)
	assert.Zero(t, fake.Calls())
}

func TestSplitChapter(t *testing.T) {
	tests := []struct {
		in         float64
		chapter    *int
		subChapter *int
	}{
		{3.2, intPtr(3), intPtr(2)},
		{0, nil, nil},
		{7, intPtr(7), nil},
		{0.4, nil, intPtr(4)},
		{12.15, intPtr(12), intPtr(15)},
		{4.0, intPtr(4), nil},
	}

	for _, tt := range tests {
		chapter, sub := SplitChapter(tt.in)
		assert.Equal(t, tt.chapter, chapter, "chapter of %v", tt.in)
		assert.Equal(t, tt.subChapter, sub, "sub-chapter of %v", tt.in)
	}
}

func TestPageNumberOf(t *testing.T) {
	assert.Equal(t, intPtr(12), PageNumberOf(12))
	assert.Nil(t, PageNumberOf(0))
	assert.Nil(t, PageNumberOf(-3))
	assert.Nil(t, PageNumberOf(2.5))
}

func intPtr(n int) *int { return &n }
