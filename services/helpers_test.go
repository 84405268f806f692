package services

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/database"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/utils/cache"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedCourse(t *testing.T, db *gorm.DB, size, maxSize int64) (*model.Bucket, *model.Course) {
	t.Helper()
	bucket := &model.Bucket{ID: uuid.NewString(), Name: "bucket-" + uuid.NewString()[:8], Size: size, MaxSize: maxSize}
	require.NoError(t, db.Create(bucket).Error)
	course := &model.Course{ID: uuid.NewString(), BucketID: bucket.ID, Name: "Thermodynamics"}
	require.NoError(t, db.Create(course).Error)
	return bucket, course
}

func bucketSize(t *testing.T, db *gorm.DB, bucketID string) int64 {
	t.Helper()
	var b model.Bucket
	require.NoError(t, db.First(&b, "id = ?", bucketID).Error)
	return b.Size
}

func countRows(t *testing.T, db *gorm.DB, m interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(m).Where(query, args...).Count(&n).Error)
	return n
}

// failUnitBatch makes the nth insert into units fail
func failUnitBatch(t *testing.T, db *gorm.DB, n int) {
	t.Helper()
	calls := 0
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_unit_batch", func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != "units" {
			return
		}
		calls++
		if calls == n {
			tx.AddError(errors.New("injected batch failure"))
		}
	})
	require.NoError(t, err)
}

// countQueries counts SELECTs issued through db
func countQueries(t *testing.T, db *gorm.DB) *int {
	t.Helper()
	queries := 0
	err := db.Callback().Query().Before("gorm:query").Register("test:count_queries", func(*gorm.DB) {
		queries++
	})
	require.NoError(t, err)
	return &queries
}

// basis returns a unit vector along axis k
func basis(k int) model.Vector {
	v := make(model.Vector, model.EmbeddingDimensions)
	v[k%model.EmbeddingDimensions] = 1
	return v
}

func unitSeq(units ...splitter.ContentUnit) iter.Seq2[splitter.ContentUnit, error] {
	return func(yield func(splitter.ContentUnit, error) bool) {
		for _, u := range units {
			if !yield(u, nil) {
				return
			}
		}
	}
}

func failingSeq(err error) iter.Seq2[splitter.ContentUnit, error] {
	return func(yield func(splitter.ContentUnit, error) bool) {
		yield(splitter.ContentUnit{}, err)
	}
}

func pages(n int) []splitter.ContentUnit {
	out := make([]splitter.ContentUnit, n)
	for i := range out {
		out[i] = splitter.ContentUnit{Index: i, Kind: splitter.UnitKindPage, Text: "page text"}
	}
	return out
}

// fakeExtractor answers from a script keyed by unit index. Units without a
// script entry are content pages echoing their text.
type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	perUnit  map[int]int
	seen     map[int]splitter.ContentUnit
	script   map[int]ai.PageExtraction
	failures map[int]int // unit index -> number of leading failures
	// before runs ahead of every call; a non-nil error is returned as is
	before func(ctx context.Context, unit splitter.ContentUnit) error
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		perUnit:  map[int]int{},
		seen:     map[int]splitter.ContentUnit{},
		script:   map[int]ai.PageExtraction{},
		failures: map[int]int{},
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, unit splitter.ContentUnit) (*ai.PageExtraction, error) {
	if f.before != nil {
		if err := f.before(ctx, unit); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.perUnit[unit.Index]++
	f.seen[unit.Index] = unit

	if f.perUnit[unit.Index] <= f.failures[unit.Index] {
		return nil, &ai.APIError{StatusCode: 503, Body: "overloaded"}
	}
	if e, ok := f.script[unit.Index]; ok {
		return &e, nil
	}
	return &ai.PageExtraction{
		IsContentPage: true,
		Summary:       "summary of " + unit.Text,
		Content:       unit.Text,
	}, nil
}

func (f *fakeExtractor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEmbedder returns basis vectors, or whatever vectors/err are set
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   int
	texts   [][]string
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, texts)
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = basis(i)
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

// memoryCache is an in-process cache.Cache
type memoryCache struct {
	mu     sync.Mutex
	values map[string][]float32
	sets   int
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return cache.ErrNotFound
	}
	*(dest.(*[]float32)) = append([]float32(nil), v...)
	return nil
}

func (c *memoryCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = map[string][]float32{}
	}
	c.values[key] = value.([]float32)
	c.sets++
	return nil
}
