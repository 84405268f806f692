package services

import (
	"context"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type corpus struct {
	db        *gorm.DB
	svc       *RetrievalService
	bucket    *model.Bucket
	courseA   *model.Course
	courseB   *model.Course
	fileA1    string
	fileA2    string
	fileB1    string
	unitsByID map[string]model.Unit
}

func seedFile(t *testing.T, db *gorm.DB, course *model.Course, chapters []int, axes []int) (string, []model.Unit) {
	t.Helper()
	file := model.File{ID: uuid.NewString(), CourseID: course.ID, Name: "f-" + uuid.NewString()[:6] + ".pdf", Size: 10}
	require.NoError(t, db.Create(&file).Error)

	var units []model.Unit
	for i, axis := range axes {
		u := model.Unit{
			ID:         uuid.NewString(),
			FileID:     file.ID,
			FileName:   file.Name,
			CourseID:   course.ID,
			CourseName: course.Name,
			Content:    "content",
			Embedding:  basis(axis),
			PageIndex:  i,
			PageNumber: intPtr(i + 1),
		}
		if chapters[i] != 0 {
			u.Chapter = intPtr(chapters[i])
		}
		units = append(units, u)
	}
	require.NoError(t, db.Create(&units).Error)
	return file.ID, units
}

// newCorpus stores three files over two courses of one bucket. Every unit
// points along its own axis, so a basis query scores exactly one unit 1.
func newCorpus(t *testing.T) *corpus {
	t.Helper()
	db := openTestDB(t)
	c := &corpus{db: db, unitsByID: map[string]model.Unit{}}
	c.bucket, c.courseA = seedCourse(t, db, 0, 1<<20)
	c.courseB = &model.Course{ID: uuid.NewString(), BucketID: c.bucket.ID, Name: "Optics"}
	require.NoError(t, db.Create(c.courseB).Error)

	var all []model.Unit
	var units []model.Unit
	c.fileA1, units = seedFile(t, db, c.courseA, []int{1, 1, 2, 3}, []int{0, 1, 2, 3})
	all = append(all, units...)
	c.fileA2, units = seedFile(t, db, c.courseA, []int{1, 2}, []int{4, 5})
	all = append(all, units...)
	c.fileB1, units = seedFile(t, db, c.courseB, []int{3, 3, 0}, []int{6, 7, 8})
	all = append(all, units...)
	for _, u := range all {
		c.unitsByID[u.ID] = u
	}

	// another bucket that must never leak into results
	_, otherCourse := seedCourse(t, db, 0, 1<<20)
	seedFile(t, db, otherCourse, []int{1}, []int{0})

	c.svc = NewRetrievalService(db, nil, utils.NewNopLogger())
	return c
}

func allOpts(count int) MatchOptions {
	return MatchOptions{Threshold: -1, Count: count, RetrieveContent: true}
}

func TestMatchDocumentsScopedByFiles(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(0), Filter{Files: []string{c.fileA2}}, allOpts(50))
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, c.fileA2, r.FileID)
	}
}

func TestMatchDocumentsScopedByCourses(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(6), Filter{Courses: []string{c.courseB.ID}}, allOpts(50))
	require.NoError(t, err)
	require.Len(t, res, 3)
	for _, r := range res {
		assert.Equal(t, c.courseB.ID, r.CourseID)
	}
	assert.Equal(t, c.fileB1, res[0].FileID)
	assert.InDelta(t, 1.0, res[0].Similarity, 1e-6)
}

func TestMatchDocumentsUnionOfScopes(t *testing.T) {
	c := newCorpus(t)
	var doc string
	for id, u := range c.unitsByID {
		if u.FileID == c.fileA1 && u.PageIndex == 0 {
			doc = id
		}
	}

	res, err := c.svc.MatchDocuments(context.Background(), basis(0), Filter{
		Files:     []string{c.fileA2},
		Courses:   []string{c.courseB.ID},
		Documents: []string{doc},
	}, allOpts(50))
	require.NoError(t, err)
	assert.Len(t, res, 2+3+1)
	assert.Equal(t, doc, res[0].ID)
}

func TestMatchDocumentsBucketFallback(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(0), Filter{BucketID: c.bucket.ID}, allOpts(50))
	require.NoError(t, err)
	assert.Len(t, res, 9)
	for _, r := range res {
		assert.Contains(t, []string{c.courseA.ID, c.courseB.ID}, r.CourseID)
	}

	_, err = c.svc.MatchDocuments(context.Background(), basis(0), Filter{}, allOpts(50))
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMatchDocumentsBucketNarrowsExplicitScope(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(0), Filter{
		BucketID: uuid.NewString(),
		Files:    []string{c.fileA1},
	}, allOpts(50))
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestMatchDocumentsThreshold(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()

	// halfway between two stored units, cosine 0.707 to each
	query := basis(0)
	query[1] = 1
	res, err := c.svc.MatchDocuments(ctx, query, Filter{BucketID: c.bucket.ID}, MatchOptions{Threshold: 0.99, Count: 10})
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = c.svc.MatchDocuments(ctx, query, Filter{BucketID: c.bucket.ID}, MatchOptions{Threshold: 0.7, Count: 10})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.InDelta(t, 1/math.Sqrt2, res[0].Similarity, 1e-6)

	// threshold is inclusive
	res, err = c.svc.MatchDocuments(ctx, basis(2), Filter{Files: []string{c.fileA1}}, MatchOptions{Threshold: 1, Count: 10})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestMatchDocumentsNegativeThreshold(t *testing.T) {
	c := newCorpus(t)
	opposite := make(model.Vector, model.EmbeddingDimensions)
	opposite[0] = -1

	res, err := c.svc.MatchDocuments(context.Background(), opposite, Filter{Files: []string{c.fileA1}}, allOpts(10))
	require.NoError(t, err)
	require.Len(t, res, 4)
	// the unit pointing the other way scores -1 and still comes back, last
	assert.InDelta(t, -1.0, res[3].Similarity, 1e-6)
	assert.Equal(t, 0, res[3].PageIndex)

	res, err = c.svc.MatchDocuments(context.Background(), opposite, Filter{Files: []string{c.fileA1}}, MatchOptions{Threshold: -0.5, Count: 10})
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestMatchDocumentsCountAndOrder(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(3), Filter{BucketID: c.bucket.ID}, allOpts(1))
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, c.fileA1, res[0].FileID)
	assert.Equal(t, 3, res[0].PageIndex)

	res, err = c.svc.MatchDocuments(context.Background(), basis(3), Filter{BucketID: c.bucket.ID}, allOpts(5))
	require.NoError(t, err)
	require.Len(t, res, 5)
	for i := 1; i < len(res); i++ {
		assert.GreaterOrEqual(t, res[i-1].Similarity, res[i].Similarity)
	}

	_, err = c.svc.MatchDocuments(context.Background(), basis(3), Filter{BucketID: c.bucket.ID}, allOpts(0))
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestMatchDocumentsUnknownIDsAndContent(t *testing.T) {
	c := newCorpus(t)
	res, err := c.svc.MatchDocuments(context.Background(), basis(0), Filter{Files: []string{uuid.NewString()}}, allOpts(5))
	require.NoError(t, err)
	assert.Empty(t, res)

	res, err = c.svc.MatchDocuments(context.Background(), basis(0), Filter{Files: []string{c.fileA1}}, MatchOptions{Threshold: -1, Count: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res)
	assert.Empty(t, res[0].Content)
}

func TestMatchText(t *testing.T) {
	c := newCorpus(t)
	fake := &fakeEmbedder{}
	c.svc = NewRetrievalService(c.db, NewEmbeddingService(fake, 0, nil, utils.NewNopLogger()), utils.NewNopLogger())

	res, err := c.svc.MatchText(context.Background(), "what is heat", Filter{Files: []string{c.fileA1}}, allOpts(1))
	require.NoError(t, err)
	require.Len(t, res, 1)
	// the fake embeds a single text along axis 0
	assert.Equal(t, 0, res[0].PageIndex)

	_, err = c.svc.MatchText(context.Background(), "  ", Filter{Files: []string{c.fileA1}}, allOpts(1))
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestRetrieveRandomSourcesEmptyRunsNoQuery(t *testing.T) {
	c := newCorpus(t)
	queries := countQueries(t, c.db)

	res, err := c.svc.RetrieveRandomSources(context.Background(), PracticeFilter{StudyMode: true})
	require.NoError(t, err)
	assert.Empty(t, res.Units)
	assert.NotNil(t, res.Units)
	assert.True(t, res.StudyMode)
	assert.Zero(t, *queries)
}

func TestRetrieveRandomSourcesChapterConstraint(t *testing.T) {
	c := newCorpus(t)
	for i := 0; i < 10; i++ {
		res, err := c.svc.RetrieveRandomSources(context.Background(), PracticeFilter{
			Files: []PracticeFile{{ID: c.fileA1, Chapters: []int{1}}},
		})
		require.NoError(t, err)
		require.Len(t, res.Units, 2)
		for _, u := range res.Units {
			assert.Equal(t, c.fileA1, u.FileID)
			require.NotNil(t, u.Chapter)
			assert.Equal(t, 1, *u.Chapter)
		}
	}
}

func TestRetrieveRandomSourcesMixedFiles(t *testing.T) {
	c := newCorpus(t)
	filter := PracticeFilter{Files: []PracticeFile{
		{ID: c.fileA1, Chapters: []int{3}},
		{ID: c.fileB1},
	}}

	seen := map[string]bool{}
	for i := 0; i < 30; i++ {
		res, err := c.svc.RetrieveRandomSources(context.Background(), filter)
		require.NoError(t, err)
		require.Len(t, res.Units, RandomSampleSize)
		assert.False(t, res.StudyMode)
		for _, u := range res.Units {
			seen[u.ID] = true
			if u.FileID == c.fileA1 {
				require.NotNil(t, u.Chapter)
				assert.Equal(t, 3, *u.Chapter)
			} else {
				assert.Equal(t, c.fileB1, u.FileID)
			}
		}
	}
	// one eligible unit from A1 plus all three of B1, including the one without a chapter
	assert.Len(t, seen, 4)
}

func TestRetrieveRandomSourcesStudyModeDoesNotFilter(t *testing.T) {
	c := newCorpus(t)
	files := []PracticeFile{{ID: c.fileA2}}

	plain, err := c.svc.RetrieveRandomSources(context.Background(), PracticeFilter{Files: files})
	require.NoError(t, err)
	study, err := c.svc.RetrieveRandomSources(context.Background(), PracticeFilter{Files: files, StudyMode: true})
	require.NoError(t, err)

	assert.True(t, study.StudyMode)
	assert.Len(t, study.Units, len(plain.Units))
}

func TestUnitsByPageNumbersAndChapter(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()

	units, err := c.svc.UnitsByPageNumbers(ctx, c.fileA1, []int{3, 1, 99})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 1, *units[0].PageNumber)
	assert.Equal(t, 3, *units[1].PageNumber)
	assert.Nil(t, units[0].Embedding)

	units, err = c.svc.UnitsByChapter(ctx, c.fileA1, 1, nil)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, 0, units[0].PageIndex)
	assert.Equal(t, 1, units[1].PageIndex)

	units, err = c.svc.UnitsByChapter(ctx, c.fileA1, 1, intPtr(4))
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestSearchUnitsByContent(t *testing.T) {
	c := newCorpus(t)
	ctx := context.Background()
	setContent := func(content string, query string, args ...interface{}) {
		require.NoError(t, c.db.Model(&model.Unit{}).Where(query, args...).Update("content", content).Error)
	}
	setContent("Heat flows from hot to cold", "file_id = ? AND page_index = 0", c.fileA1)
	setContent("Light refracts at a boundary", "file_id = ? AND page_index = 0", c.fileB1)
	setContent("Heat death of the universe", "course_id NOT IN ?", []string{c.courseA.ID, c.courseB.ID})

	res, err := c.svc.SearchUnitsByContent(ctx, "HEAT, light!", Filter{BucketID: c.bucket.ID}, ContentSearchOptions{Limit: 10, RetrieveContent: true})
	require.NoError(t, err)
	require.Len(t, res, 2)
	var files []string
	for _, u := range res {
		files = append(files, u.FileID)
		assert.Empty(t, u.Embedding)
	}
	assert.ElementsMatch(t, []string{c.fileA1, c.fileB1}, files)

	res, err = c.svc.SearchUnitsByContent(ctx, "heat light", Filter{Files: []string{c.fileB1}}, ContentSearchOptions{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, c.fileB1, res[0].FileID)
	assert.Empty(t, res[0].Content)

	res, err = c.svc.SearchUnitsByContent(ctx, "heat light", Filter{BucketID: c.bucket.ID}, ContentSearchOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res, 1)

	_, err = c.svc.SearchUnitsByContent(ctx, " & | ! ", Filter{BucketID: c.bucket.ID}, ContentSearchOptions{})
	require.ErrorIs(t, err, ErrInvalidFilter)

	_, err = c.svc.SearchUnitsByContent(ctx, "heat", Filter{}, ContentSearchOptions{})
	require.ErrorIs(t, err, ErrInvalidFilter)
}
