package services

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/ai"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/services/splitter/splittertest"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type pipelineFixture struct {
	db        *gorm.DB
	store     *storage.LocalStorage
	extractor *fakeExtractor
	embedder  *fakeEmbedder
	tasks     *TaskService
	ingest    *IngestService
	bucket    *model.Bucket
	course    *model.Course
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	db := openTestDB(t)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	log := utils.NewNopLogger()
	f := &pipelineFixture{
		db:        db,
		store:     store,
		extractor: newFakeExtractor(),
		embedder:  &fakeEmbedder{},
	}
	f.bucket, f.course = seedCourse(t, db, 1000, 1<<20)
	f.tasks = NewTaskService(db, store, log)
	f.ingest = NewIngestService(IngestDeps{
		Tasks:       f.tasks,
		Storage:     store,
		Splitter:    splitter.New(splitter.Config{}),
		Extraction:  NewContentExtractionService(f.extractor, time.Millisecond, log),
		Embeddings:  NewEmbeddingService(f.embedder, model.EmbeddingDimensions, nil, log),
		Persistence: NewPersistenceService(db, store, log),
	}, log)
	return f
}

// upload reserves a task and stores its source like a client would
func (f *pipelineFixture) upload(t *testing.T, filename string, data []byte) *model.Task {
	t.Helper()
	ctx := context.Background()
	task, err := f.tasks.ReserveTask(ctx, ReserveTaskRequest{
		CourseID: f.course.ID, Filename: filename, FileSize: int64(len(data)),
	})
	require.NoError(t, err)
	require.NoError(t, f.store.Put(ctx, task.ObjectKey(), bytes.NewReader(data), storage.ContentType(filename)))
	return task
}

func (f *pipelineFixture) process(task *model.Task) error {
	return f.ingest.Process(context.Background(), queue.TaskMessage{
		TaskID: task.ID, CourseID: task.CourseID, Filename: task.Filename, FileSize: task.FileSize,
	})
}

func (f *pipelineFixture) assertFailedCleanly(t *testing.T, task *model.Task) {
	t.Helper()
	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	assert.EqualValues(t, 1000, bucketSize(t, f.db, f.bucket.ID), "quota returns to its pre-task value")
	assert.Zero(t, countRows(t, f.db, &model.File{}, "id = ?", task.ID))
	assert.Zero(t, countRows(t, f.db, &model.Unit{}, "file_id = ?", task.ID))

	_, err = f.store.Download(context.Background(), task.ObjectKey())
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestProcessPDFSuccess(t *testing.T) {
	f := newPipeline(t)
	f.extractor.script[0] = ai.PageExtraction{IsContentPage: false, Content: "Cover"}
	f.extractor.script[1] = ai.PageExtraction{IsContentPage: true, Content: "Heat", Summary: "About heat", Chapter: 1.1, PageNumber: 1}
	f.extractor.script[2] = ai.PageExtraction{IsContentPage: true, Content: "Work", Summary: "About work"}

	pdf := splittertest.BuildPDF("Cover", "Heat", "Work")
	task := f.upload(t, "thermo.pdf", pdf)
	assert.EqualValues(t, 1000+len(pdf), bucketSize(t, f.db, f.bucket.ID))

	require.NoError(t, f.process(task))

	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFinished, got.Status)
	assert.Contains(t, string(got.Metadata), `"content_units":2`)
	assert.Contains(t, string(got.Metadata), `"skipped_units":1`)

	// a successful run keeps exactly fileSize reserved
	assert.EqualValues(t, 1000+len(pdf), bucketSize(t, f.db, f.bucket.ID))

	var units []model.Unit
	require.NoError(t, f.db.Where("file_id = ?", task.ID).Order("page_index").Find(&units).Error)
	require.Len(t, units, 2)
	assert.Equal(t, 1, units[0].PageIndex)
	assert.Equal(t, 2, units[1].PageIndex)
	assert.Equal(t, "Work", units[1].Content)
	require.NotNil(t, units[1].PageNumber)
	assert.Equal(t, 2, *units[1].PageNumber)
	require.NotNil(t, units[1].SubChapter)
	assert.Equal(t, 1, *units[1].SubChapter)

	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, []string{"About heat", "About work"}, f.embedder.texts[0])
}

func TestProcessTextDocument(t *testing.T) {
	f := newPipeline(t)
	task := f.upload(t, "notes.md", []byte("# Entropy\n\nEntropy never decreases.\n\n## Notes\n\nClosed systems only."))

	require.NoError(t, f.process(task))
	assert.EqualValues(t, 1, countRows(t, f.db, &model.File{}, "id = ?", task.ID))
	assert.Positive(t, countRows(t, f.db, &model.Unit{}, "file_id = ?", task.ID))
}

func TestProcessRejectsTooManyPagesBeforeExtraction(t *testing.T) {
	f := newPipeline(t)
	task := f.upload(t, "huge.pdf", splittertest.BuildBlankPDF(251))

	err := f.process(task)
	require.ErrorIs(t, err, splitter.ErrTooManyPages)
	assert.Contains(t, err.Error(), "251")
	assert.Zero(t, f.extractor.Calls())
	assert.Zero(t, f.embedder.calls)
	f.assertFailedCleanly(t, task)
}

func TestProcessExtractionFailsTwice(t *testing.T) {
	f := newPipeline(t)
	f.extractor.failures[1] = 2

	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one", "two", "three"))
	err := f.process(task)
	require.ErrorIs(t, err, ErrExtractionFailed)
	assert.Zero(t, f.embedder.calls)
	f.assertFailedCleanly(t, task)
}

func TestProcessExtractionRecoversOnRetry(t *testing.T) {
	f := newPipeline(t)
	f.extractor.failures[1] = 1

	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one", "two", "three"))
	require.NoError(t, f.process(task))

	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFinished, got.Status)
	assert.EqualValues(t, 3, countRows(t, f.db, &model.Unit{}, "file_id = ?", task.ID))
}

func TestProcessEmbeddingFailure(t *testing.T) {
	f := newPipeline(t)
	f.embedder.err = errors.New("embedding endpoint down")

	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one"))
	require.Error(t, f.process(task))
	assert.Equal(t, 1, f.embedder.calls)
	f.assertFailedCleanly(t, task)
}

func TestProcessPersistenceFailure(t *testing.T) {
	f := newPipeline(t)
	failUnitBatch(t, f.db, 1)

	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one", "two"))
	require.Error(t, f.process(task))
	f.assertFailedCleanly(t, task)
}

func TestProcessOnlyNonContentPages(t *testing.T) {
	f := newPipeline(t)
	f.extractor.script[0] = ai.PageExtraction{IsContentPage: false}

	task := f.upload(t, "cover.pdf", splittertest.BuildPDF("Cover"))
	require.ErrorIs(t, f.process(task), ErrNoContent)
	f.assertFailedCleanly(t, task)
}

func TestProcessMissingSourceObject(t *testing.T) {
	f := newPipeline(t)
	task, err := f.tasks.ReserveTask(context.Background(), ReserveTaskRequest{
		CourseID: f.course.ID, Filename: "ghost.pdf", FileSize: 10,
	})
	require.NoError(t, err)

	require.ErrorIs(t, f.process(task), storage.ErrObjectNotFound)
	assert.EqualValues(t, 1000, bucketSize(t, f.db, f.bucket.ID))
}

func TestProcessTwiceIsRejected(t *testing.T) {
	f := newPipeline(t)
	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one"))
	require.NoError(t, f.process(task))

	require.ErrorIs(t, f.process(task), ErrInvalidTransition)
	assert.EqualValues(t, 1, countRows(t, f.db, &model.File{}, "id = ?", task.ID))
}

func storedPages(t *testing.T, f *pipelineFixture, fileID string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.store.Root(), "pages", fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcessReadsPagesWithoutTextLayer(t *testing.T) {
	f := newPipeline(t)
	f.extractor.script[1] = ai.PageExtraction{IsContentPage: true, Content: "Carnot cycle diagram", Summary: "A diagram"}

	task := f.upload(t, "scanned.pdf", splittertest.BuildPDF("Heat", "", "Work"))
	require.NoError(t, f.process(task))

	scanned := f.extractor.seen[1]
	assert.Empty(t, scanned.Text)
	assert.NotEmpty(t, scanned.Data)

	var unit model.Unit
	require.NoError(t, f.db.First(&unit, "file_id = ? AND page_index = ?", task.ID, 1).Error)
	assert.Equal(t, "Carnot cycle diagram", unit.Content)
}

func TestProcessStoresContentPages(t *testing.T) {
	f := newPipeline(t)
	f.extractor.script[0] = ai.PageExtraction{IsContentPage: false}

	task := f.upload(t, "thermo.pdf", splittertest.BuildPDF("Cover", "Heat", "Work"))
	require.NoError(t, f.process(task))

	var units []model.Unit
	require.NoError(t, f.db.Where("file_id = ?", task.ID).Order("page_index").Find(&units).Error)
	require.Len(t, units, 2)
	for _, u := range units {
		assert.Equal(t, model.PageObjectKey(task.ID, u.ID), u.PageKey)
		page, err := f.store.Download(context.Background(), u.PageKey)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(page, []byte("%PDF-")))
	}
	// the cover is not content and is not stored
	assert.Len(t, storedPages(t, f, task.ID), 2)
}

func TestProcessFailureRemovesStoredPages(t *testing.T) {
	f := newPipeline(t)
	f.embedder.err = errors.New("embedding endpoint down")

	task := f.upload(t, "a.pdf", splittertest.BuildPDF("one", "two"))
	require.Error(t, f.process(task))
	assert.Empty(t, storedPages(t, f, task.ID))
	f.assertFailedCleanly(t, task)
}

func TestProcessChunksStoreNoPages(t *testing.T) {
	f := newPipeline(t)
	task := f.upload(t, "notes.txt", []byte("Entropy never decreases."))
	require.NoError(t, f.process(task))

	var unit model.Unit
	require.NoError(t, f.db.First(&unit, "file_id = ?", task.ID).Error)
	assert.Empty(t, unit.PageKey)
	assert.Empty(t, storedPages(t, f, task.ID))
}

func TestProcessInterruptedKeepsUploadAndReleasesTask(t *testing.T) {
	f := newPipeline(t)
	pdf := splittertest.BuildPDF("one", "two", "three")
	task := f.upload(t, "a.pdf", pdf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.extractor.before = func(ctx context.Context, unit splitter.ContentUnit) error {
		if unit.Index == 1 {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	err := f.ingest.Process(ctx, queue.TaskMessage{TaskID: task.ID, CourseID: task.CourseID})
	require.ErrorIs(t, err, ErrTaskInterrupted)

	got, err := f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusPending, got.Status)
	assert.EqualValues(t, 1000+len(pdf), bucketSize(t, f.db, f.bucket.ID), "quota stays reserved")
	assert.Zero(t, countRows(t, f.db, &model.File{}, "id = ?", task.ID))

	source, err := f.store.Download(context.Background(), task.ObjectKey())
	require.NoError(t, err)
	assert.Equal(t, pdf, source)

	// a redelivered message runs the task to completion
	f.extractor.before = nil
	require.NoError(t, f.process(task))
	got, err = f.tasks.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFinished, got.Status)
}
