package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/queue"
	"github.com/sahilchouksey/study-ingest/services/splitter"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
)

// IngestService runs the whole pipeline for one task: download, split,
// extract, store pages, embed, persist. Every failure goes through
// TaskService.MarkFailed.
type IngestService struct {
	tasks       *TaskService
	storage     storage.ObjectStorage
	splitter    *splitter.Splitter
	extraction  *ContentExtractionService
	embeddings  *EmbeddingService
	persistence *PersistenceService
	log         *utils.Logger
}

// IngestDeps groups the collaborators of IngestService
type IngestDeps struct {
	Tasks       *TaskService
	Storage     storage.ObjectStorage
	Splitter    *splitter.Splitter
	Extraction  *ContentExtractionService
	Embeddings  *EmbeddingService
	Persistence *PersistenceService
}

// NewIngestService creates the pipeline orchestrator
func NewIngestService(deps IngestDeps, log *utils.Logger) *IngestService {
	return &IngestService{
		tasks:       deps.Tasks,
		storage:     deps.Storage,
		splitter:    deps.Splitter,
		extraction:  deps.Extraction,
		embeddings:  deps.Embeddings,
		persistence: deps.Persistence,
		log:         log,
	}
}

// Process ingests the task named by msg. The stored task row is the source of
// truth for course, filename and size. On failure the task ends up failed with
// its quota released, and the original error is returned. When ctx is
// cancelled mid-run the task goes back to pending with its upload intact and
// ErrTaskInterrupted is returned.
func (s *IngestService) Process(ctx context.Context, msg queue.TaskMessage) error {
	task, err := s.tasks.MarkProcessing(ctx, msg.TaskID)
	if err != nil {
		return err
	}

	log := s.log.With("task_id", task.ID, "course_id", task.CourseID, "filename", task.Filename)
	if msg.CourseID != "" && msg.CourseID != task.CourseID {
		log.Warn("queued course does not match task", "queued_course_id", msg.CourseID)
	}

	start := time.Now()
	stats, err := s.run(ctx, task)
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a bad document: hand the task back untouched
		log.Warn("ingestion interrupted, releasing task", "error", err)
		if rerr := s.tasks.ReleaseTask(context.WithoutCancel(ctx), task.ID); rerr != nil {
			log.Error("failed to release interrupted task", "error", rerr)
		}
		return fmt.Errorf("%w: %w", ErrTaskInterrupted, err)
	}
	if err != nil {
		log.Error("ingestion failed", "error", err)
		if ferr := s.tasks.MarkFailed(context.WithoutCancel(ctx), task, err); ferr != nil {
			log.Error("failed to record task failure", "error", ferr)
		}
		return err
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	if err := s.tasks.MarkFinished(context.WithoutCancel(ctx), task.ID, *stats); err != nil {
		// The task was failed underneath us (stale sweep); drop what was written
		log.Error("failed to mark task finished", "error", err)
		s.persistence.Remove(ctx, task.ID)
		return err
	}

	log.Info("ingestion finished", "units", stats.ContentUnits, "skipped", stats.SkippedUnits, "duration_ms", stats.DurationMs)
	return nil
}

func (s *IngestService) run(ctx context.Context, task *model.Task) (stats *model.TaskStats, err error) {
	data, err := s.storage.Download(ctx, task.ObjectKey())
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("source object %s: %w", task.ObjectKey(), err)
		}
		return nil, fmt.Errorf("failed to download source object: %w", err)
	}

	units, err := s.splitter.Split(ctx, task.Filename, data)
	if err != nil {
		return nil, err
	}

	extracted, err := s.extraction.ExtractAll(ctx, units)
	if err != nil {
		return nil, err
	}
	if len(extracted.Units) == 0 {
		return nil, ErrNoContent
	}

	stored, err := s.storePages(ctx, task.ID, extracted.Units)
	defer func() {
		if err != nil {
			DeleteObjects(context.WithoutCancel(ctx), s.storage, stored, s.log)
		}
	}()
	if err != nil {
		return nil, err
	}

	vectors, err := s.embeddings.EmbedUnits(ctx, extracted.Units)
	if err != nil {
		return nil, err
	}

	err = s.persistence.Persist(ctx, PersistRequest{
		TaskID:     task.ID,
		CourseID:   task.CourseID,
		Filename:   task.Filename,
		FileSize:   task.FileSize,
		Units:      extracted.Units,
		Embeddings: vectors,
	})
	if err != nil {
		return nil, err
	}

	return &model.TaskStats{
		TotalUnits:   extracted.Total,
		ContentUnits: len(extracted.Units),
		SkippedUnits: extracted.Skipped,
	}, nil
}

// storePages uploads each content page as its own PDF keyed by unit id and
// returns the keys written so far
func (s *IngestService) storePages(ctx context.Context, fileID string, units []ExtractedUnit) ([]string, error) {
	var keys []string
	for i := range units {
		u := &units[i]
		u.ID = uuid.NewString()
		if len(u.Page) == 0 {
			continue
		}
		key := model.PageObjectKey(fileID, u.ID)
		if err := s.storage.Put(ctx, key, bytes.NewReader(u.Page), "application/pdf"); err != nil {
			return keys, fmt.Errorf("failed to store page %d: %w", u.PageIndex, err)
		}
		u.PageKey = key
		keys = append(keys, key)
	}
	return keys, nil
}
