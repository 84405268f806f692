package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/gorm"
)

// PersistRequest carries everything needed to store one finished document
type PersistRequest struct {
	TaskID     string
	CourseID   string
	Filename   string
	FileSize   int64
	Units      []ExtractedUnit
	Embeddings []model.Vector
}

// PersistenceService writes a file and its units as one all-or-nothing unit
type PersistenceService struct {
	db    *gorm.DB
	pages storage.ObjectStorage
	log   *utils.Logger
}

// NewPersistenceService creates a new persistence service. pages holds the
// per-page PDFs and may be nil.
func NewPersistenceService(db *gorm.DB, pages storage.ObjectStorage, log *utils.Logger) *PersistenceService {
	return &PersistenceService{db: db, pages: pages, log: log}
}

// Persist inserts the File row and then its units in batches of
// model.UnitBatchSize. If any batch fails, every unit written so far and the
// File row are deleted again before the error is returned.
func (s *PersistenceService) Persist(ctx context.Context, req PersistRequest) error {
	if len(req.Embeddings) != len(req.Units) {
		return fmt.Errorf("%w: %d embeddings for %d units", ErrEmbeddingCountMismatch, len(req.Embeddings), len(req.Units))
	}

	db := s.db.WithContext(ctx)

	var course model.Course
	if err := db.Select("id", "name").Where("id = ?", req.CourseID).First(&course).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCourseNotFound
		}
		return fmt.Errorf("failed to load course: %w", err)
	}

	file := model.File{
		ID:       req.TaskID,
		CourseID: req.CourseID,
		Name:     req.Filename,
		Size:     req.FileSize,
	}
	if err := db.Create(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrFileAlreadyExists
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}

	if err := s.insertUnits(db, &file, course.Name, req); err != nil {
		s.Remove(ctx, file.ID)
		return err
	}

	s.log.Info("persisted file", "file_id", file.ID, "units", len(req.Units))
	return nil
}

func (s *PersistenceService) insertUnits(db *gorm.DB, file *model.File, courseName string, req PersistRequest) error {
	for start := 0; start < len(req.Units); start += model.UnitBatchSize {
		end := min(start+model.UnitBatchSize, len(req.Units))

		batch := make([]model.Unit, 0, end-start)
		for i := start; i < end; i++ {
			u := req.Units[i]
			chapter, subChapter := SplitChapter(u.Chapter)
			id := u.ID
			if id == "" {
				id = uuid.NewString()
			}
			batch = append(batch, model.Unit{
				ID:         id,
				FileID:     file.ID,
				FileName:   file.Name,
				CourseID:   file.CourseID,
				CourseName: courseName,
				Content:    u.Content,
				Embedding:  req.Embeddings[i],
				PageIndex:  u.PageIndex,
				PageNumber: PageNumberOf(u.PageNumber),
				Chapter:    chapter,
				SubChapter: subChapter,
				PageKey:    u.PageKey,
			})
		}

		if err := db.Create(&batch).Error; err != nil {
			return fmt.Errorf("failed to insert units %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// Remove deletes a file's units, their stored pages and then the file. It
// runs even when ctx was cancelled, and only logs its own failures.
func (s *PersistenceService) Remove(ctx context.Context, fileID string) {
	ctx = context.WithoutCancel(ctx)
	db := s.db.WithContext(ctx)

	var pageKeys []string
	if err := db.Model(&model.Unit{}).Where("file_id = ? AND page_key <> ''", fileID).Pluck("page_key", &pageKeys).Error; err != nil {
		s.log.Error("failed to list stored pages during rollback", "file_id", fileID, "error", err)
	}
	DeleteObjects(ctx, s.pages, pageKeys, s.log)

	if err := db.Where("file_id = ?", fileID).Delete(&model.Unit{}).Error; err != nil {
		s.log.Error("failed to delete units during rollback", "file_id", fileID, "error", err)
	}
	if err := db.Where("id = ?", fileID).Delete(&model.File{}).Error; err != nil {
		s.log.Error("failed to delete file during rollback", "file_id", fileID, "error", err)
		return
	}
	s.log.Warn("removed persisted file", "file_id", fileID)
}

// DeleteObjects removes keys from objectStorage on a best-effort basis
func DeleteObjects(ctx context.Context, objectStorage storage.ObjectStorage, keys []string, log *utils.Logger) {
	if objectStorage == nil {
		return
	}
	for _, key := range keys {
		if err := objectStorage.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("failed to delete object", "key", key, "error", err)
		}
	}
}
