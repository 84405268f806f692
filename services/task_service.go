package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/services/storage"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// TaskService owns task state transitions and the bucket quota they reserve
type TaskService struct {
	db      *gorm.DB
	storage storage.ObjectStorage
	log     *utils.Logger
}

// NewTaskService creates a new task service
func NewTaskService(db *gorm.DB, objectStorage storage.ObjectStorage, log *utils.Logger) *TaskService {
	return &TaskService{db: db, storage: objectStorage, log: log}
}

// ReserveTaskRequest describes an accepted upload
type ReserveTaskRequest struct {
	CourseID string
	Filename string
	FileSize int64
	PubDate  *time.Time
}

// ReserveTask adds the file size to the course's bucket and creates a pending
// task in one transaction. The quota check and the increment are a single
// conditional UPDATE so concurrent uploads cannot overshoot max_size.
func (s *TaskService) ReserveTask(ctx context.Context, req ReserveTaskRequest) (*model.Task, error) {
	task := &model.Task{
		ID:       uuid.NewString(),
		CourseID: req.CourseID,
		Filename: req.Filename,
		FileSize: req.FileSize,
		Status:   model.TaskStatusPending,
		PubDate:  req.PubDate,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var course model.Course
		if err := tx.Select("id", "bucket_id").Where("id = ?", req.CourseID).First(&course).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCourseNotFound
			}
			return err
		}

		res := tx.Model(&model.Bucket{}).
			Where("id = ? AND size + ? <= max_size", course.BucketID, req.FileSize).
			Update("size", gorm.Expr("size + ?", req.FileSize))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.Bucket{}).Where("id = ?", course.BucketID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrBucketNotFound
			}
			return ErrQuotaExceeded
		}

		return tx.Create(task).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("reserved task", "task_id", task.ID, "course_id", task.CourseID, "size", task.FileSize)
	return task, nil
}

// GetTask returns a task by id
func (s *TaskService) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	var task model.Task
	if err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// ListTasksRequest filters a course's tasks
type ListTasksRequest struct {
	CourseID string
	Status   model.TaskStatus // empty for all
	Page     int
	Limit    int
}

// ListTasks returns one page of a course's tasks, newest first, and the total
func (s *TaskService) ListTasks(ctx context.Context, req ListTasksRequest) ([]model.Task, int64, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 100 {
		req.Limit = 20
	}

	query := s.db.WithContext(ctx).Model(&model.Task{}).Where("course_id = ?", req.CourseID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var tasks []model.Task
	err := query.Order("created_at DESC").
		Offset((req.Page - 1) * req.Limit).
		Limit(req.Limit).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// MarkProcessing moves a pending task to processing and returns it
func (s *TaskService) MarkProcessing(ctx context.Context, taskID string) (*model.Task, error) {
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusPending).
		Update("status", model.TaskStatusProcessing)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update task status to processing: %w", res.Error)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, taskID, task.Status)
	}
	return task, nil
}

// ReleaseTask moves a processing task back to pending so it can be started
// again. The reserved quota and the uploaded object are kept.
func (s *TaskService) ReleaseTask(ctx context.Context, taskID string) error {
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusProcessing).
		Update("status", model.TaskStatusPending)
	if res.Error != nil {
		return fmt.Errorf("failed to release task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s is not processing", ErrInvalidTransition, taskID)
	}
	return nil
}

// MarkFinished completes a processing task and records its run statistics
func (s *TaskService) MarkFinished(ctx context.Context, taskID string, stats model.TaskStats) error {
	metadata, err := json.Marshal(stats)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("id = ? AND status = ?", taskID, model.TaskStatusProcessing).
		Updates(map[string]interface{}{
			"status":   model.TaskStatusFinished,
			"metadata": datatypes.JSON(metadata),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update task status to finished: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: task %s is not processing", ErrInvalidTransition, taskID)
	}
	return nil
}

// MarkFailed runs the failure path for a processing task. The uploaded source
// object is deleted first on a best-effort basis. Then the status change and
// the quota release happen in one transaction, with the size taken from the
// task row itself.
func (s *TaskService) MarkFailed(ctx context.Context, task *model.Task, cause error) error {
	log := s.log.With("task_id", task.ID)

	current, err := s.GetTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if current.Status != model.TaskStatusProcessing {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidTransition, task.ID, current.Status)
	}

	if s.storage != nil {
		if err := s.storage.Delete(ctx, current.ObjectKey()); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
			log.Warn("failed to delete source object", "key", current.ObjectKey(), "error", err)
		}
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Task{}).
			Where("id = ? AND status = ?", task.ID, model.TaskStatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.TaskStatusFailed,
				"error_message": message,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to update task status to failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: task %s is not processing", ErrInvalidTransition, task.ID)
		}

		res = tx.Exec(`UPDATE buckets
			SET size = size - (SELECT file_size FROM tasks WHERE id = ?), updated_at = ?
			WHERE id = (SELECT bucket_id FROM courses WHERE id = (SELECT course_id FROM tasks WHERE id = ?))`,
			task.ID, time.Now(), task.ID)
		if res.Error != nil {
			return fmt.Errorf("failed to update bucket size: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrBucketNotFound
		}

		log.Info("task failed", "reason", message)
		return nil
	})
}

// FailStaleTasks fails every task that has been processing for longer than
// olderThan, releasing its quota. It returns how many were failed.
func (s *TaskService) FailStaleTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	var stale []model.Task
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", model.TaskStatusProcessing, time.Now().Add(-olderThan)).
		Find(&stale).Error
	if err != nil {
		return 0, err
	}

	failed := 0
	for i := range stale {
		if err := s.MarkFailed(ctx, &stale[i], ErrTaskTimedOut); err != nil {
			s.log.Error("failed to fail stale task", "task_id", stale[i].ID, "error", err)
			continue
		}
		failed++
	}
	return failed, nil
}
