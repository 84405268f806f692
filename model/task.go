package model

import (
	"time"

	"gorm.io/datatypes"
)

// TaskStatus represents where an ingestion attempt is in its lifecycle
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusFinished   TaskStatus = "finished"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusFinished || s == TaskStatusFailed
}

// Task is one attempt to ingest a single uploaded document
type Task struct {
	ID           string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `gorm:"index" json:"updated_at"`
	CourseID     string         `gorm:"type:varchar(36);not null;index" json:"course_id"`
	Filename     string         `gorm:"not null" json:"filename"`
	FileSize     int64          `gorm:"not null" json:"file_size"`
	Status       TaskStatus     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	PubDate      *time.Time     `json:"pub_date,omitempty"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	Metadata     datatypes.JSON `json:"metadata,omitempty"`

	Course Course `gorm:"foreignKey:CourseID" json:"-"`
}

// ObjectKey is where the uploaded source document lives in object storage
func (t *Task) ObjectKey() string {
	return ObjectKey(t.CourseID, t.Filename)
}

// ObjectKey builds the storage key for a course upload
func ObjectKey(courseID, filename string) string {
	return courseID + "/" + filename
}

// TaskStats is stored in Task.Metadata after a run
type TaskStats struct {
	TotalUnits   int   `json:"total_units"`
	ContentUnits int   `json:"content_units"`
	SkippedUnits int   `json:"skipped_units"`
	DurationMs   int64 `json:"duration_ms"`
}
