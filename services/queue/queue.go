package queue

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// TaskMessage is the wire contract for starting an ingestion run
type TaskMessage struct {
	TaskID   string     `json:"taskId"`
	CourseID string     `json:"courseId"`
	Filename string     `json:"filename"`
	FileSize int64      `json:"fileSize"`
	PubDate  *time.Time `json:"pubDate,omitempty"`
}

// DueAt reports whether the message should be held until a later time
func (m TaskMessage) DueAt(now time.Time) bool {
	return m.PubDate == nil || !m.PubDate.After(now)
}

// TaskQueue hands task messages from the API to workers. Messages with a
// future PubDate are held back until PromoteDue moves them to the ready queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, msg TaskMessage) error
	// Dequeue waits up to timeout and returns ErrQueueEmpty when nothing arrived
	Dequeue(ctx context.Context, timeout time.Duration) (*TaskMessage, error)
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	Close() error
}
