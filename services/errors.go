package services

import "errors"

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("task is not in a state that allows this transition")
	ErrTaskTimedOut      = errors.New("task exceeded the processing time limit")
	ErrTaskInterrupted   = errors.New("task interrupted before it finished")

	ErrBucketNotFound    = errors.New("bucket not found")
	ErrCourseNotFound    = errors.New("course not found")
	ErrQuotaExceeded     = errors.New("bucket quota exceeded")
	ErrFileAlreadyExists = errors.New("file already exists for this task")

	ErrExtractionFailed       = errors.New("content extraction failed")
	ErrNoContent              = errors.New("document has no content pages")
	ErrNoEmbeddings           = errors.New("embedding service returned no embeddings")
	ErrEmbeddingCountMismatch = errors.New("embedding count does not match unit count")
	ErrEmbeddingDimension     = errors.New("embedding has unexpected dimension")

	ErrInvalidFilter = errors.New("invalid filter")
)
