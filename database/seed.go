package database

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sahilchouksey/study-ingest/model"
	"github.com/sahilchouksey/study-ingest/utils"
	"gorm.io/gorm"
)

// DefaultBucketMaxSize is the quota given to seeded buckets (1 GiB)
const DefaultBucketMaxSize int64 = 1 << 30

// Seeder handles database seeding operations
type Seeder struct {
	db  *gorm.DB
	log *utils.Logger
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB, log *utils.Logger) *Seeder {
	return &Seeder{db: db, log: log}
}

// SeedOptions describes the bucket and courses to create
type SeedOptions struct {
	BucketName  string
	MaxSize     int64
	CourseNames []string
}

// SeedAll creates a bucket with the given courses unless a bucket with the
// same name already exists. It returns the bucket that is present afterwards.
func (s *Seeder) SeedAll(opts SeedOptions) (*model.Bucket, error) {
	if opts.BucketName == "" {
		opts.BucketName = "default"
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultBucketMaxSize
	}
	if len(opts.CourseNames) == 0 {
		opts.CourseNames = []string{"General"}
	}

	var existing model.Bucket
	err := s.db.Preload("Courses").Where("name = ?", opts.BucketName).First(&existing).Error
	if err == nil {
		s.log.Info("bucket already exists, skipping seed", "bucket_id", existing.ID, "name", existing.Name)
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	bucket := model.Bucket{
		ID:      uuid.NewString(),
		Name:    opts.BucketName,
		MaxSize: opts.MaxSize,
	}
	for _, name := range opts.CourseNames {
		bucket.Courses = append(bucket.Courses, model.Course{ID: uuid.NewString(), Name: name})
	}

	if err := s.db.Create(&bucket).Error; err != nil {
		return nil, fmt.Errorf("failed to seed bucket: %w", err)
	}

	s.log.Info("seeded bucket", "bucket_id", bucket.ID, "courses", len(bucket.Courses))
	return &bucket, nil
}
