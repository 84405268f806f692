package model

import "time"

// Bucket is a storage quota scope. Size is the running total of committed
// file bytes and only ever changes through atomic SQL updates.
type Bucket struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Size      int64     `gorm:"not null;default:0" json:"size"`
	MaxSize   int64     `gorm:"not null" json:"max_size"`

	Courses []Course `gorm:"foreignKey:BucketID;constraint:OnDelete:CASCADE" json:"courses,omitempty"`
}

// Course groups uploaded files inside a bucket
type Course struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	BucketID  string    `gorm:"type:varchar(36);not null;index" json:"bucket_id"`
	Name      string    `gorm:"not null" json:"name"`

	Bucket Bucket `gorm:"foreignKey:BucketID" json:"-"`
}
