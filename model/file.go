package model

import "time"

// UnitBatchSize bounds the number of units written per insert statement
const UnitBatchSize = 100

// File is a persisted source document. Its ID is the ID of the task that
// produced it.
type File struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	CourseID  string    `gorm:"type:varchar(36);not null;index" json:"course_id"`
	Name      string    `gorm:"not null" json:"name"`
	Size      int64     `gorm:"not null" json:"size"`

	Course Course `gorm:"foreignKey:CourseID" json:"-"`
	Units  []Unit `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE" json:"units,omitempty"`
}

// Unit is an embedded, searchable slice of a file (one PDF page or one text chunk)
type Unit struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	FileID     string    `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_units_file_page,priority:1" json:"file_id"`
	FileName   string    `gorm:"not null" json:"file_name"`
	CourseID   string    `gorm:"type:varchar(36);not null;index" json:"course_id"`
	CourseName string    `gorm:"not null" json:"course_name"`
	Content    string    `gorm:"type:text" json:"content"`
	Embedding  Vector    `gorm:"type:vector(768);not null" json:"-"`
	PageIndex  int       `gorm:"not null;uniqueIndex:idx_units_file_page,priority:2" json:"page_index"`
	PageNumber *int      `json:"page_number,omitempty"`
	Chapter    *int      `gorm:"index" json:"chapter,omitempty"`
	SubChapter *int      `json:"sub_chapter,omitempty"`
	// PageKey is the object key of the stored single-page PDF, empty for chunks
	PageKey    string    `gorm:"type:varchar(512)" json:"page_key,omitempty"`
}

// PageObjectKey is where the page PDF of a unit is stored
func PageObjectKey(fileID, unitID string) string {
	return "pages/" + fileID + "/" + unitID + ".pdf"
}
