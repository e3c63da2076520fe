package models

import (
	"time"

	"github.com/google/uuid"
)

// StudentProfile links a student account to its registered parent and,
// optionally, an assigned tutor. The parent on an invoice is always derived
// from this record, never chosen by the caller.
type StudentProfile struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudentID uuid.UUID  `gorm:"column:student_id;type:uuid;not null;unique"`
	ParentID  *uuid.UUID `gorm:"column:parent_id;type:uuid"`
	TutorID   *uuid.UUID `gorm:"column:tutor_id;type:uuid"`
	GradeName *string    `gorm:"column:grade_name"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Student *User `gorm:"foreignKey:StudentID"`
	Parent  *User `gorm:"foreignKey:ParentID"`
	Tutor   *User `gorm:"foreignKey:TutorID"`
}
