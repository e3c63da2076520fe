package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment ties a student to a subject taught by a tutor. Invoices may
// reference one for context; the link must stay consistent with the
// invoice's student and tutor.
type Enrollment struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	StudentID uuid.UUID  `gorm:"column:student_id;type:uuid;not null;index"`
	SubjectID uuid.UUID  `gorm:"column:subject_id;type:uuid;not null"`
	TutorID   *uuid.UUID `gorm:"column:tutor_id;type:uuid"`
	Active    bool       `gorm:"column:active;not null;default:true"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`

	Subject *Subject `gorm:"foreignKey:SubjectID"`
}
