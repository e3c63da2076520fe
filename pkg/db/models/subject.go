package models

import (
	"time"

	"github.com/google/uuid"
)

// Subject is a teachable discipline referenced by enrollments.
type Subject struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"column:name;not null;unique"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
