package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// Notification is an in-app notification delivered to a user after an
// invoice lifecycle event. Written best-effort; old rows are pruned by the
// retention cron job.
type Notification struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	InvoiceID uuid.UUID               `gorm:"column:invoice_id;type:uuid;not null"`
	Event     enums.NotificationEvent `gorm:"column:event;type:notification_event;not null"`
	Title     string                  `gorm:"column:title;not null"`
	Body      string                  `gorm:"column:body;not null"`
	ReadAt    *time.Time              `gorm:"column:read_at"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
}
