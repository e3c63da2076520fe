package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// User is any platform account: tutor, parent, student or admin.
type User struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email          string         `gorm:"column:email;not null;unique"`
	FullName       string         `gorm:"column:full_name;not null"`
	Role           enums.UserRole `gorm:"column:role;type:user_role;not null"`
	TelegramChatID *string        `gorm:"column:telegram_chat_id"`
	Active         bool           `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
