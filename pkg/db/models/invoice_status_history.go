package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// InvoiceStatusHistory is one append-only audit row per status transition.
// Rows are never updated or deleted; creation also writes a draft->draft row
// so the whole lifecycle is reconstructible from history alone.
type InvoiceStatusHistory struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	InvoiceID uuid.UUID           `gorm:"column:invoice_id;type:uuid;not null;index"`
	OldStatus enums.InvoiceStatus `gorm:"column:old_status;type:invoice_status;not null"`
	NewStatus enums.InvoiceStatus `gorm:"column:new_status;type:invoice_status;not null"`
	ChangedBy uuid.UUID           `gorm:"column:changed_by;type:uuid;not null"`
	Reason    *string             `gorm:"column:reason"`
	ChangedAt time.Time           `gorm:"column:changed_at;autoCreateTime"`
}

// TableName maps the model to the singular table name used by the
// migrations (20250901103000_create_invoice_status_history.sql).
func (InvoiceStatusHistory) TableName() string {
	return "invoice_status_history"
}
