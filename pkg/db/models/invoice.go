package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// Invoice is one billing event: a tutor charges a student's registered
// parent. Rows are never physically deleted; cancellation is the terminal
// cancelled status. The timestamp ordering created_at <= sent_at <=
// viewed_at <= paid_at holds for every persisted row and is mirrored by DB
// CHECK constraints.
type Invoice struct {
	ID                 uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TutorID            uuid.UUID           `gorm:"column:tutor_id;type:uuid;not null;index"`
	StudentID          uuid.UUID           `gorm:"column:student_id;type:uuid;not null;index"`
	ParentID           uuid.UUID           `gorm:"column:parent_id;type:uuid;not null;index"`
	EnrollmentID       *uuid.UUID          `gorm:"column:enrollment_id;type:uuid"`
	PaymentID          *uuid.UUID          `gorm:"column:payment_id;type:uuid;unique"`
	Amount             decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Description        string              `gorm:"column:description;not null"`
	Status             enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'draft'"`
	DueDate            time.Time           `gorm:"column:due_date;type:date;not null"`
	SentAt             *time.Time          `gorm:"column:sent_at"`
	ViewedAt           *time.Time          `gorm:"column:viewed_at"`
	PaidAt             *time.Time          `gorm:"column:paid_at"`
	ExternalMessageRef *string             `gorm:"column:external_message_ref"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`

	Enrollment *Enrollment            `gorm:"foreignKey:EnrollmentID"`
	Payment    *Payment               `gorm:"foreignKey:PaymentID"`
	History    []InvoiceStatusHistory `gorm:"foreignKey:InvoiceID"`
}

// DaysOverdue returns how many whole days past due the invoice is as of
// today, or 0 for paid/cancelled invoices and invoices not yet due.
func (i Invoice) DaysOverdue(today time.Time) int {
	if i.Status.IsTerminal() {
		return 0
	}
	due := time.Date(i.DueDate.Year(), i.DueDate.Month(), i.DueDate.Day(), 0, 0, 0, 0, time.UTC)
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(day.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}
