package invoices

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

// SystemActorID marks transitions performed by scheduled jobs rather than a
// signed-in user.
var SystemActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// CreateInvoiceInput carries everything needed to issue a new invoice. The
// parent is always derived from the student profile, never supplied here.
// The optional timestamps exist for backdated imports only; normal creation
// leaves them nil.
type CreateInvoiceInput struct {
	TutorID      uuid.UUID
	StudentID    uuid.UUID
	Amount       decimal.Decimal
	Description  string
	DueDate      time.Time
	EnrollmentID *uuid.UUID

	CreatedAt *time.Time
	SentAt    *time.Time
	ViewedAt  *time.Time
	PaidAt    *time.Time
}

// InvoiceDetail bundles an invoice with its full audit trail.
type InvoiceDetail struct {
	Invoice *models.Invoice              `json:"invoice"`
	History []models.InvoiceStatusHistory `json:"history"`
}

// OverdueRunResult summarizes one overdue job sweep.
type OverdueRunResult struct {
	Transitioned int
	Failed       int
}

// ListInvoicesParams filters a per-actor invoice listing.
type ListInvoicesParams struct {
	Status *enums.InvoiceStatus
	Limit  int
	Cursor string
}

// InvoiceList wraps one page of invoices and the cursor for the next page.
type InvoiceList struct {
	Items  []models.Invoice `json:"items"`
	Cursor string           `json:"cursor"`
}
