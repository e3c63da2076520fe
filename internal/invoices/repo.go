package invoices

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	"github.com/tutorbill/tutorbill-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an invoices repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) (*models.Invoice, error) {
	if err := r.db.WithContext(ctx).Create(invoice).Error; err != nil {
		return nil, err
	}
	return invoice, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Enrollment.Subject").
		Preload("Payment").
		Where("id = ?", id).
		First(&invoice).Error
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repository) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindOpenDuplicate looks for an invoice with the exact same billing facts in
// any non-terminal status. This is intentionally a plain read, not a lock.
func (r *repository) FindOpenDuplicate(ctx context.Context, tutorID, studentID uuid.UUID, amount decimal.Decimal, description string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := r.db.WithContext(ctx).
		Where("tutor_id = ? AND student_id = ? AND amount = ? AND description = ?", tutorID, studentID, amount, description).
		Where("status IN ?", statusStrings(enums.OpenInvoiceStatuses())).
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

// FindOverdueCandidates returns sent/viewed invoices due before today.
// Already-overdue rows are excluded so a re-run changes nothing.
func (r *repository) FindOverdueCandidates(ctx context.Context, today time.Time) ([]models.Invoice, error) {
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	var candidates []models.Invoice
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(enums.InvoiceStatusSent), string(enums.InvoiceStatusViewed)}).
		Where("due_date < ?", day).
		Order("due_date ASC").
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

type listInvoicesQuery struct {
	TutorID  *uuid.UUID
	ParentID *uuid.UUID
	Status   *enums.InvoiceStatus
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *repository) ListByActor(ctx context.Context, params listInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Invoice{})
	if params.TutorID != nil {
		query = query.Where("tutor_id = ?", *params.TutorID)
	}
	if params.ParentID != nil {
		query = query.Where("parent_id = ?", *params.ParentID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", string(*params.Status))
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var invoices []models.Invoice
	if err := query.Order("created_at DESC, id DESC").Limit(limit).Find(&invoices).Error; err != nil {
		return nil, nil, err
	}

	if len(invoices) > normalized {
		next := invoices[normalized]
		invoices = invoices[:normalized]
		return invoices, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return invoices, nil, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) AppendHistory(ctx context.Context, row *models.InvoiceStatusHistory) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) ListHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceStatusHistory, error) {
	var rows []models.InvoiceStatusHistory
	err := r.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("changed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func statusStrings(statuses []enums.InvoiceStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}
	return out
}
