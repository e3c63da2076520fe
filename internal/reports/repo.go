package reports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// Repository defines the read-side queries over the invoice ledger.
type Repository interface {
	ListByTutorSince(ctx context.Context, tutorID uuid.UUID, since time.Time) ([]models.Invoice, error)
	ListByTutorBetween(ctx context.Context, tutorID uuid.UUID, start, end time.Time) ([]models.Invoice, error)
	ListOutstanding(ctx context.Context, tutorID uuid.UUID) ([]models.Invoice, error)
	ListPaidByParent(ctx context.Context, parentID uuid.UUID, since time.Time) ([]models.Invoice, error)
	ListForExport(ctx context.Context, tutorID uuid.UUID) ([]models.Invoice, error)
	UserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a reporting repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) ListByTutorSince(ctx context.Context, tutorID uuid.UUID, since time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("tutor_id = ? AND created_at >= ?", tutorID, since).
		Order("created_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) ListByTutorBetween(ctx context.Context, tutorID uuid.UUID, start, end time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("tutor_id = ? AND created_at >= ? AND created_at < ?", tutorID, start, end).
		Order("created_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) ListOutstanding(ctx context.Context, tutorID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("tutor_id = ? AND status IN ?", tutorID, []string{
			string(enums.InvoiceStatusSent),
			string(enums.InvoiceStatusViewed),
			string(enums.InvoiceStatusOverdue),
		}).
		Order("due_date ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) ListPaidByParent(ctx context.Context, parentID uuid.UUID, since time.Time) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Where("parent_id = ? AND status = ? AND paid_at >= ?", parentID, string(enums.InvoiceStatusPaid), since).
		Order("paid_at DESC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) ListForExport(ctx context.Context, tutorID uuid.UUID) ([]models.Invoice, error) {
	var invoices []models.Invoice
	err := r.db.WithContext(ctx).
		Preload("Enrollment.Subject").
		Where("tutor_id = ?", tutorID).
		Order("created_at ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) UserNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	names := make(map[uuid.UUID]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	var users []models.User
	err := r.db.WithContext(ctx).
		Select("id", "full_name").
		Where("id IN ?", ids).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	for _, user := range users {
		names[user.ID] = user.FullName
	}
	return names, nil
}
