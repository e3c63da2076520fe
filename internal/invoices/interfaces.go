package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	"github.com/tutorbill/tutorbill-backend/pkg/pagination"
)

// Repository defines persistence operations for the invoice ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) (*models.Invoice, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Invoice, error)
	FindOpenDuplicate(ctx context.Context, tutorID, studentID uuid.UUID, amount decimal.Decimal, description string) (*models.Invoice, error)
	FindOverdueCandidates(ctx context.Context, today time.Time) ([]models.Invoice, error)
	ListByActor(ctx context.Context, params listInvoicesQuery) ([]models.Invoice, *pagination.Cursor, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	AppendHistory(ctx context.Context, row *models.InvoiceStatusHistory) error
	ListHistory(ctx context.Context, invoiceID uuid.UUID) ([]models.InvoiceStatusHistory, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Notifier records an in-app notification after a lifecycle event.
// Implementations must not propagate failures to the billing flow.
type Notifier interface {
	Notify(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error
}

// Broadcaster pushes the current invoice snapshot to the tutor and parent
// channels. The parent-student link is re-verified at broadcast time.
type Broadcaster interface {
	Broadcast(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error
}

// Messenger delivers or edits an external chat message for an invoice.
// Returns the message ref stored on the invoice for later edits.
type Messenger interface {
	DeliverInvoiceMessage(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) (*string, error)
}

// ReportInvalidator drops cached reports for a tutor after the ledger changes.
type ReportInvalidator interface {
	InvalidateTutor(ctx context.Context, tutorID uuid.UUID)
}
