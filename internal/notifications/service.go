package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/pagination"
)

// Service defines notification fan-in, list/read operations and retention.
type Service interface {
	Notify(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo   Repository
	logger *logger.Logger
	now    func() time.Time
}

// ListParams configures pagination for a user's notification feed.
type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// ServiceParams collects the notification service dependencies.
type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

// NewService wires notifications dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{repo: params.Repo, logger: params.Logger, now: now}, nil
}

// Notify records in-app notifications for the users affected by an invoice
// lifecycle event. The billing flow treats this as best-effort; a partial
// write still surfaces an error so the caller can log it.
func (s *service) Notify(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error {
	if invoice == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice required")
	}
	if !event.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification event")
	}

	for _, recipient := range recipientsFor(invoice, event) {
		notification := &models.Notification{
			ID:        uuid.New(),
			UserID:    recipient,
			InvoiceID: invoice.ID,
			Event:     event,
			Title:     titleFor(event),
			Body:      bodyFor(invoice, event),
		}
		if err := s.repo.Create(ctx, notification); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store notification")
		}
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	query := listNotificationsParams{
		UserID:     params.UserID,
		Limit:      params.Limit,
		UnreadOnly: params.UnreadOnly,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}

	cursor := ""
	if next != nil {
		cursor = pagination.EncodeCursor(*next)
	}

	return &ListResult{
		Items:  rows,
		Cursor: cursor,
	}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !result.Found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}

// Prune removes notifications created before the cutoff. Called by the
// retention cron job.
func (s *service) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	count, err := s.repo.DeleteCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "prune notifications")
	}
	if count > 0 {
		s.logger.Info(ctx, fmt.Sprintf("pruned %d notifications older than %s", count, cutoff.Format(time.RFC3339)))
	}
	return count, nil
}

// recipientsFor picks who should hear about the event. Parents hear about
// money they owe; tutors hear about progress on money they are owed.
func recipientsFor(invoice *models.Invoice, event enums.NotificationEvent) []uuid.UUID {
	switch event {
	case enums.NotificationEventInvoiceSent, enums.NotificationEventInvoiceCancelled:
		return []uuid.UUID{invoice.ParentID}
	case enums.NotificationEventInvoiceViewed, enums.NotificationEventInvoicePaid:
		return []uuid.UUID{invoice.TutorID}
	case enums.NotificationEventInvoiceOverdue:
		return []uuid.UUID{invoice.ParentID, invoice.TutorID}
	default:
		return nil
	}
}

func titleFor(event enums.NotificationEvent) string {
	switch event {
	case enums.NotificationEventInvoiceSent:
		return "New invoice"
	case enums.NotificationEventInvoiceViewed:
		return "Invoice viewed"
	case enums.NotificationEventInvoicePaid:
		return "Invoice paid"
	case enums.NotificationEventInvoiceOverdue:
		return "Invoice overdue"
	case enums.NotificationEventInvoiceCancelled:
		return "Invoice cancelled"
	default:
		return "Invoice update"
	}
}

func bodyFor(invoice *models.Invoice, event enums.NotificationEvent) string {
	amount := invoice.Amount.StringFixed(2)
	switch event {
	case enums.NotificationEventInvoiceSent:
		return fmt.Sprintf("You have a new invoice for %s, due %s.", amount, invoice.DueDate.Format("2006-01-02"))
	case enums.NotificationEventInvoiceViewed:
		return fmt.Sprintf("Your invoice for %s has been viewed.", amount)
	case enums.NotificationEventInvoicePaid:
		return fmt.Sprintf("Your invoice for %s has been paid.", amount)
	case enums.NotificationEventInvoiceOverdue:
		return fmt.Sprintf("Invoice for %s is overdue since %s.", amount, invoice.DueDate.Format("2006-01-02"))
	case enums.NotificationEventInvoiceCancelled:
		return fmt.Sprintf("Invoice for %s has been cancelled.", amount)
	default:
		return fmt.Sprintf("Invoice for %s was updated.", amount)
	}
}
