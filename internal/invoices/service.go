package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/tutorbill/tutorbill-backend/internal/students"
	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/pagination"
)

// Service orchestrates the invoice lifecycle. Every mutation checks actor
// permission, runs the entity update plus history append in one transaction,
// and triggers best-effort fan-out after commit.
type Service interface {
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error)
	SendInvoice(ctx context.Context, invoiceID, tutorID uuid.UUID) (*models.Invoice, error)
	MarkViewed(ctx context.Context, invoiceID, parentID uuid.UUID) (*models.Invoice, error)
	ProcessPayment(ctx context.Context, invoiceID uuid.UUID, payment *models.Payment) (*models.Invoice, error)
	CancelInvoice(ctx context.Context, invoiceID, actorID uuid.UUID, reason *string) (*models.Invoice, error)
	MarkOverdue(ctx context.Context) (*OverdueRunResult, error)
	GetDetail(ctx context.Context, invoiceID uuid.UUID, viewer Actor) (*InvoiceDetail, error)
	ListInvoices(ctx context.Context, viewer Actor, params ListInvoicesParams) (*InvoiceList, error)
}

// ServiceParams collects the service dependencies.
type ServiceParams struct {
	Repo              Repository
	Directory         students.Service
	Tx                txRunner
	Fanout            *Fanout
	Logger            *logger.Logger
	MaxDescriptionLen int
	Now               func() time.Time
}

type service struct {
	repo      Repository
	directory students.Service
	tx        txRunner
	fanout    *Fanout
	logger    *logger.Logger
	maxDesc   int
	now       func() time.Time
}

// NewService builds the invoice service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	if params.Directory == nil {
		return nil, fmt.Errorf("student directory required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Fanout == nil {
		return nil, fmt.Errorf("fanout dispatcher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	maxDesc := params.MaxDescriptionLen
	if maxDesc <= 0 {
		maxDesc = 2000
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repo,
		directory: params.Directory,
		tx:        params.Tx,
		fanout:    params.Fanout,
		logger:    params.Logger,
		maxDesc:   maxDesc,
		now:       now,
	}, nil
}

func (s *service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*models.Invoice, error) {
	if input.Amount.Sign() <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "description required")
	}
	if utf8.RuneCountInString(description) > s.maxDesc {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("description exceeds %d characters", s.maxDesc))
	}
	now := s.now().UTC()
	if input.DueDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "due date required")
	}
	if dateOnly(input.DueDate).Before(dateOnly(now)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "due date cannot be in the past")
	}

	var created *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		directory := s.directory.WithTx(tx)

		parties, err := directory.ResolveBillingParties(ctx, input.TutorID, input.StudentID)
		if err != nil {
			return err
		}
		if input.EnrollmentID != nil {
			if _, err := directory.ValidateEnrollment(ctx, *input.EnrollmentID, input.StudentID, input.TutorID); err != nil {
				return err
			}
		}

		// Narrow check-then-act duplicate guard: same billing facts in any
		// open status. Not backed by a unique constraint.
		existing, err := repo.FindOpenDuplicate(ctx, input.TutorID, input.StudentID, input.Amount, description)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "duplicate check")
		}
		if existing != nil {
			return pkgerrors.New(pkgerrors.CodeDuplicateInvoice,
				"an open invoice with the same student, amount and description already exists").
				WithDetails(map[string]any{"existing_invoice_id": existing.ID})
		}

		invoice := &models.Invoice{
			ID:           uuid.New(),
			TutorID:      input.TutorID,
			StudentID:    parties.StudentID,
			ParentID:     parties.ParentID,
			EnrollmentID: input.EnrollmentID,
			Amount:       input.Amount,
			Description:  description,
			Status:       enums.InvoiceStatusDraft,
			DueDate:      dateOnly(input.DueDate),
			SentAt:       input.SentAt,
			ViewedAt:     input.ViewedAt,
			PaidAt:       input.PaidAt,
		}
		applyBackdatedCreatedAt(invoice, input.CreatedAt)

		if _, err := repo.Create(ctx, invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
		}
		history := &models.InvoiceStatusHistory{
			ID:        uuid.New(),
			InvoiceID: invoice.ID,
			OldStatus: enums.InvoiceStatusDraft,
			NewStatus: enums.InvoiceStatusDraft,
			ChangedBy: input.TutorID,
		}
		if err := repo.AppendHistory(ctx, history); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append creation history")
		}
		created = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.fanout.InvalidateReports(ctx, created.TutorID)
	return created, nil
}

func (s *service) SendInvoice(ctx context.Context, invoiceID, tutorID uuid.UUID) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if tutorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "tutor identity missing")
	}

	var sent *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := s.loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if invoice.TutorID != tutorID {
			return pkgerrors.New(pkgerrors.CodePermissionDenied, "invoice belongs to another tutor")
		}
		if invoice.Status != enums.InvoiceStatusDraft {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus,
				fmt.Sprintf("invoice in status %s cannot be sent", invoice.Status))
		}

		now := s.now().UTC()
		updates := map[string]any{"status": enums.InvoiceStatusSent}
		if invoice.SentAt == nil {
			updates["sent_at"] = now
			invoice.SentAt = &now
		}
		if err := repo.Update(ctx, invoice.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
		}
		if err := s.appendTransition(ctx, repo, invoice, enums.InvoiceStatusSent, tutorID, nil); err != nil {
			return err
		}
		invoice.Status = enums.InvoiceStatusSent
		sent = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatchAndStoreRef(ctx, sent, enums.NotificationEventInvoiceSent)
	return sent, nil
}

func (s *service) MarkViewed(ctx context.Context, invoiceID, parentID uuid.UUID) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if parentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "parent identity missing")
	}

	var viewed *models.Invoice
	var alreadyFinal bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := s.loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if invoice.ParentID != parentID {
			return pkgerrors.New(pkgerrors.CodePermissionDenied, "invoice is billed to another parent")
		}
		// Repeat views and views after payment are no-ops.
		if invoice.Status == enums.InvoiceStatusViewed || invoice.Status == enums.InvoiceStatusPaid {
			viewed = invoice
			alreadyFinal = true
			return nil
		}
		if invoice.Status != enums.InvoiceStatusSent {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus,
				fmt.Sprintf("invoice in status %s cannot be marked viewed", invoice.Status))
		}

		now := s.now().UTC()
		updates := map[string]any{"status": enums.InvoiceStatusViewed}
		if invoice.ViewedAt == nil {
			updates["viewed_at"] = now
			invoice.ViewedAt = &now
		}
		if invoice.SentAt == nil {
			updates["sent_at"] = now
			invoice.SentAt = &now
		}
		if err := repo.Update(ctx, invoice.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
		}
		if err := s.appendTransition(ctx, repo, invoice, enums.InvoiceStatusViewed, parentID, nil); err != nil {
			return err
		}
		invoice.Status = enums.InvoiceStatusViewed
		viewed = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyFinal {
		s.dispatchAndStoreRef(ctx, viewed, enums.NotificationEventInvoiceViewed)
	}
	return viewed, nil
}

func (s *service) ProcessPayment(ctx context.Context, invoiceID uuid.UUID, payment *models.Payment) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if payment == nil || payment.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodePaymentError, "payment record required")
	}
	if payment.Status != enums.PaymentStatusSucceeded {
		return nil, pkgerrors.New(pkgerrors.CodePaymentError,
			fmt.Sprintf("payment in status %s is not payable", payment.Status))
	}

	var paid *models.Invoice
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := s.loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status == enums.InvoiceStatusPaid || invoice.Status == enums.InvoiceStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus,
				fmt.Sprintf("invoice in status %s cannot accept a payment", invoice.Status))
		}
		if !invoice.Status.CanTransitionTo(enums.InvoiceStatusPaid) {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus,
				fmt.Sprintf("invoice in status %s cannot accept a payment", invoice.Status))
		}

		linked, err := repo.FindByPayment(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payment link")
		}
		if linked != nil && linked.ID != invoice.ID {
			return pkgerrors.New(pkgerrors.CodePaymentError, "payment is already linked to another invoice")
		}

		paidAt := s.now().UTC()
		if payment.PaidAt != nil {
			paidAt = payment.PaidAt.UTC()
		}
		// Keep the timestamp chain monotonic even for late-arriving webhooks.
		if invoice.ViewedAt != nil && paidAt.Before(*invoice.ViewedAt) {
			paidAt = *invoice.ViewedAt
		}
		if invoice.SentAt != nil && paidAt.Before(*invoice.SentAt) {
			paidAt = *invoice.SentAt
		}
		if paidAt.Before(invoice.CreatedAt) {
			paidAt = invoice.CreatedAt
		}

		updates := map[string]any{
			"status":     enums.InvoiceStatusPaid,
			"paid_at":    paidAt,
			"payment_id": payment.ID,
		}
		// Backfill skipped steps so the chain created<=sent<=viewed<=paid holds.
		if invoice.SentAt == nil {
			updates["sent_at"] = paidAt
			invoice.SentAt = &paidAt
		}
		if invoice.ViewedAt == nil {
			updates["viewed_at"] = paidAt
			invoice.ViewedAt = &paidAt
		}
		if err := repo.Update(ctx, invoice.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
		}
		if err := s.appendTransition(ctx, repo, invoice, enums.InvoiceStatusPaid, SystemActorID, nil); err != nil {
			return err
		}
		invoice.Status = enums.InvoiceStatusPaid
		invoice.PaidAt = &paidAt
		invoice.PaymentID = &payment.ID
		invoice.Payment = payment
		paid = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatchAndStoreRef(ctx, paid, enums.NotificationEventInvoicePaid)
	return paid, nil
}

func (s *service) CancelInvoice(ctx context.Context, invoiceID, actorID uuid.UUID, reason *string) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	if actorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}

	var cancelled *models.Invoice
	var alreadyCancelled bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		invoice, err := s.loadInvoice(ctx, repo, invoiceID)
		if err != nil {
			return err
		}
		if invoice.TutorID != actorID {
			return pkgerrors.New(pkgerrors.CodePermissionDenied, "invoice belongs to another tutor")
		}
		if invoice.Status == enums.InvoiceStatusCancelled {
			cancelled = invoice
			alreadyCancelled = true
			return nil
		}
		if invoice.Status == enums.InvoiceStatusPaid {
			return pkgerrors.New(pkgerrors.CodeInvalidStatus, "paid invoices cannot be cancelled")
		}

		if err := repo.Update(ctx, invoice.ID, map[string]any{"status": enums.InvoiceStatusCancelled}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
		}
		if err := s.appendTransition(ctx, repo, invoice, enums.InvoiceStatusCancelled, actorID, reason); err != nil {
			return err
		}
		invoice.Status = enums.InvoiceStatusCancelled
		cancelled = invoice
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !alreadyCancelled {
		s.dispatchAndStoreRef(ctx, cancelled, enums.NotificationEventInvoiceCancelled)
	}
	return cancelled, nil
}

const overdueReason = "due date passed"

func (s *service) MarkOverdue(ctx context.Context) (*OverdueRunResult, error) {
	today := s.now().UTC()
	candidates, err := s.repo.FindOverdueCandidates(ctx, today)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue candidates")
	}

	result := &OverdueRunResult{}
	tutors := map[uuid.UUID]struct{}{}
	var errs []error
	for i := range candidates {
		candidate := candidates[i]
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			invoice, err := s.loadInvoice(ctx, repo, candidate.ID)
			if err != nil {
				return err
			}
			// A user transition may have raced the sweep; skip silently.
			if invoice.Status != enums.InvoiceStatusSent && invoice.Status != enums.InvoiceStatusViewed {
				return nil
			}
			if err := repo.Update(ctx, invoice.ID, map[string]any{"status": enums.InvoiceStatusOverdue}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update invoice status")
			}
			reason := overdueReason
			if err := s.appendTransition(ctx, repo, invoice, enums.InvoiceStatusOverdue, SystemActorID, &reason); err != nil {
				return err
			}
			invoice.Status = enums.InvoiceStatusOverdue
			candidates[i] = *invoice
			return nil
		})
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("invoice %s: %w", candidate.ID, err))
			continue
		}
		if candidates[i].Status == enums.InvoiceStatusOverdue {
			result.Transitioned++
			tutors[candidate.TutorID] = struct{}{}
			s.fanout.Dispatch(ctx, &candidates[i], enums.NotificationEventInvoiceOverdue)
		}
	}
	for tutorID := range tutors {
		s.fanout.InvalidateReports(ctx, tutorID)
	}
	// The result is returned alongside the combined per-invoice errors so the
	// caller can report partial progress.
	return result, multierr.Combine(errs...)
}

func (s *service) GetDetail(ctx context.Context, invoiceID uuid.UUID, viewer Actor) (*InvoiceDetail, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id required")
	}
	// Invoices are a tutor-parent concern; students never see them.
	if viewer.Role == enums.UserRoleStudent {
		return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "students cannot access invoices")
	}

	invoice, err := s.loadInvoice(ctx, s.repo, invoiceID)
	if err != nil {
		return nil, err
	}

	switch viewer.Role {
	case enums.UserRoleTutor:
		if invoice.TutorID != viewer.UserID {
			return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "invoice belongs to another tutor")
		}
	case enums.UserRoleParent:
		if invoice.ParentID != viewer.UserID {
			return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "invoice is billed to another parent")
		}
	case enums.UserRoleAdmin:
		// full read access
	default:
		return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "role cannot access invoices")
	}

	history, err := s.repo.ListHistory(ctx, invoice.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice history")
	}
	return &InvoiceDetail{Invoice: invoice, History: history}, nil
}

// ListInvoices pages through the viewer's side of the ledger: tutors see what
// they issued, parents what they owe, admins everything.
func (s *service) ListInvoices(ctx context.Context, viewer Actor, params ListInvoicesParams) (*InvoiceList, error) {
	if viewer.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing")
	}
	if params.Status != nil && !params.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unknown invoice status %q", *params.Status))
	}

	query := listInvoicesQuery{
		Status: params.Status,
		Limit:  params.Limit,
	}
	switch viewer.Role {
	case enums.UserRoleTutor:
		query.TutorID = &viewer.UserID
	case enums.UserRoleParent:
		query.ParentID = &viewer.UserID
	case enums.UserRoleAdmin:
		// unscoped
	default:
		return nil, pkgerrors.New(pkgerrors.CodePermissionDenied, "role cannot access invoices")
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
	}
	query.Cursor = cursor

	items, next, err := s.repo.ListByActor(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list invoices")
	}

	list := &InvoiceList{Items: items}
	if next != nil {
		list.Cursor = pagination.EncodeCursor(*next)
	}
	return list, nil
}

func (s *service) loadInvoice(ctx context.Context, repo Repository, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	return invoice, nil
}

func (s *service) appendTransition(ctx context.Context, repo Repository, invoice *models.Invoice, to enums.InvoiceStatus, actorID uuid.UUID, reason *string) error {
	row := &models.InvoiceStatusHistory{
		ID:        uuid.New(),
		InvoiceID: invoice.ID,
		OldStatus: invoice.Status,
		NewStatus: to,
		ChangedBy: actorID,
		Reason:    reason,
	}
	if err := repo.AppendHistory(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status history")
	}
	return nil
}

// dispatchAndStoreRef runs fan-out and, when the messenger produced a message
// ref, stores it on the invoice so follow-up events can edit the message.
// Both steps are best-effort.
func (s *service) dispatchAndStoreRef(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) {
	ref := s.fanout.Dispatch(ctx, invoice, event)
	if ref == nil {
		return
	}
	if err := s.repo.Update(ctx, invoice.ID, map[string]any{"external_message_ref": *ref}); err != nil {
		s.logger.Warn(ctx, fmt.Sprintf("storing message ref failed for invoice %s: %v", invoice.ID, err))
		return
	}
	invoice.ExternalMessageRef = ref
}

func applyBackdatedCreatedAt(invoice *models.Invoice, explicit *time.Time) {
	if explicit != nil {
		invoice.CreatedAt = explicit.UTC()
		return
	}
	earliest := time.Time{}
	for _, ts := range []*time.Time{invoice.SentAt, invoice.ViewedAt, invoice.PaidAt} {
		if ts == nil {
			continue
		}
		if earliest.IsZero() || ts.Before(earliest) {
			earliest = *ts
		}
	}
	if !earliest.IsZero() {
		invoice.CreatedAt = earliest.UTC()
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
