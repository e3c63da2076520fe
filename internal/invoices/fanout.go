package invoices

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// Fanout delivers post-commit side effects: notifications, broadcasts,
// external messages, and report cache invalidation. Every collaborator is
// best-effort; failures are logged and never surface to the caller.
type Fanout struct {
	notifier    Notifier
	broadcaster Broadcaster
	messenger   Messenger
	reports     ReportInvalidator
	logger      *logger.Logger
}

// NewFanout wires the optional collaborators. A nil collaborator is skipped.
func NewFanout(notifier Notifier, broadcaster Broadcaster, messenger Messenger, reports ReportInvalidator, logg *logger.Logger) (*Fanout, error) {
	if logg == nil {
		return nil, fmt.Errorf("fanout logger required")
	}
	return &Fanout{
		notifier:    notifier,
		broadcaster: broadcaster,
		messenger:   messenger,
		reports:     reports,
		logger:      logg,
	}, nil
}

// Dispatch runs all side effects for an invoice event. Returns the external
// message ref when the messenger delivered one.
func (f *Fanout) Dispatch(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) *string {
	if f == nil || invoice == nil {
		return nil
	}
	ctx = f.logger.WithInvoiceID(ctx, invoice.ID.String())

	if f.notifier != nil {
		if err := f.notifier.Notify(ctx, invoice, event); err != nil {
			f.logger.Warn(ctx, fmt.Sprintf("notify failed for event %s: %v", event, err))
		}
	}

	if f.broadcaster != nil {
		if err := f.broadcaster.Broadcast(ctx, invoice, event); err != nil {
			f.logger.Warn(ctx, fmt.Sprintf("broadcast failed for event %s: %v", event, err))
		}
	}

	var ref *string
	if f.messenger != nil {
		delivered, err := f.messenger.DeliverInvoiceMessage(ctx, invoice, event)
		if err != nil {
			f.logger.Warn(ctx, fmt.Sprintf("message delivery failed for event %s: %v", event, err))
		} else {
			ref = delivered
		}
	}

	f.InvalidateReports(ctx, invoice.TutorID)
	return ref
}

// InvalidateReports drops the tutor's cached reports. Safe to call with a
// nil invalidator.
func (f *Fanout) InvalidateReports(ctx context.Context, tutorID uuid.UUID) {
	if f == nil || f.reports == nil || tutorID == uuid.Nil {
		return
	}
	f.reports.InvalidateTutor(ctx, tutorID)
}
