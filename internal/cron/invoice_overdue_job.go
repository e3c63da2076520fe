package cron

import (
	"context"
	"fmt"

	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// overdueRunner is the slice of the invoice service the job calls.
type overdueRunner interface {
	MarkOverdue(ctx context.Context) (*invoices.OverdueRunResult, error)
}

type InvoiceOverdueJobParams struct {
	Logger   *logger.Logger
	Invoices overdueRunner
}

// NewInvoiceOverdueJob builds the daily sweep that transitions sent/viewed
// invoices past their due date to overdue.
func NewInvoiceOverdueJob(params InvoiceOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	return &invoiceOverdueJob{
		logg:     params.Logger,
		invoices: params.Invoices,
	}, nil
}

type invoiceOverdueJob struct {
	logg     *logger.Logger
	invoices overdueRunner
}

func (j *invoiceOverdueJob) Name() string { return "invoice-overdue" }

func (j *invoiceOverdueJob) Run(ctx context.Context) error {
	result, err := j.invoices.MarkOverdue(ctx)
	if result == nil {
		return fmt.Errorf("overdue sweep: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"transitioned": result.Transitioned,
		"failed":       result.Failed,
	})
	j.logg.Info(logCtx, "overdue sweep complete")
	if err != nil {
		// Partial failure keeps the job green; skipped invoices are picked
		// up on the next sweep.
		j.logg.Warn(logCtx, fmt.Sprintf("%d invoices could not be transitioned: %v", result.Failed, err))
	}
	return nil
}
