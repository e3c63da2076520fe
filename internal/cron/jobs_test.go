package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type fakeOverdueRunner struct {
	result *invoices.OverdueRunResult
	err    error
	runs   int
}

func (f *fakeOverdueRunner) MarkOverdue(context.Context) (*invoices.OverdueRunResult, error) {
	f.runs++
	return f.result, f.err
}

func TestInvoiceOverdueJob(t *testing.T) {
	runner := &fakeOverdueRunner{result: &invoices.OverdueRunResult{Transitioned: 3, Failed: 1}}
	job, err := NewInvoiceOverdueJob(InvoiceOverdueJobParams{Logger: testLogger(), Invoices: runner})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "invoice-overdue" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.runs != 1 {
		t.Fatalf("expected one sweep, got %d", runner.runs)
	}
}

func TestInvoiceOverdueJobToleratesPartialFailure(t *testing.T) {
	runner := &fakeOverdueRunner{
		result: &invoices.OverdueRunResult{Transitioned: 2, Failed: 1},
		err: multierr.Combine(
			errors.New("invoice a: deadlock"),
		),
	}
	job, err := NewInvoiceOverdueJob(InvoiceOverdueJobParams{Logger: testLogger(), Invoices: runner})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("partial failure should not fail the job: %v", err)
	}
}

func TestInvoiceOverdueJobPropagatesError(t *testing.T) {
	runner := &fakeOverdueRunner{err: errors.New("db down")}
	job, err := NewInvoiceOverdueJob(InvoiceOverdueJobParams{Logger: testLogger(), Invoices: runner})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected sweep error")
	}
}

type fakePruner struct {
	cutoff  time.Time
	deleted int64
}

func (f *fakePruner) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, nil
}

func TestNotificationCleanupJobUsesRetention(t *testing.T) {
	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	pruner := &fakePruner{deleted: 4}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:        testLogger(),
		Notifications: pruner,
		RetentionDays: 14,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if job.Name() != "notification-cleanup" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := now.Add(-14 * 24 * time.Hour)
	if !pruner.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, pruner.cutoff)
	}
}

func TestNotificationCleanupJobDefaultsRetention(t *testing.T) {
	now := time.Date(2026, 7, 31, 3, 0, 0, 0, time.UTC)
	pruner := &fakePruner{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:        testLogger(),
		Notifications: pruner,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := now.Add(-30 * 24 * time.Hour)
	if !pruner.cutoff.Equal(want) {
		t.Fatalf("expected default cutoff %s, got %s", want, pruner.cutoff)
	}
}
