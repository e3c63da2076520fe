package enums

import (
	"testing"
	"time"
)

func TestInvoiceStatusTransitions(t *testing.T) {
	allowed := []struct {
		from InvoiceStatus
		to   InvoiceStatus
	}{
		{InvoiceStatusDraft, InvoiceStatusSent},
		{InvoiceStatusDraft, InvoiceStatusCancelled},
		{InvoiceStatusSent, InvoiceStatusViewed},
		{InvoiceStatusSent, InvoiceStatusPaid},
		{InvoiceStatusSent, InvoiceStatusOverdue},
		{InvoiceStatusSent, InvoiceStatusCancelled},
		{InvoiceStatusViewed, InvoiceStatusPaid},
		{InvoiceStatusViewed, InvoiceStatusOverdue},
		{InvoiceStatusViewed, InvoiceStatusCancelled},
		{InvoiceStatusOverdue, InvoiceStatusPaid},
		{InvoiceStatusOverdue, InvoiceStatusCancelled},
	}
	for _, tt := range allowed {
		if !tt.from.CanTransitionTo(tt.to) {
			t.Fatalf("expected %s -> %s to be legal", tt.from, tt.to)
		}
	}

	denied := []struct {
		from InvoiceStatus
		to   InvoiceStatus
	}{
		{InvoiceStatusDraft, InvoiceStatusViewed},
		{InvoiceStatusDraft, InvoiceStatusPaid},
		{InvoiceStatusDraft, InvoiceStatusOverdue},
		{InvoiceStatusViewed, InvoiceStatusSent},
		{InvoiceStatusPaid, InvoiceStatusCancelled},
		{InvoiceStatusPaid, InvoiceStatusSent},
		{InvoiceStatusCancelled, InvoiceStatusSent},
		{InvoiceStatusCancelled, InvoiceStatusPaid},
		{InvoiceStatusOverdue, InvoiceStatusViewed},
	}
	for _, tt := range denied {
		if tt.from.CanTransitionTo(tt.to) {
			t.Fatalf("expected %s -> %s to be illegal", tt.from, tt.to)
		}
	}
}

func TestInvoiceStatusTerminal(t *testing.T) {
	for _, status := range []InvoiceStatus{InvoiceStatusPaid, InvoiceStatusCancelled} {
		if !status.IsTerminal() {
			t.Fatalf("expected %s to be terminal", status)
		}
	}
	for _, status := range OpenInvoiceStatuses() {
		if status.IsTerminal() {
			t.Fatalf("open status %s must not be terminal", status)
		}
	}
}

func TestParseInvoiceStatus(t *testing.T) {
	status, err := ParseInvoiceStatus("overdue")
	if err != nil {
		t.Fatalf("ParseInvoiceStatus: %v", err)
	}
	if status != InvoiceStatusOverdue {
		t.Fatalf("unexpected status %s", status)
	}
	if _, err := ParseInvoiceStatus("deleted"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestReportPeriodWindowStart(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if got := ReportPeriodWeek.WindowStart(now); !got.Equal(now.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("week window start = %v", got)
	}
	if got := ReportPeriodQuarter.WindowStart(now); !got.Equal(now.Add(-90 * 24 * time.Hour)) {
		t.Fatalf("quarter window start = %v", got)
	}
	if got := ReportPeriodAll.WindowStart(now); !got.Equal(time.Unix(0, 0).UTC()) {
		t.Fatalf("all window start = %v", got)
	}
}

func TestParseReportPeriodDefault(t *testing.T) {
	period, err := ParseReportPeriod("")
	if err != nil {
		t.Fatalf("ParseReportPeriod: %v", err)
	}
	if period != ReportPeriodMonth {
		t.Fatalf("expected month default, got %s", period)
	}
	if _, err := ParseReportPeriod("decade"); err == nil {
		t.Fatal("expected error for unknown period")
	}
}
