package reports

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
)

// Report is the cache-shaped result every read operation returns. Data holds
// the marshaled payload; ETag is a content hash the presentation layer uses
// for conditional reads.
type Report struct {
	Data        json.RawMessage `json:"data"`
	ETag        string          `json:"etag"`
	GeneratedAt time.Time       `json:"timestamp"`
	FromCache   bool            `json:"-"`
}

// TutorStatistics aggregates a tutor's invoices over a rolling window.
type TutorStatistics struct {
	Period        enums.ReportPeriod `json:"period"`
	TotalInvoices int                `json:"total_invoices"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	PaidCount     int                `json:"paid_count"`
	PaidAmount    decimal.Decimal    `json:"paid_amount"`
	AverageAmount decimal.Decimal    `json:"average_amount"`
	PaymentRate   float64            `json:"payment_rate"`
	DueCount      int                `json:"due_count"`
	OverdueCount  int                `json:"overdue_count"`
	PendingCount  int                `json:"pending_count"`
}

// RevenueReport buckets a tutor's invoices by settlement state over an
// explicit date range.
type RevenueReport struct {
	StartDate     string           `json:"start_date"`
	EndDate       string           `json:"end_date"`
	PaidAmount    decimal.Decimal  `json:"paid_amount"`
	PendingAmount decimal.Decimal  `json:"pending_amount"`
	OverdueAmount decimal.Decimal  `json:"overdue_amount"`
	Daily         []DailyRevenue   `json:"daily"`
}

// DailyRevenue is one day's worth of collected payments.
type DailyRevenue struct {
	Date   string          `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// OutstandingInvoice is an unpaid invoice annotated with its lateness.
type OutstandingInvoice struct {
	Invoice     models.Invoice `json:"invoice"`
	DaysOverdue int            `json:"days_overdue"`
}

// OutstandingReport lists a tutor's unpaid invoices, most urgent first.
type OutstandingReport struct {
	Invoices []OutstandingInvoice `json:"invoices"`
	Total    decimal.Decimal      `json:"total"`
}

// PaymentHistory lists a parent's settled invoices, newest first.
type PaymentHistory struct {
	Period   enums.ReportPeriod `json:"period"`
	Invoices []models.Invoice   `json:"invoices"`
	Total    decimal.Decimal    `json:"total"`
}
