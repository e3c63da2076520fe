package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/pkg/config"
	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// Service is the read-side reporting API over the invoice ledger.
type Service interface {
	GetTutorStatistics(ctx context.Context, tutorID uuid.UUID, period enums.ReportPeriod) (*Report, error)
	GetRevenueReport(ctx context.Context, tutorID uuid.UUID, start, end time.Time) (*Report, error)
	GetOutstandingInvoices(ctx context.Context, tutorID uuid.UUID) (*Report, error)
	GetPaymentHistory(ctx context.Context, parentID uuid.UUID, period enums.ReportPeriod) (*Report, error)
	ExportCSV(ctx context.Context, tutorID uuid.UUID, w io.Writer) error
	InvalidateTutor(ctx context.Context, tutorID uuid.UUID)
}

// ServiceParams collects the reporting service dependencies.
type ServiceParams struct {
	Repo   Repository
	Cache  *Cache
	Config config.CacheConfig
	Logger *logger.Logger
	// Now is overridable in tests; defaults to time.Now.
	Now func() time.Time
}

type service struct {
	repo          Repository
	cache         *Cache
	statisticsTTL time.Duration
	revenueTTL    time.Duration
	logger        *logger.Logger
	now           func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("reports repository required")
	}
	if params.Cache == nil {
		return nil, fmt.Errorf("report cache required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:          params.Repo,
		cache:         params.Cache,
		statisticsTTL: params.Config.StatisticsTTL,
		revenueTTL:    params.Config.RevenueTTL,
		logger:        params.Logger,
		now:           now,
	}, nil
}

// GetTutorStatistics aggregates the tutor's invoices created inside the
// rolling window. Cached for the statistics TTL.
func (s *service) GetTutorStatistics(ctx context.Context, tutorID uuid.UUID, period enums.ReportPeriod) (*Report, error) {
	if tutorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tutor id is required")
	}
	if !period.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid report period")
	}

	hash := filtersHash(period.String())
	if cached := s.cache.Lookup(ctx, kindStatistics, tutorID, hash); cached != nil {
		return cached, nil
	}

	now := s.now().UTC()
	invoices, err := s.repo.ListByTutorSince(ctx, tutorID, period.WindowStart(now))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tutor invoices")
	}

	stats := computeStatistics(period, invoices)
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode statistics")
	}
	return s.cache.Save(ctx, kindStatistics, tutorID, hash, data, now, s.statisticsTTL), nil
}

// GetRevenueReport buckets invoices created in [start, end] by settlement
// state and breaks collected amounts down per day. Cached for the revenue
// TTL.
func (s *service) GetRevenueReport(ctx context.Context, tutorID uuid.UUID, start, end time.Time) (*Report, error) {
	if tutorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tutor id is required")
	}
	startDay := dateOnly(start)
	endDay := dateOnly(end)
	if startDay.After(endDay) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "start date must not be after end date")
	}

	hash := filtersHash(startDay.Format(dateLayout), endDay.Format(dateLayout))
	if cached := s.cache.Lookup(ctx, kindRevenue, tutorID, hash); cached != nil {
		return cached, nil
	}

	invoices, err := s.repo.ListByTutorBetween(ctx, tutorID, startDay, endDay.AddDate(0, 0, 1))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tutor invoices")
	}

	report := computeRevenue(startDay, endDay, invoices)
	data, err := json.Marshal(report)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode revenue report")
	}
	return s.cache.Save(ctx, kindRevenue, tutorID, hash, data, s.now().UTC(), s.revenueTTL), nil
}

// GetOutstandingInvoices lists the tutor's unpaid invoices ordered by due
// date ascending, each annotated with days overdue.
func (s *service) GetOutstandingInvoices(ctx context.Context, tutorID uuid.UUID) (*Report, error) {
	if tutorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tutor id is required")
	}

	hash := filtersHash(kindOutstanding)
	if cached := s.cache.Lookup(ctx, kindOutstanding, tutorID, hash); cached != nil {
		return cached, nil
	}

	invoices, err := s.repo.ListOutstanding(ctx, tutorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load outstanding invoices")
	}

	now := s.now().UTC()
	report := OutstandingReport{
		Invoices: make([]OutstandingInvoice, 0, len(invoices)),
		Total:    decimal.Zero,
	}
	for _, invoice := range invoices {
		report.Invoices = append(report.Invoices, OutstandingInvoice{
			Invoice:     invoice,
			DaysOverdue: invoice.DaysOverdue(now),
		})
		report.Total = report.Total.Add(invoice.Amount)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode outstanding report")
	}
	return s.cache.Save(ctx, kindOutstanding, tutorID, hash, data, now, s.revenueTTL), nil
}

// GetPaymentHistory lists the parent's settled invoices inside the rolling
// window, newest payment first.
func (s *service) GetPaymentHistory(ctx context.Context, parentID uuid.UUID, period enums.ReportPeriod) (*Report, error) {
	if parentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "parent id is required")
	}
	if !period.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid report period")
	}

	hash := filtersHash(kindPaymentHistory, period.String())
	if cached := s.cache.Lookup(ctx, kindPaymentHistory, parentID, hash); cached != nil {
		return cached, nil
	}

	now := s.now().UTC()
	invoices, err := s.repo.ListPaidByParent(ctx, parentID, period.WindowStart(now))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment history")
	}

	history := PaymentHistory{
		Period:   period,
		Invoices: invoices,
		Total:    decimal.Zero,
	}
	for _, invoice := range invoices {
		history.Total = history.Total.Add(invoice.Amount)
	}

	data, err := json.Marshal(history)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode payment history")
	}
	return s.cache.Save(ctx, kindPaymentHistory, parentID, hash, data, now, s.revenueTTL), nil
}

// ExportCSV streams the tutor's full ledger as CSV. Exports always read
// fresh rows, never the cache.
func (s *service) ExportCSV(ctx context.Context, tutorID uuid.UUID, w io.Writer) error {
	if tutorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "tutor id is required")
	}
	invoices, err := s.repo.ListForExport(ctx, tutorID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoices for export")
	}

	ids := make([]uuid.UUID, 0, len(invoices)*2)
	seen := map[uuid.UUID]struct{}{}
	for _, invoice := range invoices {
		for _, id := range []uuid.UUID{invoice.StudentID, invoice.ParentID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	names, err := s.repo.UserNames(ctx, ids)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve user names")
	}
	return WriteCSV(w, invoices, names)
}

// InvalidateTutor drops the tutor's cached reports. Called by the invoice
// fan-out after every ledger mutation.
func (s *service) InvalidateTutor(ctx context.Context, tutorID uuid.UUID) {
	s.cache.InvalidateTutor(ctx, tutorID)
}

func computeStatistics(period enums.ReportPeriod, invoices []models.Invoice) TutorStatistics {
	stats := TutorStatistics{
		Period:        period,
		TotalAmount:   decimal.Zero,
		PaidAmount:    decimal.Zero,
		AverageAmount: decimal.Zero,
	}
	for _, invoice := range invoices {
		stats.TotalInvoices++
		stats.TotalAmount = stats.TotalAmount.Add(invoice.Amount)
		switch invoice.Status {
		case enums.InvoiceStatusPaid:
			stats.PaidCount++
			stats.PaidAmount = stats.PaidAmount.Add(invoice.Amount)
		case enums.InvoiceStatusSent, enums.InvoiceStatusViewed:
			stats.DueCount++
		case enums.InvoiceStatusOverdue:
			stats.OverdueCount++
		case enums.InvoiceStatusDraft:
			stats.PendingCount++
		}
	}
	if stats.TotalInvoices > 0 {
		stats.AverageAmount = stats.TotalAmount.
			Div(decimal.NewFromInt(int64(stats.TotalInvoices))).
			Round(2)
		rate := decimal.NewFromInt(int64(stats.PaidCount)).
			Div(decimal.NewFromInt(int64(stats.TotalInvoices))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
		stats.PaymentRate, _ = rate.Float64()
	}
	return stats
}

func computeRevenue(startDay, endDay time.Time, invoices []models.Invoice) RevenueReport {
	report := RevenueReport{
		StartDate:     startDay.Format(dateLayout),
		EndDate:       endDay.Format(dateLayout),
		PaidAmount:    decimal.Zero,
		PendingAmount: decimal.Zero,
		OverdueAmount: decimal.Zero,
		Daily:         []DailyRevenue{},
	}
	daily := map[string]decimal.Decimal{}
	for _, invoice := range invoices {
		switch invoice.Status {
		case enums.InvoiceStatusPaid:
			report.PaidAmount = report.PaidAmount.Add(invoice.Amount)
			if invoice.PaidAt != nil {
				day := dateOnly(*invoice.PaidAt).Format(dateLayout)
				daily[day] = daily[day].Add(invoice.Amount)
			}
		case enums.InvoiceStatusSent, enums.InvoiceStatusViewed:
			report.PendingAmount = report.PendingAmount.Add(invoice.Amount)
		case enums.InvoiceStatusOverdue:
			report.OverdueAmount = report.OverdueAmount.Add(invoice.Amount)
		}
	}
	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days {
		report.Daily = append(report.Daily, DailyRevenue{Date: day, Amount: daily[day]})
	}
	return report
}

const dateLayout = "2006-01-02"

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
