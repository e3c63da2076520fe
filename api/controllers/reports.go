package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tutorbill/tutorbill-backend/api/responses"
	"github.com/tutorbill/tutorbill-backend/api/validators"
	"github.com/tutorbill/tutorbill-backend/internal/reports"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

type ReportsController struct {
	service reports.Service
	logger  *logger.Logger
}

type ReportsControllerParams struct {
	Service reports.Service
	Logger  *logger.Logger
}

func NewReportsController(params ReportsControllerParams) *ReportsController {
	return &ReportsController{
		service: params.Service,
		logger:  params.Logger,
	}
}

func (c *ReportsController) TutorStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	period, err := enums.ParseReportPeriod(r.URL.Query().Get("period"))
	if err != nil {
		responses.WriteError(ctx, c.logger, w, pkgerrors.New(pkgerrors.CodeValidation, err.Error()))
		return
	}

	report, err := c.service.GetTutorStatistics(ctx, actor.UserID, period)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	c.writeReport(w, r, report)
}

func (c *ReportsController) Revenue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	start, err := validators.ParseQueryDate(r, "start_date")
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	end, err := validators.ParseQueryDate(r, "end_date")
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	report, err := c.service.GetRevenueReport(ctx, actor.UserID, start, end)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	c.writeReport(w, r, report)
}

func (c *ReportsController) Outstanding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	report, err := c.service.GetOutstandingInvoices(ctx, actor.UserID)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	c.writeReport(w, r, report)
}

func (c *ReportsController) PaymentHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	period, err := enums.ParseReportPeriod(r.URL.Query().Get("period"))
	if err != nil {
		responses.WriteError(ctx, c.logger, w, pkgerrors.New(pkgerrors.CodeValidation, err.Error()))
		return
	}

	report, err := c.service.GetPaymentHistory(ctx, actor.UserID, period)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	c.writeReport(w, r, report)
}

func (c *ReportsController) ExportCSV(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.csv"`)

	if err := c.service.ExportCSV(ctx, actor.UserID, w); err != nil {
		// Headers may already be flushed; log instead of rewriting the status.
		if c.logger != nil {
			c.logger.Error(ctx, "csv export failed", err)
		}
	}
}

// writeReport sets the ETag header and answers conditional requests with 304
// when the client already holds the current report revision.
func (c *ReportsController) writeReport(w http.ResponseWriter, r *http.Request, report *reports.Report) {
	etag := fmt.Sprintf("%q", report.ETag)
	w.Header().Set("ETag", etag)

	if etagMatches(r.Header.Get("If-None-Match"), report.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	responses.WriteSuccess(w, json.RawMessage(report.Data))
}

// etagMatches evaluates an If-None-Match header against the current ETag.
// The header may carry "*" or a comma-separated list of (possibly weak)
// entity tags.
func etagMatches(header, current string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == current {
			return true
		}
	}
	return false
}
