package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tutorbill/tutorbill-backend/api/responses"
	"github.com/tutorbill/tutorbill-backend/api/validators"
	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

const dueDateLayout = "2006-01-02"

type InvoicesController struct {
	service invoices.Service
	logger  *logger.Logger
}

type InvoicesControllerParams struct {
	Service invoices.Service
	Logger  *logger.Logger
}

func NewInvoicesController(params InvoicesControllerParams) *InvoicesController {
	return &InvoicesController{
		service: params.Service,
		logger:  params.Logger,
	}
}

type createInvoiceRequest struct {
	StudentID    string  `json:"student_id" validate:"required,uuid"`
	Amount       string  `json:"amount" validate:"required"`
	Description  string  `json:"description" validate:"required"`
	DueDate      string  `json:"due_date" validate:"required"`
	EnrollmentID *string `json:"enrollment_id" validate:"omitempty,uuid"`
}

type cancelInvoiceRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=500"`
}

func (c *InvoicesController) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	var body createInvoiceRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	input, err := c.buildCreateInput(actor.UserID, body)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoice, err := c.service.CreateInvoice(ctx, input)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccessStatus(w, http.StatusCreated, invoice)
}

func (c *InvoicesController) buildCreateInput(tutorID uuid.UUID, body createInvoiceRequest) (invoices.CreateInvoiceInput, error) {
	studentID, err := uuid.Parse(body.StudentID)
	if err != nil {
		return invoices.CreateInvoiceInput{}, pkgerrors.New(pkgerrors.CodeValidation, "student_id must be a valid uuid")
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		return invoices.CreateInvoiceInput{}, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal number")
	}

	dueDate, err := time.Parse(dueDateLayout, body.DueDate)
	if err != nil {
		return invoices.CreateInvoiceInput{}, pkgerrors.New(pkgerrors.CodeValidation, "due_date must be a YYYY-MM-DD date")
	}

	input := invoices.CreateInvoiceInput{
		TutorID:     tutorID,
		StudentID:   studentID,
		Amount:      amount,
		Description: body.Description,
		DueDate:     dueDate,
	}

	if body.EnrollmentID != nil {
		enrollmentID, err := uuid.Parse(*body.EnrollmentID)
		if err != nil {
			return invoices.CreateInvoiceInput{}, pkgerrors.New(pkgerrors.CodeValidation, "enrollment_id must be a valid uuid")
		}
		input.EnrollmentID = &enrollmentID
	}

	return input, nil
}

func (c *InvoicesController) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoiceID, err := invoiceIDParam(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoice, err := c.service.SendInvoice(ctx, invoiceID, actor.UserID)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, invoice)
}

func (c *InvoicesController) MarkViewed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoiceID, err := invoiceIDParam(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoice, err := c.service.MarkViewed(ctx, invoiceID, actor.UserID)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, invoice)
}

func (c *InvoicesController) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoiceID, err := invoiceIDParam(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	var body cancelInvoiceRequest
	if r.ContentLength > 0 {
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, c.logger, w, err)
			return
		}
	}

	invoice, err := c.service.CancelInvoice(ctx, invoiceID, actor.UserID, body.Reason)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, invoice)
}

func (c *InvoicesController) Detail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	invoiceID, err := invoiceIDParam(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	detail, err := c.service.GetDetail(ctx, invoiceID, actor)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, detail)
}

func (c *InvoicesController) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	limit, err := validators.ParseQueryInt(r, "limit", 0)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	params := invoices.ListInvoicesParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := enums.ParseInvoiceStatus(raw)
		if err != nil {
			responses.WriteError(ctx, c.logger, w, pkgerrors.New(pkgerrors.CodeValidation, err.Error()))
			return
		}
		params.Status = &status
	}

	list, err := c.service.ListInvoices(ctx, actor, params)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, list)
}

func invoiceIDParam(r *http.Request) (uuid.UUID, error) {
	invoiceID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id must be a valid uuid")
	}
	return invoiceID, nil
}
