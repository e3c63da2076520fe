package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tutorbill/tutorbill-backend/api/responses"
	"github.com/tutorbill/tutorbill-backend/api/validators"
	"github.com/tutorbill/tutorbill-backend/internal/notifications"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

type NotificationsController struct {
	service notifications.Service
	logger  *logger.Logger
}

type NotificationsControllerParams struct {
	Service notifications.Service
	Logger  *logger.Logger
}

func NewNotificationsController(params NotificationsControllerParams) *NotificationsController {
	return &NotificationsController{
		service: params.Service,
		logger:  params.Logger,
	}
}

func (c *NotificationsController) List(w http.ResponseWriter, r *http.Request) {
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

	unreadOnly, err := validators.ParseQueryBool(r, "unread_only", false)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	result, err := c.service.List(ctx, notifications.ListParams{
		UserID:     actor.UserID,
		Limit:      limit,
		Cursor:     r.URL.Query().Get("cursor"),
		UnreadOnly: unreadOnly,
	})
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, result)
}

func (c *NotificationsController) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	notificationID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		responses.WriteError(ctx, c.logger, w, pkgerrors.New(pkgerrors.CodeValidation, "notification id must be a valid uuid"))
		return
	}

	if err := c.service.MarkRead(ctx, actor.UserID, notificationID); err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, map[string]string{"status": "read"})
}

func (c *NotificationsController) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	actor, err := requestActor(r)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	updated, err := c.service.MarkAllRead(ctx, actor.UserID)
	if err != nil {
		responses.WriteError(ctx, c.logger, w, err)
		return
	}

	responses.WriteSuccess(w, map[string]int64{"updated": updated})
}
