package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tutorbill/tutorbill-backend/internal/notifications"
	"github.com/tutorbill/tutorbill-backend/pkg/db/models"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	pkgerrors "github.com/tutorbill/tutorbill-backend/pkg/errors"
)

type fakeNotificationService struct {
	listParams   *notifications.ListParams
	result       *notifications.ListResult
	readUser     uuid.UUID
	readID       uuid.UUID
	markAllUser  uuid.UUID
	markAllCount int64
	err          error
}

func (f *fakeNotificationService) Notify(ctx context.Context, invoice *models.Invoice, event enums.NotificationEvent) error {
	return f.err
}

func (f *fakeNotificationService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	f.listParams = &params
	return f.result, f.err
}

func (f *fakeNotificationService) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	f.readUser = userID
	f.readID = notificationID
	return f.err
}

func (f *fakeNotificationService) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	f.markAllUser = userID
	return f.markAllCount, f.err
}

func (f *fakeNotificationService) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, f.err
}

func TestNotificationsList(t *testing.T) {
	userID := uuid.New()
	svc := &fakeNotificationService{result: &notifications.ListResult{Cursor: "next-cursor"}}
	ctrl := NewNotificationsController(NotificationsControllerParams{Service: svc, Logger: controllerTestLogger()})

	req := authedRequest(http.MethodGet, "/api/v1/notifications?limit=10&unread_only=true&cursor=abc", nil, userID, enums.UserRoleParent)
	rec := httptest.NewRecorder()

	ctrl.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.listParams)
	require.Equal(t, userID, svc.listParams.UserID)
	require.Equal(t, 10, svc.listParams.Limit)
	require.Equal(t, "abc", svc.listParams.Cursor)
	require.True(t, svc.listParams.UnreadOnly)
	require.Contains(t, rec.Body.String(), "next-cursor")
}

func TestNotificationsListRejectsBadLimit(t *testing.T) {
	ctrl := NewNotificationsController(NotificationsControllerParams{Service: &fakeNotificationService{}, Logger: controllerTestLogger()})

	req := authedRequest(http.MethodGet, "/api/v1/notifications?limit=ten", nil, uuid.New(), enums.UserRoleParent)
	rec := httptest.NewRecorder()

	ctrl.List(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationsMarkRead(t *testing.T) {
	userID := uuid.New()
	notificationID := uuid.New()
	svc := &fakeNotificationService{}
	ctrl := NewNotificationsController(NotificationsControllerParams{Service: svc, Logger: controllerTestLogger()})

	req := authedRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil, userID, enums.UserRoleParent)
	req = withURLParam(req, "id", notificationID.String())
	rec := httptest.NewRecorder()

	ctrl.MarkRead(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, userID, svc.readUser)
	require.Equal(t, notificationID, svc.readID)
}

func TestNotificationsMarkReadNotFound(t *testing.T) {
	svc := &fakeNotificationService{err: pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")}
	ctrl := NewNotificationsController(NotificationsControllerParams{Service: svc, Logger: controllerTestLogger()})

	notificationID := uuid.New()
	req := authedRequest(http.MethodPost, "/api/v1/notifications/"+notificationID.String()+"/read", nil, uuid.New(), enums.UserRoleParent)
	req = withURLParam(req, "id", notificationID.String())
	rec := httptest.NewRecorder()

	ctrl.MarkRead(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotificationsMarkAllRead(t *testing.T) {
	userID := uuid.New()
	svc := &fakeNotificationService{markAllCount: 4}
	ctrl := NewNotificationsController(NotificationsControllerParams{Service: svc, Logger: controllerTestLogger()})

	req := authedRequest(http.MethodPost, "/api/v1/notifications/read-all", nil, userID, enums.UserRoleParent)
	rec := httptest.NewRecorder()

	ctrl.MarkAllRead(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, userID, svc.markAllUser)
	require.Contains(t, rec.Body.String(), `"updated":4`)
}
