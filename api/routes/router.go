package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tutorbill/tutorbill-backend/api/controllers"
	webhookcontrollers "github.com/tutorbill/tutorbill-backend/api/controllers/webhooks"
	"github.com/tutorbill/tutorbill-backend/api/middleware"
	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/internal/notifications"
	"github.com/tutorbill/tutorbill-backend/internal/reports"
	"github.com/tutorbill/tutorbill-backend/pkg/config"
	"github.com/tutorbill/tutorbill-backend/pkg/enums"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

// RouterParams collects every dependency the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	Invoices      invoices.Service
	Reports       reports.Service
	Notifications notifications.Service
	StripeWebhook webhookcontrollers.StripeWebhookService
	StripeClient  interface{ SigningSecret() string }
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	invoicesCtrl := controllers.NewInvoicesController(controllers.InvoicesControllerParams{
		Service: params.Invoices,
		Logger:  logg,
	})
	reportsCtrl := controllers.NewReportsController(controllers.ReportsControllerParams{
		Service: params.Reports,
		Logger:  logg,
	})
	notificationsCtrl := controllers.NewNotificationsController(controllers.NotificationsControllerParams{
		Service: params.Notifications,
		Logger:  logg,
	})

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(params.StripeWebhook, params.StripeClient, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/invoices", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, string(enums.UserRoleTutor))).
				Post("/", invoicesCtrl.Create)
			r.With(middleware.RequireRole(logg, string(enums.UserRoleTutor))).
				Post("/{id}/send", invoicesCtrl.Send)
			r.With(middleware.RequireRole(logg, string(enums.UserRoleParent))).
				Post("/{id}/mark-viewed", invoicesCtrl.MarkViewed)
			r.Delete("/{id}", invoicesCtrl.Cancel)
			r.Get("/", invoicesCtrl.List)
			r.Get("/{id}", invoicesCtrl.Detail)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, string(enums.UserRoleTutor)))
				r.Get("/statistics", reportsCtrl.TutorStatistics)
				r.Get("/revenue", reportsCtrl.Revenue)
				r.Get("/outstanding", reportsCtrl.Outstanding)
				r.Get("/export.csv", reportsCtrl.ExportCSV)
			})
			r.With(middleware.RequireRole(logg, string(enums.UserRoleParent))).
				Get("/payments", reportsCtrl.PaymentHistory)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", notificationsCtrl.List)
			r.Post("/{id}/read", notificationsCtrl.MarkRead)
			r.Post("/read-all", notificationsCtrl.MarkAllRead)
		})
	})

	return r
}
