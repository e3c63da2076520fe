package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tutorbill/tutorbill-backend/api/routes"
	"github.com/tutorbill/tutorbill-backend/internal/broadcast"
	"github.com/tutorbill/tutorbill-backend/internal/invoices"
	"github.com/tutorbill/tutorbill-backend/internal/messaging"
	"github.com/tutorbill/tutorbill-backend/internal/notifications"
	"github.com/tutorbill/tutorbill-backend/internal/payments"
	"github.com/tutorbill/tutorbill-backend/internal/reports"
	"github.com/tutorbill/tutorbill-backend/internal/students"
	"github.com/tutorbill/tutorbill-backend/pkg/config"
	"github.com/tutorbill/tutorbill-backend/pkg/db"
	"github.com/tutorbill/tutorbill-backend/pkg/logger"
	"github.com/tutorbill/tutorbill-backend/pkg/metrics"
	"github.com/tutorbill/tutorbill-backend/pkg/migrate"
	"github.com/tutorbill/tutorbill-backend/pkg/pubsub"
	"github.com/tutorbill/tutorbill-backend/pkg/redis"
	"github.com/tutorbill/tutorbill-backend/pkg/stripe"
	"github.com/tutorbill/tutorbill-backend/pkg/telegram"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	studentsService, err := students.NewService(students.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create students service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.ServiceParams{
		Repo:   notifications.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	cacheMetrics := metrics.NewReportCacheMetrics(prometheus.DefaultRegisterer)
	reportCache, err := reports.NewCache(redisClient, cacheMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create report cache", err)
		os.Exit(1)
	}

	reportsService, err := reports.NewService(reports.ServiceParams{
		Repo:   reports.NewRepository(dbClient.DB()),
		Cache:  reportCache,
		Config: cfg.Cache,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reports service", err)
		os.Exit(1)
	}

	var broadcaster invoices.Broadcaster
	if cfg.Broadcast.Enabled() {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.Broadcast, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()

		broadcaster, err = broadcast.NewBroadcaster(broadcast.BroadcasterParams{
			Publisher: broadcast.WrapPublisher(pubsubClient.InvoiceEventPublisher()),
			Directory: studentsService,
			Logger:    logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create broadcaster", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "broadcast disabled, invoice events will not be published")
	}

	var messenger invoices.Messenger
	if cfg.Telegram.Enabled() {
		telegramClient, err := telegram.NewClient(cfg.Telegram, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create telegram client", err)
			os.Exit(1)
		}

		messenger, err = messaging.NewTelegramMessenger(messaging.TelegramMessengerParams{
			Chat:   telegramClient,
			Users:  students.NewRepository(dbClient.DB()),
			Logger: logg,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create telegram messenger", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "telegram disabled, invoice chat messages will not be delivered")
	}

	fanout, err := invoices.NewFanout(notificationsService, broadcaster, messenger, reportsService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create fanout", err)
		os.Exit(1)
	}

	invoicesService, err := invoices.NewService(invoices.ServiceParams{
		Repo:              invoices.NewRepository(dbClient.DB()),
		Directory:         studentsService,
		Tx:                dbClient,
		Fanout:            fanout,
		Logger:            logg,
		MaxDescriptionLen: cfg.Invoice.MaxDescriptionLen,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoices service", err)
		os.Exit(1)
	}

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	paymentsGuard, err := payments.NewIdempotencyGuard(redisClient, cfg.Stripe.IdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create payments idempotency guard", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.ServiceParams{
		Repo:     payments.NewRepository(dbClient.DB()),
		Invoices: invoicesService,
		Guard:    paymentsGuard,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			Invoices:      invoicesService,
			Reports:       reportsService,
			Notifications: notificationsService,
			StripeWebhook: paymentsService,
			StripeClient:  stripeClient,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
