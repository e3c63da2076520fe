package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/tutorbill/tutorbill-backend/pkg/logger"
)

const notificationRetentionDays = 30

// notificationPruner is the slice of the notification service the job calls.
type notificationPruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type NotificationCleanupJobParams struct {
	Logger        *logger.Logger
	Notifications notificationPruner
	RetentionDays int
	Now           func() time.Time
}

// NewNotificationCleanupJob builds the retention job that removes old
// in-app notifications.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Notifications == nil {
		return nil, fmt.Errorf("notification service required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = notificationRetentionDays
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &notificationCleanupJob{
		logg:      params.Logger,
		pruner:    params.Notifications,
		retention: retention,
		now:       now,
	}, nil
}

type notificationCleanupJob struct {
	logg      *logger.Logger
	pruner    notificationPruner
	retention int
	now       func() time.Time
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.pruner.Prune(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "notification cleanup complete")
	return nil
}
