package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
)

const (
	eventRetentionJobName  = "processed-event-retention"
	defaultEventPruneLimit = 5000
)

type processedEventPruner interface {
	Prune(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type EventRetentionJobParams struct {
	Logger    *logger.Logger
	Pruner    processedEventPruner
	Metrics   *metrics.CronJobMetrics
	Retention time.Duration
	Limit     int
}

// NewEventRetentionJob drops processed-event records older than the
// retention window. Records are permanent unless Retention is positive; the
// window must then outlast the provider's redelivery period.
func NewEventRetentionJob(params EventRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Pruner == nil {
		return nil, fmt.Errorf("processed event pruner required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultEventPruneLimit
	}
	return &eventRetentionJob{
		logg:      params.Logger,
		pruner:    params.Pruner,
		metrics:   params.Metrics,
		retention: params.Retention,
		limit:     limit,
		now:       time.Now,
	}, nil
}

type eventRetentionJob struct {
	logg      *logger.Logger
	pruner    processedEventPruner
	metrics   *metrics.CronJobMetrics
	retention time.Duration
	limit     int
	now       func() time.Time
}

func (j *eventRetentionJob) Name() string { return eventRetentionJobName }

func (j *eventRetentionJob) Run(ctx context.Context) error {
	if j.retention <= 0 {
		return nil
	}
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.pruner.Prune(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("processed event retention: %w", err)
	}
	j.metrics.AddItems(j.Name(), "deleted", int(deleted))
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "processed event retention complete")
	return nil
}
