package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/habits-backend/internal/subscriptions"
	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
	"go.uber.org/multierr"
)

const (
	graceReconcileJobName  = "grace-reconcile"
	defaultGraceBatchLimit = 250
)

type graceCandidateLister interface {
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

type graceExpirer interface {
	ExpireGrace(ctx context.Context, sub models.Subscription) (subscriptions.Outcome, error)
}

type GraceReconcileJobParams struct {
	Logger     *logger.Logger
	Candidates graceCandidateLister
	Lifecycle  graceExpirer
	Metrics    *metrics.CronJobMetrics
	BatchLimit int
}

func NewGraceReconcileJob(params GraceReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Candidates == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("lifecycle service required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultGraceBatchLimit
	}
	return &graceReconcileJob{
		logg:       params.Logger,
		candidates: params.Candidates,
		lifecycle:  params.Lifecycle,
		metrics:    params.Metrics,
		limit:      limit,
		now:        time.Now,
	}, nil
}

// graceReconcileJob downgrades past_due subscriptions whose grace deadline
// has passed. Each row is expired in its own transaction; one failing row
// does not stop the sweep.
type graceReconcileJob struct {
	logg       *logger.Logger
	candidates graceCandidateLister
	lifecycle  graceExpirer
	metrics    *metrics.CronJobMetrics
	limit      int
	now        func() time.Time
}

func (j *graceReconcileJob) Name() string { return graceReconcileJobName }

func (j *graceReconcileJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	rows, err := j.candidates.ListGraceExpired(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list grace-expired subscriptions: %w", err)
	}

	var (
		errs       error
		downgraded int
		skipped    int
		failed     int
	)
	for _, sub := range rows {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		out, err := j.lifecycle.ExpireGrace(ctx, sub)
		if err != nil {
			failed++
			errs = multierr.Append(errs, fmt.Errorf("subscription %s: %w", sub.ID, err))
			j.logg.Error(j.logg.WithSubscriptionID(ctx, sub.ID.String()), "grace expiry failed", err)
			continue
		}
		if out.Action == subscriptions.ActionDowngrade {
			downgraded++
		} else {
			// Recovered or canceled between listing and locking.
			skipped++
		}
	}

	j.metrics.AddItems(j.Name(), "downgraded", downgraded)
	j.metrics.AddItems(j.Name(), "skipped", skipped)
	j.metrics.AddItems(j.Name(), "failed", failed)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(rows),
		"downgraded": downgraded,
		"skipped":    skipped,
		"failed":     failed,
		"batch_full": len(rows) == j.limit,
	})
	j.logg.Info(logCtx, "grace reconcile sweep complete")
	return errs
}
