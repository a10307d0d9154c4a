package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/habits-backend/internal/billing"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the lifecycle service.
type ServiceParams struct {
	Repo              billing.Repository
	Engine            *Engine
	Invalidator       entitlements.Invalidator
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.TransitionMetrics
	GracePeriod       time.Duration
	Now               func() time.Time
}

// Service applies lifecycle events to subscription rows. Each Apply is one
// transaction: the user's row is read under lock, the next state computed by
// Transition, and the row plus any habit archiving written together.
type Service struct {
	repo        billing.Repository
	engine      *Engine
	invalidator entitlements.Invalidator
	tx          txRunner
	logg        *logger.Logger
	metrics     *metrics.TransitionMetrics
	grace       time.Duration
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("subscription repository required")
	}
	if params.Engine == nil {
		return nil, errors.New("downgrade engine required")
	}
	if params.Invalidator == nil {
		return nil, errors.New("entitlement invalidator required")
	}
	if params.TransactionRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	grace := params.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        params.Repo,
		engine:      params.Engine,
		invalidator: params.Invalidator,
		tx:          params.TransactionRunner,
		logg:        logg,
		metrics:     params.Metrics,
		grace:       grace,
		now:         now,
	}, nil
}

// Outcome reports what Apply did.
type Outcome struct {
	UserID         uuid.UUID
	Action         Action
	Reason         string
	Subscription   *models.Subscription
	HabitsArchived int
	HabitsRestored int
}

// Changed reports whether the event mutated any row.
func (o Outcome) Changed() bool {
	return o.Action != ActionNone
}

// Apply runs evt through the state machine. Skipped events (stale, for an
// unknown user, unmodeled) return a zero-action Outcome and no error.
func (s *Service) Apply(ctx context.Context, evt Event) (Outcome, error) {
	ctx = s.logg.WithEvent(ctx, evt.ID, evt.Type)
	var out Outcome

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		out = Outcome{}
		repo := s.repo.WithTx(tx)

		userID, err := s.resolveUser(ctx, repo, evt)
		if err != nil {
			return err
		}
		if userID == uuid.Nil {
			out.Reason = ReasonUnknownUser
			return nil
		}
		out.UserID = userID
		evt.UserID = userID

		current, err := repo.FindCurrentByUserForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("load current subscription: %w", err)
		}

		decision := Transition(current, evt, s.now(), s.grace)
		out.Action = decision.Action
		out.Reason = decision.Reason
		out.Subscription = decision.Next

		switch decision.Action {
		case ActionNone:
			return nil
		case ActionCreate:
			if err := repo.CreateSubscription(ctx, decision.Next); err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
		case ActionUpdate:
			if err := repo.SaveSubscription(ctx, decision.Next); err != nil {
				return fmt.Errorf("update subscription: %w", err)
			}
		case ActionDowngrade:
			archived, err := s.engine.Downgrade(ctx, tx, decision.Next)
			if err != nil {
				return fmt.Errorf("downgrade: %w", err)
			}
			out.HabitsArchived = archived
			return nil
		}

		tier := decision.Next.Tier
		switch decision.Habits {
		case HabitsRestore:
			restored, err := s.engine.Restore(ctx, tx, userID, tier)
			if err != nil {
				return fmt.Errorf("restore habits: %w", err)
			}
			out.HabitsRestored = restored
		case HabitsTrim:
			archived, err := s.engine.Trim(ctx, tx, userID, tier)
			if err != nil {
				return fmt.Errorf("trim habits: %w", err)
			}
			out.HabitsArchived = archived
		}
		return nil
	})
	if err != nil {
		s.metrics.Record(evt.Kind.String(), "error")
		return Outcome{}, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id": out.UserID.String(),
		"action":  out.Action.String(),
		"reason":  out.Reason,
	})
	if !out.Changed() {
		s.metrics.Record(evt.Kind.String(), skipLabel(out.Reason))
		s.logg.Info(s.logg.WithField(logCtx, "event_created", evt.Created), "lifecycle event skipped")
		return out, nil
	}

	s.invalidator.Invalidate(ctx, out.UserID)
	s.metrics.Record(evt.Kind.String(), out.Action.String())
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"status":          out.Subscription.Status,
		"tier":            out.Subscription.Tier,
		"habits_archived": out.HabitsArchived,
		"habits_restored": out.HabitsRestored,
	}), "lifecycle event applied")
	return out, nil
}

// ExpireGrace downgrades sub if its grace deadline has passed by the time
// its row lock is held. Rows already recovered or canceled are left alone.
func (s *Service) ExpireGrace(ctx context.Context, sub models.Subscription) (Outcome, error) {
	return s.Apply(ctx, GraceExpiredEvent(sub, s.now()))
}

// resolveUser finds the owning user: explicit metadata first, then the
// provider subscription reference, then the provider customer reference.
func (s *Service) resolveUser(ctx context.Context, repo billing.Repository, evt Event) (uuid.UUID, error) {
	if evt.UserID != uuid.Nil {
		return evt.UserID, nil
	}
	if evt.SubscriptionRef != "" {
		sub, err := repo.FindLatestBySubscriptionRef(ctx, evt.SubscriptionRef)
		if err != nil {
			return uuid.Nil, fmt.Errorf("lookup by subscription ref: %w", err)
		}
		if sub != nil {
			return sub.UserID, nil
		}
	}
	if evt.CustomerRef != "" {
		sub, err := repo.FindLatestByCustomerRef(ctx, evt.CustomerRef)
		if err != nil {
			return uuid.Nil, fmt.Errorf("lookup by customer ref: %w", err)
		}
		if sub != nil {
			return sub.UserID, nil
		}
		customer, err := repo.FindCustomerByRef(ctx, evt.CustomerRef)
		if err != nil {
			return uuid.Nil, fmt.Errorf("lookup billing customer: %w", err)
		}
		if customer != nil {
			return customer.UserID, nil
		}
	}
	return uuid.Nil, nil
}

func skipLabel(reason string) string {
	if reason == "" {
		return "skipped"
	}
	return reason
}
