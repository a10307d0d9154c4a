package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/habits-backend/internal/billing"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	"github.com/angelmondragon/habits-backend/internal/habits"
	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine archives and restores habits when a user's tier changes. Every
// method runs on the caller's transaction and only ever flips is_archived;
// no row is deleted.
type Engine struct {
	subs    billing.Repository
	habits  *habits.Repository
	catalog *entitlements.Catalog
}

func NewEngine(subs billing.Repository, habitRepo *habits.Repository, catalog *entitlements.Catalog) (*Engine, error) {
	if subs == nil {
		return nil, errors.New("subscription repository required")
	}
	if habitRepo == nil {
		return nil, errors.New("habit repository required")
	}
	if catalog == nil {
		return nil, errors.New("entitlement catalog required")
	}
	return &Engine{subs: subs, habits: habitRepo, catalog: catalog}, nil
}

// Downgrade cancels sub, clears its grace deadline and archives the user's
// habits beyond the free limit. It returns how many habits it archived.
// Running it again on a canceled, trimmed user changes nothing.
func (e *Engine) Downgrade(ctx context.Context, tx *gorm.DB, sub *models.Subscription) (int, error) {
	if sub == nil {
		return 0, errors.New("subscription required")
	}
	sub.Status = enums.SubscriptionStatusCanceled
	sub.GraceDeadline = nil
	if err := e.subs.WithTx(tx).SaveSubscription(ctx, sub); err != nil {
		return 0, fmt.Errorf("cancel subscription: %w", err)
	}
	return e.Trim(ctx, tx, sub.UserID, enums.SubscriptionTierFree)
}

// Trim keeps the first habits up to tier's limit, in (sort_order, created_at)
// order, and archives the rest.
func (e *Engine) Trim(ctx context.Context, tx *gorm.DB, userID uuid.UUID, tier enums.SubscriptionTier) (int, error) {
	limit, err := e.catalog.WithTx(tx).HabitLimit(ctx, tier)
	if err != nil {
		return 0, err
	}
	keep, bounded := limit.Cap()
	if !bounded {
		return 0, nil
	}

	repo := e.habits.WithTx(tx)
	active, err := repo.ListActive(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list active habits: %w", err)
	}
	if len(active) <= keep {
		return 0, nil
	}

	ids := habitIDs(active[keep:])
	if _, err := repo.SetArchived(ctx, userID, ids, true); err != nil {
		return 0, fmt.Errorf("archive habits: %w", err)
	}
	return len(ids), nil
}

// Restore unarchives habits in (sort_order, created_at) order until the
// user's live habits reach tier's limit. Excess habits stay archived.
// Habits carry a single archived flag, so habits the user archived by hand
// are restored along with those a downgrade archived.
func (e *Engine) Restore(ctx context.Context, tx *gorm.DB, userID uuid.UUID, tier enums.SubscriptionTier) (int, error) {
	limit, err := e.catalog.WithTx(tx).HabitLimit(ctx, tier)
	if err != nil {
		return 0, err
	}

	repo := e.habits.WithTx(tx)
	archived, err := repo.ListArchived(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list archived habits: %w", err)
	}
	if len(archived) == 0 {
		return 0, nil
	}

	room := len(archived)
	if capacity, bounded := limit.Cap(); bounded {
		active, err := repo.ListActive(ctx, userID)
		if err != nil {
			return 0, fmt.Errorf("list active habits: %w", err)
		}
		room = min(room, capacity-len(active))
	}
	if room <= 0 {
		return 0, nil
	}

	ids := habitIDs(archived[:room])
	if _, err := repo.SetArchived(ctx, userID, ids, false); err != nil {
		return 0, fmt.Errorf("unarchive habits: %w", err)
	}
	return len(ids), nil
}

func habitIDs(rows []models.Habit) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids
}
