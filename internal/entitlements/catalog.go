package entitlements

import (
	"context"
	"fmt"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Catalog resolves per-tier feature sets from the entitlement table.
type Catalog struct {
	repo *Repository
	logg *logger.Logger
}

func NewCatalog(repo *Repository, logg *logger.Logger) *Catalog {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Catalog{repo: repo, logg: logg}
}

// WithTx binds reads to tx so lookups inside a transaction share its connection.
func (c *Catalog) WithTx(tx *gorm.DB) *Catalog {
	return &Catalog{repo: c.repo.WithTx(tx), logg: c.logg}
}

// ForTier returns the feature set of tier. A tier with no seeded rows falls back to the built-in table.
func (c *Catalog) ForTier(ctx context.Context, tier enums.SubscriptionTier) (Set, error) {
	if !tier.IsValid() {
		return Set{}, fmt.Errorf("unknown tier %q", tier)
	}
	rows, err := c.repo.ListByTier(ctx, tier)
	if err != nil {
		return Set{}, fmt.Errorf("load entitlements for %s: %w", tier, err)
	}
	if len(rows) == 0 {
		c.logg.Warn(c.logg.WithField(ctx, "tier", tier), "feature_entitlements has no rows for tier; using built-in defaults")
		rows = defaultRowsFor(tier)
	}
	return BuildSet(tier, rows), nil
}

// HabitLimit is the max_habits quota of tier.
func (c *Catalog) HabitLimit(ctx context.Context, tier enums.SubscriptionTier) (Limit, error) {
	set, err := c.ForTier(ctx, tier)
	if err != nil {
		return Limit{}, err
	}
	return set.MaxHabits, nil
}

// EffectiveTier is the tier a subscription row grants right now. Rows that are
// not live, and users without a row, are free.
func EffectiveTier(sub *models.Subscription) enums.SubscriptionTier {
	if sub == nil || !sub.Status.IsLive() || !sub.Tier.IsValid() {
		return enums.SubscriptionTierFree
	}
	return sub.Tier
}

type subscriptionFinder interface {
	FindCurrentByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
}

// Resolver computes a user's entitlement set from their current subscription row.
type Resolver struct {
	subs    subscriptionFinder
	catalog *Catalog
}

func NewResolver(subs subscriptionFinder, catalog *Catalog) *Resolver {
	return &Resolver{subs: subs, catalog: catalog}
}

func (r *Resolver) Resolve(ctx context.Context, userID uuid.UUID) (Set, error) {
	sub, err := r.subs.FindCurrentByUser(ctx, userID)
	if err != nil {
		return Set{}, fmt.Errorf("load subscription: %w", err)
	}
	return r.catalog.ForTier(ctx, EffectiveTier(sub))
}
