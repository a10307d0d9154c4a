package entitlements

import (
	"context"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository reads the static feature_entitlements table.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) ListByTier(ctx context.Context, tier enums.SubscriptionTier) ([]models.FeatureEntitlement, error) {
	var rows []models.FeatureEntitlement
	err := r.db.WithContext(ctx).
		Where("tier = ?", tier).
		Order("feature_key ASC").
		Find(&rows).Error
	return rows, err
}
