package habits

import (
	"context"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes the habit queries billing needs. Soft-deleted habits are
// excluded by gorm's deleted_at scope.
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

func (r *Repository) ordered(ctx context.Context, userID uuid.UUID, archived bool) ([]models.Habit, error) {
	var rows []models.Habit
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_archived = ?", userID, archived).
		Order("sort_order ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListActive returns the user's live habits in display order.
func (r *Repository) ListActive(ctx context.Context, userID uuid.UUID) ([]models.Habit, error) {
	return r.ordered(ctx, userID, false)
}

// ListArchived returns the user's archived habits in display order.
func (r *Repository) ListArchived(ctx context.Context, userID uuid.UUID) ([]models.Habit, error) {
	return r.ordered(ctx, userID, true)
}

// SetArchived flips is_archived for ids owned by userID and touches no other column.
func (r *Repository) SetArchived(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, archived bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Habit{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		UpdateColumn("is_archived", archived)
	return res.RowsAffected, res.Error
}
