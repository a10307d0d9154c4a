package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Habit carries the subset of habit columns billing reads. The only column
// billing ever writes is is_archived.
type Habit struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey"`
	UserID     uuid.UUID      `gorm:"column:user_id;type:uuid;not null;index"`
	Name       string         `gorm:"column:name;not null"`
	IsArchived bool           `gorm:"column:is_archived;not null;default:false"`
	SortOrder  int            `gorm:"column:sort_order;not null;default:0"`
	CreatedAt  time.Time      `gorm:"column:created_at;autoCreateTime"`
	DeletedAt  gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Habit) TableName() string { return "habits" }
