package models

import "github.com/angelmondragon/habits-backend/pkg/enums"

// FeatureEntitlement is one (tier, feature) row of the static entitlement table.
// Exactly one of the value columns is meaningful for a given feature key.
type FeatureEntitlement struct {
	Tier       enums.SubscriptionTier `gorm:"column:tier;primaryKey"`
	FeatureKey string                 `gorm:"column:feature_key;primaryKey"`
	IntValue   *int                   `gorm:"column:int_value"`
	BoolValue  *bool                  `gorm:"column:bool_value"`
	TextValue  *string                `gorm:"column:text_value"`
}

func (FeatureEntitlement) TableName() string { return "feature_entitlements" }
