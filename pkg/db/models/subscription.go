package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/habits-backend/pkg/enums"
)

// Subscription is a user's current or most recent billing relationship.
// UpdatedAt holds the creation time of the provider event that produced the
// row's state, not the wall-clock write time; stale events are detected against it.
// Invoice payment events are ordered separately through LastPaymentEventAt.
type Subscription struct {
	ID                      uuid.UUID                `gorm:"type:uuid;primaryKey"`
	UserID                  uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	Tier                    enums.SubscriptionTier   `gorm:"column:tier;not null"`
	Status                  enums.SubscriptionStatus `gorm:"column:status;not null"`
	ExternalCustomerRef     *string                  `gorm:"column:external_customer_ref;index"`
	ExternalSubscriptionRef *string                  `gorm:"column:external_subscription_ref;index"`
	PeriodStart             *time.Time               `gorm:"column:period_start"`
	PeriodEnd               *time.Time               `gorm:"column:period_end"`
	CancelAtPeriodEnd       bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	GraceDeadline           *time.Time               `gorm:"column:grace_deadline"`
	LastPaymentEventAt      *time.Time               `gorm:"column:last_payment_event_at"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionRef returns the provider subscription id or "".
func (s *Subscription) SubscriptionRef() string {
	if s == nil || s.ExternalSubscriptionRef == nil {
		return ""
	}
	return *s.ExternalSubscriptionRef
}

// CustomerRef returns the provider customer id or "".
func (s *Subscription) CustomerRef() string {
	if s == nil || s.ExternalCustomerRef == nil {
		return ""
	}
	return *s.ExternalCustomerRef
}
