package models

import (
	"time"

	"github.com/google/uuid"
)

// BillingCustomer links a user to their provider customer record. It exists
// before any subscription does, so checkout can reuse the customer.
type BillingCustomer struct {
	UserID              uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	ExternalCustomerRef string    `gorm:"column:external_customer_ref;not null;uniqueIndex"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }
