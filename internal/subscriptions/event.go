package subscriptions

import (
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
)

// Event is a provider-neutral lifecycle event. Created is the provider's
// event creation time and is what ordering decisions compare against.
type Event struct {
	ID                string
	Type              string
	Kind              enums.LifecycleEventKind
	Created           time.Time
	UserID            uuid.UUID
	CustomerRef       string
	SubscriptionRef   string
	InvoiceRef        string
	Tier              enums.SubscriptionTier
	Status            enums.SubscriptionStatus
	ProviderStatus    string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

// GraceExpiredEvent builds the synthetic event the reconciler feeds through
// the state machine for a past_due row. It carries no provider signature.
func GraceExpiredEvent(sub models.Subscription, now time.Time) Event {
	return Event{
		ID:              "grace:" + sub.ID.String(),
		Type:            "grace.expired",
		Kind:            enums.LifecycleGraceExpired,
		Created:         now.UTC(),
		UserID:          sub.UserID,
		CustomerRef:     sub.CustomerRef(),
		SubscriptionRef: sub.SubscriptionRef(),
	}
}
