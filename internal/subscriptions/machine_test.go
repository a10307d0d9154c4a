package subscriptions

import (
	"testing"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var machineNow = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func liveRow(tier enums.SubscriptionTier, status enums.SubscriptionStatus, updated time.Time) *models.Subscription {
	return &models.Subscription{
		ID:                      uuid.New(),
		UserID:                  uuid.New(),
		Tier:                    tier,
		Status:                  status,
		ExternalCustomerRef:     stringPtr("cus_1"),
		ExternalSubscriptionRef: stringPtr("sub_1"),
		UpdatedAt:               updated,
	}
}

func TestTransitionUpserts(t *testing.T) {
	t0 := machineNow
	userID := uuid.New()

	cases := []struct {
		name       string
		current    *models.Subscription
		evt        Event
		wantAction Action
		wantReason string
		wantTier   enums.SubscriptionTier
		wantHabits HabitPolicy
	}{
		{
			name:       "first checkout creates",
			evt:        Event{Kind: enums.LifecycleCheckoutCompleted, Created: t0, UserID: userID, SubscriptionRef: "sub_1", Tier: enums.SubscriptionTierPro},
			wantAction: ActionCreate,
			wantTier:   enums.SubscriptionTierPro,
			wantHabits: HabitsRestore,
		},
		{
			name:       "checkout without tier defaults to plus",
			evt:        Event{Kind: enums.LifecycleCheckoutCompleted, Created: t0, UserID: userID},
			wantAction: ActionCreate,
			wantTier:   enums.SubscriptionTierPlus,
			wantHabits: HabitsRestore,
		},
		{
			name:       "older upsert is stale",
			current:    liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, t0.Add(10*time.Second)),
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0.Add(5 * time.Second), SubscriptionRef: "sub_1", Tier: enums.SubscriptionTierPlus, Status: enums.SubscriptionStatusActive},
			wantAction: ActionNone,
			wantReason: ReasonStale,
		},
		{
			name:       "upgrade restores",
			current:    liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusActive, t0),
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0.Add(time.Second), SubscriptionRef: "sub_1", Tier: enums.SubscriptionTierPro, Status: enums.SubscriptionStatusActive},
			wantAction: ActionUpdate,
			wantTier:   enums.SubscriptionTierPro,
			wantHabits: HabitsRestore,
		},
		{
			name:       "downgrade trims",
			current:    liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, t0),
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0.Add(time.Second), SubscriptionRef: "sub_1", Tier: enums.SubscriptionTierPlus, Status: enums.SubscriptionStatusActive},
			wantAction: ActionUpdate,
			wantTier:   enums.SubscriptionTierPlus,
			wantHabits: HabitsTrim,
		},
		{
			name:       "past_due status from provider is not modeled",
			current:    liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusActive, t0),
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0.Add(time.Second), Status: enums.SubscriptionStatusPastDue},
			wantAction: ActionNone,
			wantReason: ReasonUnmodeled,
		},
		{
			name:       "replay of canceled subscription is stale",
			current:    liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusCanceled, t0.Add(time.Hour)),
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0, UserID: userID, SubscriptionRef: "sub_1", Status: enums.SubscriptionStatusActive},
			wantAction: ActionNone,
			wantReason: ReasonStale,
		},
		{
			name:       "new subscription after cancel creates",
			current:    liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusCanceled, t0.Add(time.Hour)),
			evt:        Event{Kind: enums.LifecycleCheckoutCompleted, Created: t0, UserID: userID, SubscriptionRef: "sub_2", Tier: enums.SubscriptionTierPlus},
			wantAction: ActionCreate,
			wantTier:   enums.SubscriptionTierPlus,
			wantHabits: HabitsRestore,
		},
		{
			name:       "create without user is skipped",
			evt:        Event{Kind: enums.LifecycleSubscriptionUpsert, Created: t0, Status: enums.SubscriptionStatusActive},
			wantAction: ActionNone,
			wantReason: ReasonUnknownUser,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := Transition(tc.current, tc.evt, machineNow, 0)
			assert.Equal(t, tc.wantAction, decision.Action)
			assert.Equal(t, tc.wantReason, decision.Reason)
			if tc.wantAction == ActionNone {
				assert.Nil(t, decision.Next)
				return
			}
			require.NotNil(t, decision.Next)
			assert.Equal(t, tc.wantTier, decision.Next.Tier)
			assert.Equal(t, tc.wantHabits, decision.Habits)
			assert.Nil(t, decision.Next.GraceDeadline)
			assert.True(t, decision.Next.UpdatedAt.Equal(tc.evt.Created))
		})
	}
}

func TestTransitionDoesNotMutateCurrent(t *testing.T) {
	current := liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusActive, machineNow)
	before := *current

	evt := Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_1"}
	decision := Transition(current, evt, machineNow, time.Hour)
	require.NotNil(t, decision.Next)

	assert.Equal(t, before, *current)
	assert.NotSame(t, current, decision.Next)
}

func TestTransitionPaymentFailure(t *testing.T) {
	grace := 48 * time.Hour

	t.Run("active enters grace", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_1"}, machineNow, grace)
		require.Equal(t, ActionUpdate, decision.Action)
		assert.Equal(t, enums.SubscriptionStatusPastDue, decision.Next.Status)
		require.NotNil(t, decision.Next.GraceDeadline)
		assert.True(t, decision.Next.GraceDeadline.Equal(machineNow.Add(grace)))
		assert.Equal(t, enums.SubscriptionTierPro, decision.Next.Tier)
	})

	t.Run("second failure keeps deadline", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusPastDue, machineNow)
		deadline := machineNow.Add(time.Hour)
		current.GraceDeadline = &deadline
		decision := Transition(current, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_1"}, machineNow.Add(time.Minute), grace)
		require.Equal(t, ActionUpdate, decision.Action)
		assert.Equal(t, ReasonPaymentRecorded, decision.Reason)
		assert.True(t, decision.Next.GraceDeadline.Equal(deadline))
	})

	t.Run("no live subscription", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusCanceled, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(time.Minute)}, machineNow, grace)
		assert.Equal(t, ActionNone, decision.Action)
		assert.Equal(t, ReasonNoSubscription, decision.Reason)
	})

	t.Run("other subscription", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_other"}, machineNow, grace)
		assert.Equal(t, ReasonOtherReference, decision.Reason)
	})

	t.Run("invoice event predating an update still applies", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(-time.Second), SubscriptionRef: "sub_1"}, machineNow, grace)
		assert.Equal(t, enums.SubscriptionStatusPastDue, decision.Next.Status)
		assert.True(t, decision.Next.UpdatedAt.Equal(machineNow))
	})
}

func TestTransitionPaymentSuccess(t *testing.T) {
	current := liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusPastDue, machineNow)
	deadline := machineNow.Add(time.Hour)
	current.GraceDeadline = &deadline

	decision := Transition(current, Event{Kind: enums.LifecyclePaymentSucceeded, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_1"}, machineNow, 0)
	require.Equal(t, ActionUpdate, decision.Action)
	assert.Equal(t, enums.SubscriptionStatusActive, decision.Next.Status)
	assert.Nil(t, decision.Next.GraceDeadline)
	require.NotNil(t, decision.Next.LastPaymentEventAt)

	late := Transition(decision.Next, Event{Kind: enums.LifecyclePaymentFailed, Created: machineNow.Add(30 * time.Second), SubscriptionRef: "sub_1"}, machineNow, 0)
	assert.Equal(t, ActionNone, late.Action)
	assert.Equal(t, ReasonStale, late.Reason)
}

func TestTransitionEndAndGrace(t *testing.T) {
	t.Run("deletion downgrades", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, machineNow)
		current.CancelAtPeriodEnd = true
		decision := Transition(current, Event{Kind: enums.LifecycleSubscriptionEnded, Created: machineNow.Add(time.Minute), SubscriptionRef: "sub_1"}, machineNow, 0)
		require.Equal(t, ActionDowngrade, decision.Action)
		assert.Equal(t, enums.SubscriptionStatusCanceled, decision.Next.Status)
		assert.False(t, decision.Next.CancelAtPeriodEnd)
		assert.Equal(t, HabitsTrim, decision.Habits)
	})

	t.Run("deletion of another subscription is ignored", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusActive, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecycleSubscriptionEnded, Created: machineNow, SubscriptionRef: "sub_old"}, machineNow, 0)
		assert.Equal(t, ReasonOtherReference, decision.Reason)
	})

	t.Run("repeat deletion is idempotent", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPro, enums.SubscriptionStatusCanceled, machineNow)
		decision := Transition(current, Event{Kind: enums.LifecycleSubscriptionEnded, Created: machineNow, SubscriptionRef: "sub_1"}, machineNow, 0)
		assert.Equal(t, ActionDowngrade, decision.Action)
		assert.Equal(t, ReasonAlreadyCanceled, decision.Reason)
	})

	t.Run("grace expiry", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusPastDue, machineNow)
		deadline := machineNow.Add(time.Hour)
		current.GraceDeadline = &deadline

		early := Transition(current, GraceExpiredEvent(*current, machineNow), machineNow, 0)
		assert.Equal(t, ReasonGraceNotElapsed, early.Reason)

		later := machineNow.Add(2 * time.Hour)
		decision := Transition(current, GraceExpiredEvent(*current, later), later, 0)
		require.Equal(t, ActionDowngrade, decision.Action)
		assert.Nil(t, decision.Next.GraceDeadline)
	})

	t.Run("recovered row is not expired", func(t *testing.T) {
		current := liveRow(enums.SubscriptionTierPlus, enums.SubscriptionStatusActive, machineNow)
		later := machineNow.Add(30 * 24 * time.Hour)
		decision := Transition(current, GraceExpiredEvent(*current, later), later, 0)
		assert.Equal(t, ActionNone, decision.Action)
	})
}

func TestTransitionUnmodeledKind(t *testing.T) {
	decision := Transition(nil, Event{Kind: enums.LifecycleUnmodeled}, machineNow, 0)
	assert.Equal(t, ActionNone, decision.Action)
	assert.Equal(t, ReasonUnmodeled, decision.Reason)
}
