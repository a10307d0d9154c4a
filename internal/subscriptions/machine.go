package subscriptions

import (
	"time"

	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
)

// DefaultGracePeriod is how long a past_due subscription keeps its tier.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Action is the persistence step a Decision asks for.
type Action uint8

const (
	ActionNone Action = iota
	ActionCreate
	ActionUpdate
	ActionDowngrade
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDowngrade:
		return "downgrade"
	default:
		return "none"
	}
}

// HabitPolicy tells the engine how to bring archived habits in line with the new tier.
type HabitPolicy uint8

const (
	HabitsUnchanged HabitPolicy = iota
	HabitsRestore
	HabitsTrim
)

// Reasons reported when a Decision leaves the row untouched.
const (
	ReasonStale           = "stale_event"
	ReasonNoSubscription  = "no_subscription"
	ReasonOtherReference  = "different_subscription"
	ReasonUnmodeled       = "unmodeled_status"
	ReasonGraceNotElapsed = "grace_not_elapsed"
	ReasonUnknownUser     = "unknown_user"
	ReasonPaymentRecorded = "payment_recorded"
	ReasonAlreadyCanceled = "already_canceled"
)

// Decision is the outcome of Transition. Next is a fresh copy; the input row is never mutated.
type Decision struct {
	Action Action
	Next   *models.Subscription
	Habits HabitPolicy
	Reason string
}

func skip(reason string) Decision {
	return Decision{Action: ActionNone, Reason: reason}
}

// Transition computes the next state of a user's current subscription row
// for evt. current is the user's live row, or their latest row when none is
// live, or nil. now drives grace deadlines; grace is the grace window.
func Transition(current *models.Subscription, evt Event, now time.Time, grace time.Duration) Decision {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	switch {
	case evt.Kind.IsUpsert():
		return upsert(current, evt)
	case evt.Kind.IsPayment():
		if evt.Kind == enums.LifecyclePaymentFailed {
			return paymentFailed(current, evt, now, grace)
		}
		return paymentSucceeded(current, evt)
	}
	switch evt.Kind {
	case enums.LifecycleSubscriptionEnded:
		return ended(current, evt)
	case enums.LifecycleGraceExpired:
		return graceExpired(current, evt, now)
	default:
		return skip(ReasonUnmodeled)
	}
}

func upsert(current *models.Subscription, evt Event) Decision {
	status := evt.Status
	if evt.Kind == enums.LifecycleCheckoutCompleted {
		status = enums.SubscriptionStatusActive
	}
	if status != enums.SubscriptionStatusActive && status != enums.SubscriptionStatusTrialing {
		return skip(ReasonUnmodeled)
	}

	if current != nil && current.Status.IsLive() {
		if evt.Created.Before(current.UpdatedAt) {
			return skip(ReasonStale)
		}
		next := cloneSubscription(current)
		applyUpsert(next, evt, status)
		return Decision{Action: ActionUpdate, Next: next, Habits: habitPolicyFor(current.Tier, next.Tier)}
	}

	// A row that is no longer live only blocks events for the same provider
	// subscription, and only those not strictly newer than its last change.
	if current != nil && sameReference(current, evt) && !evt.Created.After(current.UpdatedAt) {
		return skip(ReasonStale)
	}
	if evt.UserID == uuid.Nil {
		return skip(ReasonUnknownUser)
	}

	next := &models.Subscription{
		UserID: evt.UserID,
		Tier:   enums.SubscriptionTierPlus,
	}
	if current != nil && sameReference(current, evt) && current.Tier.IsPaid() {
		next.Tier = current.Tier
	}
	applyUpsert(next, evt, status)
	return Decision{Action: ActionCreate, Next: next, Habits: HabitsRestore}
}

func applyUpsert(next *models.Subscription, evt Event, status enums.SubscriptionStatus) {
	next.Status = status
	next.GraceDeadline = nil
	if evt.Tier.IsPaid() {
		next.Tier = evt.Tier
	}
	if !next.Tier.IsPaid() {
		next.Tier = enums.SubscriptionTierPlus
	}
	if evt.CustomerRef != "" {
		next.ExternalCustomerRef = stringPtr(evt.CustomerRef)
	}
	if evt.SubscriptionRef != "" {
		next.ExternalSubscriptionRef = stringPtr(evt.SubscriptionRef)
	}
	if evt.PeriodStart != nil {
		next.PeriodStart = timePtr(*evt.PeriodStart)
	}
	if evt.PeriodEnd != nil {
		next.PeriodEnd = timePtr(*evt.PeriodEnd)
	}
	if evt.Kind == enums.LifecycleSubscriptionUpsert {
		next.CancelAtPeriodEnd = evt.CancelAtPeriodEnd
	}
	next.UpdatedAt = evt.Created.UTC()
}

func paymentFailed(current *models.Subscription, evt Event, now time.Time, grace time.Duration) Decision {
	if reason, ok := paymentApplies(current, evt); !ok {
		return skip(reason)
	}
	next := cloneSubscription(current)
	recordPayment(next, evt)
	switch current.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		next.Status = enums.SubscriptionStatusPastDue
		next.GraceDeadline = timePtr(now.UTC().Add(grace))
		return Decision{Action: ActionUpdate, Next: next}
	default:
		// Already past_due: the original deadline stands.
		return Decision{Action: ActionUpdate, Next: next, Reason: ReasonPaymentRecorded}
	}
}

func paymentSucceeded(current *models.Subscription, evt Event) Decision {
	if reason, ok := paymentApplies(current, evt); !ok {
		return skip(reason)
	}
	next := cloneSubscription(current)
	recordPayment(next, evt)
	if current.Status == enums.SubscriptionStatusPastDue {
		next.Status = enums.SubscriptionStatusActive
		next.GraceDeadline = nil
		return Decision{Action: ActionUpdate, Next: next}
	}
	return Decision{Action: ActionUpdate, Next: next, Reason: ReasonPaymentRecorded}
}

// paymentApplies gates invoice events. Events naming the row's own provider
// subscription are ordered only against earlier payment events, so a
// subscription update never masks a later invoice outcome. Events without a
// reference fall back to the general updated_at check.
func paymentApplies(current *models.Subscription, evt Event) (string, bool) {
	if current == nil || !current.Status.IsLive() {
		return ReasonNoSubscription, false
	}
	ref := current.SubscriptionRef()
	if evt.SubscriptionRef != "" && ref != "" && evt.SubscriptionRef != ref {
		return ReasonOtherReference, false
	}
	if current.LastPaymentEventAt != nil && evt.Created.Before(*current.LastPaymentEventAt) {
		return ReasonStale, false
	}
	unambiguous := evt.SubscriptionRef != "" && evt.SubscriptionRef == ref
	if !unambiguous && evt.Created.Before(current.UpdatedAt) {
		return ReasonStale, false
	}
	return "", true
}

func recordPayment(next *models.Subscription, evt Event) {
	next.LastPaymentEventAt = timePtr(evt.Created.UTC())
	if evt.Created.After(next.UpdatedAt) {
		next.UpdatedAt = evt.Created.UTC()
	}
}

func ended(current *models.Subscription, evt Event) Decision {
	if current == nil {
		return skip(ReasonNoSubscription)
	}
	ref := current.SubscriptionRef()
	if evt.SubscriptionRef != "" && ref != "" && evt.SubscriptionRef != ref {
		return skip(ReasonOtherReference)
	}
	return downgrade(current, evt.Created)
}

func graceExpired(current *models.Subscription, evt Event, now time.Time) Decision {
	if current == nil {
		return skip(ReasonNoSubscription)
	}
	if current.Status != enums.SubscriptionStatusPastDue || current.GraceDeadline == nil || !current.GraceDeadline.Before(now) {
		return skip(ReasonGraceNotElapsed)
	}
	return downgrade(current, evt.Created)
}

func downgrade(current *models.Subscription, at time.Time) Decision {
	next := cloneSubscription(current)
	next.Status = enums.SubscriptionStatusCanceled
	next.GraceDeadline = nil
	next.CancelAtPeriodEnd = false
	if at.After(next.UpdatedAt) {
		next.UpdatedAt = at.UTC()
	}
	reason := ""
	if current.Status == enums.SubscriptionStatusCanceled {
		reason = ReasonAlreadyCanceled
	}
	return Decision{Action: ActionDowngrade, Next: next, Habits: HabitsTrim, Reason: reason}
}

func habitPolicyFor(from, to enums.SubscriptionTier) HabitPolicy {
	switch {
	case tierRank(to) > tierRank(from):
		return HabitsRestore
	case tierRank(to) < tierRank(from):
		return HabitsTrim
	default:
		return HabitsUnchanged
	}
}

func tierRank(t enums.SubscriptionTier) int {
	switch t {
	case enums.SubscriptionTierPro:
		return 2
	case enums.SubscriptionTierPlus:
		return 1
	default:
		return 0
	}
}

func sameReference(current *models.Subscription, evt Event) bool {
	return evt.SubscriptionRef != "" && current.SubscriptionRef() == evt.SubscriptionRef
}

func cloneSubscription(in *models.Subscription) *models.Subscription {
	out := *in
	out.ExternalCustomerRef = copyString(in.ExternalCustomerRef)
	out.ExternalSubscriptionRef = copyString(in.ExternalSubscriptionRef)
	out.PeriodStart = copyTime(in.PeriodStart)
	out.PeriodEnd = copyTime(in.PeriodEnd)
	out.GraceDeadline = copyTime(in.GraceDeadline)
	out.LastPaymentEventAt = copyTime(in.LastPaymentEventAt)
	return &out
}

func stringPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	return stringPtr(*s)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return timePtr(*t)
}
