package enums

// LifecycleEventKind classifies a provider event by the transition it can drive.
type LifecycleEventKind string

const (
	LifecycleCheckoutCompleted  LifecycleEventKind = "checkout_completed"
	LifecycleSubscriptionUpsert LifecycleEventKind = "subscription_upsert"
	LifecyclePaymentFailed      LifecycleEventKind = "payment_failed"
	LifecyclePaymentSucceeded   LifecycleEventKind = "payment_succeeded"
	LifecycleSubscriptionEnded  LifecycleEventKind = "subscription_ended"
	LifecycleGraceExpired       LifecycleEventKind = "grace_expired"
	LifecycleUnmodeled          LifecycleEventKind = "unmodeled"
)

func (k LifecycleEventKind) String() string {
	return string(k)
}

// IsUpsert reports whether the kind rewrites tier, status and period from the event payload.
// Upserts are always subject to the event ordering check.
func (k LifecycleEventKind) IsUpsert() bool {
	return k == LifecycleCheckoutCompleted || k == LifecycleSubscriptionUpsert
}

// IsPayment reports whether the kind comes from an invoice payment attempt.
func (k LifecycleEventKind) IsPayment() bool {
	return k == LifecyclePaymentFailed || k == LifecyclePaymentSucceeded
}
