package enums

import "testing"

func TestParseSubscriptionStatus(t *testing.T) {
	got, err := ParseSubscriptionStatus("past_due")
	if err != nil || got != SubscriptionStatusPastDue {
		t.Fatalf("expected past_due, got %q err=%v", got, err)
	}
	if _, err := ParseSubscriptionStatus("incomplete"); err == nil {
		t.Fatal("expected unmodeled provider status to be rejected")
	}
}

func TestSubscriptionStatusIsLive(t *testing.T) {
	live := map[SubscriptionStatus]bool{
		SubscriptionStatusActive:   true,
		SubscriptionStatusTrialing: true,
		SubscriptionStatusPastDue:  true,
		SubscriptionStatusCanceled: false,
		SubscriptionStatusInactive: false,
	}
	for status, want := range live {
		if got := status.IsLive(); got != want {
			t.Fatalf("%s: expected live=%v got %v", status, want, got)
		}
	}
}

func TestParseSubscriptionTier(t *testing.T) {
	got, err := ParseSubscriptionTier(" PRO ")
	if err != nil || got != SubscriptionTierPro {
		t.Fatalf("expected pro, got %q err=%v", got, err)
	}
	if _, err := ParseSubscriptionTier("enterprise"); err == nil {
		t.Fatal("expected unknown tier to be rejected")
	}
	if SubscriptionTierFree.IsPaid() || !SubscriptionTierPlus.IsPaid() {
		t.Fatal("unexpected IsPaid result")
	}
}

func TestPaidTierFromLabel(t *testing.T) {
	cases := map[string]SubscriptionTier{
		"pro":  SubscriptionTierPro,
		"Pro":  SubscriptionTierPro,
		"plus": SubscriptionTierPlus,
		"":     SubscriptionTierPlus,
		"gold": SubscriptionTierPlus,
		"free": SubscriptionTierPlus,
	}
	for label, want := range cases {
		if got := PaidTierFromLabel(label); got != want {
			t.Fatalf("label %q: expected %s got %s", label, want, got)
		}
	}
}

func TestLifecycleEventKindClassification(t *testing.T) {
	if !LifecycleCheckoutCompleted.IsUpsert() || !LifecycleSubscriptionUpsert.IsUpsert() {
		t.Fatal("checkout and subscription upserts must be upserts")
	}
	if LifecyclePaymentFailed.IsUpsert() || LifecycleSubscriptionEnded.IsUpsert() {
		t.Fatal("payment and end events are not upserts")
	}
	if !LifecyclePaymentFailed.IsPayment() || !LifecyclePaymentSucceeded.IsPayment() {
		t.Fatal("invoice events must be payments")
	}
	if LifecycleGraceExpired.IsPayment() {
		t.Fatal("grace expiry is not a payment event")
	}
}
