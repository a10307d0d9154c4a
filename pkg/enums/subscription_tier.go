package enums

import (
	"fmt"
	"strings"
)

// SubscriptionTier names a plan level. Free is the implicit tier of users without a live subscription.
type SubscriptionTier string

const (
	SubscriptionTierFree SubscriptionTier = "free"
	SubscriptionTierPlus SubscriptionTier = "plus"
	SubscriptionTierPro  SubscriptionTier = "pro"
)

var validSubscriptionTiers = []SubscriptionTier{
	SubscriptionTierFree,
	SubscriptionTierPlus,
	SubscriptionTierPro,
}

func (t SubscriptionTier) String() string {
	return string(t)
}

func (t SubscriptionTier) IsValid() bool {
	for _, candidate := range validSubscriptionTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsPaid reports whether the tier requires a subscription.
func (t SubscriptionTier) IsPaid() bool {
	return t == SubscriptionTierPlus || t == SubscriptionTierPro
}

// ParseSubscriptionTier converts raw input into a SubscriptionTier, ignoring case and surrounding space.
func ParseSubscriptionTier(value string) (SubscriptionTier, error) {
	normalized := SubscriptionTier(strings.ToLower(strings.TrimSpace(value)))
	if normalized.IsValid() {
		return normalized, nil
	}
	return "", fmt.Errorf("invalid subscription tier %q", value)
}

// PaidTierFromLabel maps a checkout tier label to a paid tier. Anything other than "pro" is plus.
func PaidTierFromLabel(label string) SubscriptionTier {
	if strings.EqualFold(strings.TrimSpace(label), string(SubscriptionTierPro)) {
		return SubscriptionTierPro
	}
	return SubscriptionTierPlus
}
