package stripewebhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/habits-backend/internal/subscriptions"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const (
	metadataUserID = "user_id"
	metadataTier   = "tier"
)

// ErrMalformedEvent marks a payload that authenticated but could not be decoded.
var ErrMalformedEvent = errors.New("malformed stripe event")

// Decoder maps Stripe event envelopes onto provider-neutral lifecycle events.
type Decoder struct {
	priceTiers map[string]enums.SubscriptionTier
}

// NewDecoder builds a decoder that also recognizes the configured price ids
// when a subscription carries no tier metadata.
func NewDecoder(plusPriceID, proPriceID string) *Decoder {
	prices := map[string]enums.SubscriptionTier{}
	if id := strings.TrimSpace(plusPriceID); id != "" {
		prices[id] = enums.SubscriptionTierPlus
	}
	if id := strings.TrimSpace(proPriceID); id != "" {
		prices[id] = enums.SubscriptionTierPro
	}
	return &Decoder{priceTiers: prices}
}

// Decode parses payload. Event types the lifecycle does not model decode to
// LifecycleUnmodeled rather than an error so they are still acknowledged.
func (d *Decoder) Decode(payload []byte) (subscriptions.Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return subscriptions.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(raw.ID) == "" || raw.Type == "" {
		return subscriptions.Event{}, fmt.Errorf("%w: id and type are required", ErrMalformedEvent)
	}
	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return subscriptions.Event{}, fmt.Errorf("%w: data.object is required", ErrMalformedEvent)
	}

	evt := subscriptions.Event{
		ID:      raw.ID,
		Type:    string(raw.Type),
		Kind:    enums.LifecycleUnmodeled,
		Created: time.Unix(raw.Created, 0).UTC(),
	}

	var err error
	switch raw.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		err = d.decodeCheckout(&evt, raw.Data.Raw)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		err = d.decodeSubscription(&evt, raw.Data.Raw, false)
	case stripe.EventTypeCustomerSubscriptionDeleted, stripe.EventTypeCustomerSubscriptionPaused:
		err = d.decodeSubscription(&evt, raw.Data.Raw, true)
	case stripe.EventTypeInvoicePaymentFailed:
		decodeInvoice(&evt, &raw, enums.LifecyclePaymentFailed)
	case stripe.EventTypeInvoicePaymentSucceeded, stripe.EventTypeInvoicePaid:
		decodeInvoice(&evt, &raw, enums.LifecyclePaymentSucceeded)
	}
	if err != nil {
		return subscriptions.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return evt, nil
}

func (d *Decoder) decodeCheckout(evt *subscriptions.Event, data json.RawMessage) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(data, &session); err != nil {
		return fmt.Errorf("decode checkout session: %w", err)
	}
	if session.Mode != "" && session.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}

	evt.Kind = enums.LifecycleCheckoutCompleted
	evt.Status = enums.SubscriptionStatusActive
	evt.UserID = userIDFrom(session.Metadata[metadataUserID], session.ClientReferenceID)
	evt.Tier = enums.PaidTierFromLabel(session.Metadata[metadataTier])
	if session.Customer != nil {
		evt.CustomerRef = session.Customer.ID
	}
	if session.Subscription != nil {
		evt.SubscriptionRef = session.Subscription.ID
	}
	return nil
}

func (d *Decoder) decodeSubscription(evt *subscriptions.Event, data json.RawMessage, ended bool) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	evt.SubscriptionRef = sub.ID
	evt.ProviderStatus = string(sub.Status)
	evt.UserID = userIDFrom(sub.Metadata[metadataUserID])
	evt.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.Customer != nil {
		evt.CustomerRef = sub.Customer.ID
	}
	evt.Tier = d.subscriptionTier(&sub)
	if item := firstItem(&sub); item != nil {
		evt.PeriodStart = unixPtr(item.CurrentPeriodStart)
		evt.PeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}

	if ended {
		evt.Kind = enums.LifecycleSubscriptionEnded
		return nil
	}
	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		evt.Kind = enums.LifecycleSubscriptionUpsert
		evt.Status = enums.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		evt.Kind = enums.LifecycleSubscriptionUpsert
		evt.Status = enums.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusPaused,
		stripe.SubscriptionStatusIncompleteExpired:
		evt.Kind = enums.LifecycleSubscriptionEnded
	default:
		// past_due is driven by invoice events; incomplete has no effect yet.
		evt.Kind = enums.LifecycleUnmodeled
	}
	return nil
}

func decodeInvoice(evt *subscriptions.Event, raw *stripe.Event, kind enums.LifecycleEventKind) {
	evt.Kind = kind
	evt.InvoiceRef = raw.GetObjectValue("id")
	evt.CustomerRef = raw.GetObjectValue("customer")
	evt.SubscriptionRef = raw.GetObjectValue("subscription")
	if evt.SubscriptionRef == "" {
		evt.SubscriptionRef = raw.GetObjectValue("parent", "subscription_details", "subscription")
	}
}

// subscriptionTier follows what the customer is billed for: the first item's
// price metadata, then the configured price ids. The subscription's own
// metadata is written once at checkout and goes stale after a plan change in
// the portal, so it is only a fallback. An unknown tier decodes as free so
// the row keeps its stored tier.
func (d *Decoder) subscriptionTier(sub *stripe.Subscription) enums.SubscriptionTier {
	if item := firstItem(sub); item != nil && item.Price != nil {
		if label := strings.TrimSpace(item.Price.Metadata[metadataTier]); label != "" {
			return enums.PaidTierFromLabel(label)
		}
		if tier, ok := d.priceTiers[item.Price.ID]; ok {
			return tier
		}
	}
	if label := strings.TrimSpace(sub.Metadata[metadataTier]); label != "" {
		return enums.PaidTierFromLabel(label)
	}
	return enums.SubscriptionTierFree
}

func firstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func userIDFrom(candidates ...string) uuid.UUID {
	for _, candidate := range candidates {
		if id, err := uuid.Parse(strings.TrimSpace(candidate)); err == nil {
			return id
		}
	}
	return uuid.Nil
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
