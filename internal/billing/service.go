package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/habits-backend/internal/entitlements"
	"github.com/angelmondragon/habits-backend/pkg/db"
	"github.com/angelmondragon/habits-backend/pkg/db/models"
	"github.com/angelmondragon/habits-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

const (
	metadataUserID = "user_id"
	metadataTier   = "tier"
)

type entitlementReader interface {
	GetOrCompute(ctx context.Context, userID uuid.UUID) (entitlements.Set, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo         Repository
	Provider     ProviderClient
	Entitlements entitlementReader
	Logger       *logger.Logger
	PlusPriceID  string
	ProPriceID   string
	FrontendURL  string
}

// Service backs the user-facing billing endpoints: the subscription view,
// checkout and the customer portal.
type Service struct {
	repo         Repository
	provider     ProviderClient
	entitlements entitlementReader
	logg         *logger.Logger
	prices       map[enums.SubscriptionTier]string
	frontendURL  string
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Entitlements == nil {
		return nil, errors.New("entitlement reader is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		repo:         params.Repo,
		provider:     params.Provider,
		entitlements: params.Entitlements,
		logg:         logg,
		prices: map[enums.SubscriptionTier]string{
			enums.SubscriptionTierPlus: strings.TrimSpace(params.PlusPriceID),
			enums.SubscriptionTierPro:  strings.TrimSpace(params.ProPriceID),
		},
		frontendURL: strings.TrimRight(strings.TrimSpace(params.FrontendURL), "/"),
	}, nil
}

// SubscriptionView is the read model returned to the app.
type SubscriptionView struct {
	Tier              enums.SubscriptionTier   `json:"tier"`
	EffectiveTier     enums.SubscriptionTier   `json:"effective_tier"`
	Status            enums.SubscriptionStatus `json:"status"`
	CustomerRef       *string                  `json:"stripe_customer_id"`
	PeriodEnd         *time.Time               `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	GraceDeadline     *time.Time               `json:"grace_deadline,omitempty"`
	Entitlements      entitlements.Set         `json:"entitlements"`
}

// GetSubscription returns the user's current billing state. Users that never
// subscribed are reported as free/inactive.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionView, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	sub, err := s.repo.FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	set, err := s.entitlements.GetOrCompute(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load entitlements")
	}

	view := &SubscriptionView{
		Tier:          enums.SubscriptionTierFree,
		EffectiveTier: entitlements.EffectiveTier(sub),
		Status:        enums.SubscriptionStatusInactive,
		Entitlements:  set,
	}
	if sub != nil {
		view.Tier = sub.Tier
		view.Status = sub.Status
		view.PeriodEnd = sub.PeriodEnd
		view.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		view.GraceDeadline = sub.GraceDeadline
		view.CustomerRef = sub.ExternalCustomerRef
	}
	if view.CustomerRef == nil {
		customer, err := s.repo.FindCustomer(ctx, userID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing customer")
		}
		if customer != nil {
			ref := customer.ExternalCustomerRef
			view.CustomerRef = &ref
		}
	}
	return view, nil
}

// CheckoutInput captures the caller identity and the requested plan.
type CheckoutInput struct {
	UserID uuid.UUID
	Email  string
	Name   string
	IsDemo bool
	Tier   string
}

// CreateCheckout reuses or creates the provider customer and opens a
// subscription-mode checkout session for the requested tier.
func (s *Service) CreateCheckout(ctx context.Context, input CheckoutInput) (string, error) {
	if input.IsDemo {
		return "", pkgerrors.New(pkgerrors.CodeForbidden, "demo accounts cannot subscribe")
	}
	if input.UserID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if s.provider == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "billing provider not configured")
	}
	tier, err := enums.ParseSubscriptionTier(input.Tier)
	if err != nil || !tier.IsPaid() {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "tier must be plus or pro").
			WithDetails(map[string]any{"tier": input.Tier})
	}
	priceID := s.prices[tier]
	if priceID == "" {
		return "", pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no price configured for %s", tier))
	}

	customerRef, err := s.ensureCustomer(ctx, input)
	if err != nil {
		return "", err
	}

	meta := map[string]string{
		metadataUserID: input.UserID.String(),
		metadataTier:   tier.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerRef),
		ClientReferenceID: stripe.String(input.UserID.String()),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(s.frontendURL + "/billing?success=true"),
		CancelURL:  stripe.String(s.frontendURL + "/billing?canceled=true"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	session, err := s.provider.CreateCheckoutSession(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	if session == nil || session.URL == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "checkout session returned no url")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"user_id": input.UserID.String(),
		"tier":    tier,
	}), "checkout session created")
	return session.URL, nil
}

// CreatePortal opens a customer portal session for a user who already has a provider customer.
func (s *Service) CreatePortal(ctx context.Context, userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if s.provider == nil {
		return "", pkgerrors.New(pkgerrors.CodeInternal, "billing provider not configured")
	}
	customer, err := s.repo.FindCustomer(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing customer")
	}
	if customer == nil {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no billing account for user")
	}

	session, err := s.provider.CreatePortalSession(ctx, &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customer.ExternalCustomerRef),
		ReturnURL: stripe.String(s.frontendURL + "/billing"),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	if session == nil || session.URL == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "portal session returned no url")
	}
	return session.URL, nil
}

func (s *Service) ensureCustomer(ctx context.Context, input CheckoutInput) (string, error) {
	existing, err := s.repo.FindCustomer(ctx, input.UserID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load billing customer")
	}
	if existing != nil {
		return existing.ExternalCustomerRef, nil
	}

	params := &stripe.CustomerParams{Name: stripe.String(input.Name)}
	if email := strings.TrimSpace(input.Email); email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(metadataUserID, input.UserID.String())
	created, err := s.provider.CreateCustomer(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stripe customer")
	}
	if created == nil || created.ID == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "stripe customer returned no id")
	}

	record := &models.BillingCustomer{UserID: input.UserID, ExternalCustomerRef: created.ID}
	if err := s.repo.CreateCustomer(ctx, record); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist billing customer")
		}
		// A concurrent checkout stored its customer first; use that one.
		winner, findErr := s.repo.FindCustomer(ctx, input.UserID)
		if findErr != nil || winner == nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist billing customer")
		}
		return winner.ExternalCustomerRef, nil
	}
	return created.ID, nil
}
