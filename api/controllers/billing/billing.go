package billing

import (
	"context"
	"net/http"

	"github.com/angelmondragon/habits-backend/api/middleware"
	"github.com/angelmondragon/habits-backend/api/responses"
	"github.com/angelmondragon/habits-backend/api/validators"
	billingsvc "github.com/angelmondragon/habits-backend/internal/billing"
	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/google/uuid"
)

// Service describes the billing methods used by the HTTP controllers.
type Service interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*billingsvc.SubscriptionView, error)
	CreateCheckout(ctx context.Context, input billingsvc.CheckoutInput) (string, error)
	CreatePortal(ctx context.Context, userID uuid.UUID) (string, error)
}

type checkoutRequest struct {
	Tier string `json:"tier" validate:"required,oneof=plus pro"`
}

type sessionResponse struct {
	URL string `json:"url"`
}

func Subscription(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(w, r, svc, logg)
		if !ok {
			return
		}
		view, err := svc.GetSubscription(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func Checkout(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(w, r, svc, logg)
		if !ok {
			return
		}
		var req checkoutRequest
		if err := validators.DecodeJSONBody(w, r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := billingsvc.CheckoutInput{UserID: userID, Tier: req.Tier}
		if claims := middleware.ClaimsFromContext(ctx); claims != nil {
			input.Email = claims.Email
			input.Name = claims.Name
			input.IsDemo = claims.IsDemo
		}
		url, err := svc.CreateCheckout(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sessionResponse{URL: url})
	}
}

func Portal(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID, ok := requireUser(w, r, svc, logg)
		if !ok {
			return
		}
		url, err := svc.CreatePortal(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, sessionResponse{URL: url})
	}
}

func requireUser(w http.ResponseWriter, r *http.Request, svc Service, logg *logger.Logger) (uuid.UUID, bool) {
	ctx := r.Context()
	if svc == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
		return uuid.Nil, false
	}
	userID, ok := middleware.UserUUIDFromContext(ctx)
	if !ok {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context"))
		return uuid.Nil, false
	}
	return userID, true
}
