package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/habits-backend/api/middleware"
	"github.com/angelmondragon/habits-backend/api/responses"
	"github.com/angelmondragon/habits-backend/internal/entitlements"
	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/google/uuid"
)

// EntitlementReader resolves a user's feature limits through the cache.
type EntitlementReader interface {
	GetOrCompute(ctx context.Context, userID uuid.UUID) (entitlements.Set, error)
}

// MyEntitlements returns the caller's current feature limits.
func MyEntitlements(reader EntitlementReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if reader == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "entitlement service unavailable"))
			return
		}
		userID, ok := middleware.UserUUIDFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing user context"))
			return
		}
		set, err := reader.GetOrCompute(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve entitlements"))
			return
		}
		responses.WriteSuccess(w, set)
	}
}
