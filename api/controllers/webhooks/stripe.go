package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/angelmondragon/habits-backend/api/responses"
	stripewebhook "github.com/angelmondragon/habits-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/angelmondragon/habits-backend/pkg/logger"
)

const signatureHeader = "Stripe-Signature"

// StripeWebhookService verifies, deduplicates and applies one delivery.
type StripeWebhookService interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (stripewebhook.Result, error)
}

type receipt struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate"`
}

// StripeWebhook handles payment provider lifecycle events. Any 5xx makes the
// provider redeliver with backoff.
func StripeWebhook(svc StripeWebhookService, maxBytes int64, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		body := r.Body
		if maxBytes > 0 {
			body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		payload, err := io.ReadAll(body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, payload, r.Header.Get(signatureHeader))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, receipt{Received: true, Duplicate: result.Duplicate})
	}
}
