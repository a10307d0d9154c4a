package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/habits-backend/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/habits-backend/pkg/errors"
	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/angelmondragon/habits-backend/pkg/metrics"
)

type lifecycleApplier interface {
	Apply(ctx context.Context, evt subscriptions.Event) (subscriptions.Outcome, error)
}

// ServiceParams groups dependencies for webhook intake.
type ServiceParams struct {
	Authenticator *Authenticator
	Deduplicator  *Deduplicator
	Decoder       *Decoder
	Lifecycle     lifecycleApplier
	Logger        *logger.Logger
	Metrics       *metrics.WebhookMetrics
}

// Service runs an inbound delivery through authentication, deduplication
// and the subscription state machine.
type Service struct {
	auth      *Authenticator
	dedup     *Deduplicator
	decoder   *Decoder
	lifecycle lifecycleApplier
	logg      *logger.Logger
	metrics   *metrics.WebhookMetrics
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Authenticator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook authenticator required")
	}
	if params.Deduplicator == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event deduplicator required")
	}
	if params.Lifecycle == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lifecycle service required")
	}
	decoder := params.Decoder
	if decoder == nil {
		decoder = NewDecoder("", "")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{
		auth:      params.Authenticator,
		dedup:     params.Deduplicator,
		decoder:   decoder,
		lifecycle: params.Lifecycle,
		logg:      logg,
		metrics:   params.Metrics,
	}, nil
}

// Result describes an accepted delivery.
type Result struct {
	EventID   string
	EventType string
	Duplicate bool
	Outcome   subscriptions.Outcome
}

// Handle verifies and applies one delivery. Authentication and decode
// failures come back as SIGNATURE_INVALID / VALIDATION_ERROR; a failure after
// admission releases the dedup record and returns INTERNAL_ERROR so the
// provider redelivers.
func (s *Service) Handle(ctx context.Context, payload []byte, signatureHeader string) (result Result, err error) {
	start := time.Now()
	eventType, outcome := "unknown", "error"
	defer func() {
		s.metrics.Observe(eventType, outcome, time.Since(start))
	}()

	if err := s.auth.Verify(payload, signatureHeader); err != nil {
		outcome = "invalid_signature"
		s.logg.Warn(s.logg.WithField(ctx, "reason", RejectionReason(err)), "stripe webhook rejected")
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "invalid signature")
	}

	evt, err := s.decoder.Decode(payload)
	if err != nil {
		outcome = "malformed"
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event")
	}
	eventType = evt.Type
	ctx = s.logg.WithEvent(ctx, evt.ID, evt.Type)
	result = Result{EventID: evt.ID, EventType: evt.Type}

	admission, err := s.dedup.Admit(ctx, evt.ID, evt.Type)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record event")
	}
	if admission.Duplicate() {
		outcome = "duplicate"
		result.Duplicate = true
		s.logg.Info(ctx, "stripe event already processed")
		return result, nil
	}
	defer func() {
		if releaseErr := admission.Release(ctx); releaseErr != nil {
			s.logg.Error(ctx, "failed to release processed event", releaseErr)
			err = errors.Join(err, releaseErr)
		}
	}()

	applied, err := s.lifecycle.Apply(ctx, evt)
	if err != nil {
		s.logg.Error(ctx, "failed to apply stripe event", err)
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "process event")
	}
	admission.Commit()

	result.Outcome = applied
	outcome = "skipped"
	if applied.Changed() {
		outcome = "applied"
	}
	return result, nil
}
