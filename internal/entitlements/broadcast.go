package entitlements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/habits-backend/pkg/logger"
	"github.com/google/uuid"
)

type publisher interface {
	Publish(ctx context.Context, channel, message string) error
}

type subscriber interface {
	SubscribeMessages(ctx context.Context, channel string) (<-chan string, func() error, error)
}

// Broadcaster invalidates the local cache and fans the invalidation out to
// other processes over a pub/sub channel. Publish failures are logged; peers
// then converge when their TTL lapses.
type Broadcaster struct {
	local   Invalidator
	pub     publisher
	channel string
	logg    *logger.Logger
}

// NewBroadcaster builds a broadcaster. local may be nil in processes without a cache, such as the cron worker.
func NewBroadcaster(local Invalidator, pub publisher, channel string, logg *logger.Logger) (*Broadcaster, error) {
	if pub == nil {
		return nil, errors.New("publisher required")
	}
	if strings.TrimSpace(channel) == "" {
		return nil, errors.New("invalidation channel required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Broadcaster{local: local, pub: pub, channel: channel, logg: logg}, nil
}

func (b *Broadcaster) Invalidate(ctx context.Context, userID uuid.UUID) {
	if b.local != nil {
		b.local.Invalidate(ctx, userID)
	}
	if err := b.pub.Publish(ctx, b.channel, userID.String()); err != nil {
		b.logg.Error(b.logg.WithUserID(ctx, userID.String()), "publish entitlement invalidation", err)
	}
}

const (
	defaultListenRetryInitial = time.Second
	defaultListenRetryMax     = 30 * time.Second
)

// ListenWithRetry runs Listen until ctx is done, resubscribing after each
// failure with exponential backoff capped at maxDelay. The delay resets once
// a subscription has stayed up for longer than maxDelay.
func ListenWithRetry(ctx context.Context, sub subscriber, channel string, local Invalidator, logg *logger.Logger, initial, maxDelay time.Duration) error {
	if logg == nil {
		logg = logger.Nop()
	}
	if initial <= 0 {
		initial = defaultListenRetryInitial
	}
	if maxDelay < initial {
		maxDelay = max(initial, defaultListenRetryMax)
	}

	delay := initial
	for {
		started := time.Now()
		err := Listen(ctx, sub, channel, local, logg)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > maxDelay {
			delay = initial
		}
		logg.Error(logg.WithField(ctx, "retry_in_ms", delay.Milliseconds()), "entitlement invalidation listener stopped", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxDelay)
	}
}

// Listen applies invalidations received on channel to local until ctx is done.
func Listen(ctx context.Context, sub subscriber, channel string, local Invalidator, logg *logger.Logger) error {
	if logg == nil {
		logg = logger.Nop()
	}
	messages, closeFn, err := sub.SubscribeMessages(ctx, channel)
	if err != nil {
		return fmt.Errorf("subscribe invalidations: %w", err)
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			logg.Warn(ctx, "closing invalidation subscription: "+cerr.Error())
		}
	}()

	logg.Info(logg.WithField(ctx, "channel", channel), "listening for entitlement invalidations")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-messages:
			if !ok {
				return errors.New("invalidation subscription closed")
			}
			userID, err := uuid.Parse(strings.TrimSpace(payload))
			if err != nil {
				logg.Warn(logg.WithField(ctx, "payload", payload), "ignoring malformed invalidation message")
				continue
			}
			local.Invalidate(ctx, userID)
		}
	}
}
