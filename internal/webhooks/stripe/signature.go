package stripewebhook

import (
	"crypto/hmac"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84/webhook"
)

// DefaultTolerance bounds how far a signed timestamp may drift from now.
const DefaultTolerance = 300 * time.Second

// ErrInvalidSignature is the only error Verify reports to callers.
var ErrInvalidSignature = errors.New("invalid webhook signature")

type rejection struct {
	reason string
}

func (r *rejection) Error() string        { return ErrInvalidSignature.Error() + ": " + r.reason }
func (r *rejection) Is(target error) bool { return target == ErrInvalidSignature }

// RejectionReason returns the internal reason behind a Verify failure, for logs only.
func RejectionReason(err error) string {
	var r *rejection
	if errors.As(err, &r) {
		return r.reason
	}
	return ""
}

// Authenticator checks the Stripe-Signature header of an inbound webhook.
type Authenticator struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewAuthenticator(secret string, tolerance time.Duration) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("webhook signing secret required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Authenticator{secret: secret, tolerance: tolerance, now: time.Now}, nil
}

// WithClock returns a copy of a that reads the current time from now.
func (a *Authenticator) WithClock(now func() time.Time) *Authenticator {
	clone := *a
	clone.now = now
	return &clone
}

// Verify accepts payload when header carries a fresh timestamp and at least
// one v1 signature equal to HMAC-SHA256("{t}.{payload}"). Every check runs
// regardless of earlier failures so the response time does not depend on
// which one failed.
func (a *Authenticator) Verify(payload []byte, header string) error {
	ts, signatures, parsed := parseSignatureHeader(header)

	expected := webhook.ComputeSignature(time.Unix(ts, 0), payload, a.secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}

	drift := a.now().Sub(time.Unix(ts, 0))
	if drift < 0 {
		drift = -drift
	}
	fresh := ts > 0 && drift <= a.tolerance

	switch {
	case !parsed:
		return &rejection{reason: "malformed header"}
	case ts <= 0:
		return &rejection{reason: "missing timestamp"}
	case len(signatures) == 0:
		return &rejection{reason: "missing signature"}
	case !fresh:
		return &rejection{reason: "timestamp outside tolerance"}
	case !matched:
		return &rejection{reason: "no matching signature"}
	}
	return nil
}

// parseSignatureHeader reads "t=<unix>,v1=<hex>[,v1=<hex>...]". Unknown
// schemes are ignored; undecodable v1 values mark the header malformed.
func parseSignatureHeader(header string) (int64, [][]byte, bool) {
	var (
		ts         int64
		signatures [][]byte
		ok         = strings.TrimSpace(header) != ""
	)
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			ok = false
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				ok = false
				continue
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				ok = false
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	return ts, signatures, ok
}
