package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/geodiary/mapcore/internal/api"
	"github.com/geodiary/mapcore/internal/model"
)

// Default initial fetch policy.
const (
	DefaultInitialTimeout = 2500 * time.Millisecond
	DefaultFactor         = 1.4
	DefaultMaxAttempts    = 6
)

// FetchPolicy bounds the initial fetch. The first attempt is given
// InitialTimeout; each of up to MaxAttempts retries gets the previous
// timeout multiplied by Factor.
type FetchPolicy struct {
	InitialTimeout time.Duration
	Factor         float64
	MaxAttempts    int
}

func (p FetchPolicy) withDefaults() FetchPolicy {
	if p.InitialTimeout <= 0 {
		p.InitialTimeout = DefaultInitialTimeout
	}
	if p.Factor < 1 {
		p.Factor = DefaultFactor
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Lister lists the signed-in user's markers.
type Lister interface {
	ListMarkers(ctx context.Context) ([]model.RemoteMarker, error)
}

// FetchWithBackoff lists the server markers, retrying on failure or on an
// empty answer. api.ErrNoMarkers ends the fetch immediately with an empty
// result. Running out of attempts yields an empty result, not an error; only
// cancellation of ctx is reported.
func FetchWithBackoff(ctx context.Context, l Lister, policy FetchPolicy, log *slog.Logger) ([]model.RemoteMarker, error) {
	policy = policy.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	timeout := policy.InitialTimeout
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		markers, err := l.ListMarkers(attemptCtx)
		cancel()

		switch {
		case errors.Is(err, api.ErrNoMarkers):
			return nil, nil
		case err != nil:
			log.Warn("Fetching markers failed", "attempt", attempt+1, "timeout", timeout, "error", err)
		case len(markers) > 0:
			return markers, nil
		default:
			log.Debug("Fetch returned no markers", "attempt", attempt+1)
		}

		timeout = time.Duration(float64(timeout) * policy.Factor)
	}

	log.Warn("Giving up on fetching markers", "attempts", policy.MaxAttempts+1)
	return nil, nil
}
