package eventsource

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff configures the delay between reconnection attempts.
// Zero values are replaced by DefaultBackoff's.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0,1).
	Jitter float64
}

// DefaultBackoff is exponential with jitter: 1s, x2, +/-50%, capped at 30s.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = def.Initial
	}
	if b.Max <= 0 {
		b.Max = def.Max
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Multiplier < 1 {
		b.Multiplier = def.Multiplier
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = def.Jitter
	}
	return b
}

// newExponential builds a policy that never gives up on its own; retry limits
// are enforced by the connection loop.
func (b Backoff) newExponential() *backoff.ExponentialBackOff {
	b = b.withDefaults()
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Initial
	eb.MaxInterval = b.Max
	eb.Multiplier = b.Multiplier
	eb.RandomizationFactor = b.Jitter
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}
