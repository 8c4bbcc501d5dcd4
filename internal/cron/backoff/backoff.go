// Package backoff computes retry delays for failed deliveries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Default retry policy: exponential with full jitter, short and bounded.
// delay(n) is a random value in [0, min(Initial*2^(n-1), Max)].
const (
	DefaultInitial = 250 * time.Millisecond
	DefaultMax     = 5 * time.Second
)

// Policy computes the delay before retry attempt n (1-indexed). Stateless
// and safe for concurrent use.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
}

// Default returns the engine's default retry policy.
func Default() Policy {
	return Policy{Initial: DefaultInitial, Max: DefaultMax}
}

// Delay returns a jittered delay for attempt n. The upper bound grows
// monotonically with the attempt count and is capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	return time.Duration(rand.Float64() * base)
}

// Bound returns the un-jittered upper bound for attempt n.
func (p Policy) Bound(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.Initial) * math.Pow(2, float64(attempt-1))
	if p.Max > 0 && base > float64(p.Max) {
		base = float64(p.Max)
	}
	return time.Duration(base)
}
