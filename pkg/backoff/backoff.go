// Package backoff computes retry delays for transient delivery failures.
package backoff

import (
	"math/rand"
	"time"
)

const (
	DefaultBase           = 5 * time.Second
	DefaultMax            = 15 * time.Minute
	DefaultJitterFraction = 0.2
)

// Policy maps an attempt count to the delay before the instance becomes
// claimable again: base * 2^(attempts-1), capped at Max, plus a jitter
// fraction drawn from the injected source. Injecting the source keeps the
// policy deterministic under test while spreading re-claims in production.
type Policy struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64

	rand *rand.Rand
}

// NewPolicy builds a policy with an explicit random source for jitter. A nil
// source disables jitter entirely.
func NewPolicy(base, max time.Duration, jitterFraction float64, source *rand.Rand) *Policy {
	return &Policy{
		Base:           base,
		Max:            max,
		JitterFraction: jitterFraction,
		rand:           source,
	}
}

// NewDefaultPolicy builds a production policy seeded from the current time.
func NewDefaultPolicy() *Policy {
	return NewPolicy(DefaultBase, DefaultMax, DefaultJitterFraction,
		rand.New(rand.NewSource(time.Now().UnixNano())))
}

// Delay returns the backoff before retrying the given attempt. Attempts start
// at 1; values below 1 are treated as 1. The pre-jitter delay is
// non-decreasing in attempts up to Max.
func (p *Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Base

	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.Max || delay < 0 {
			delay = p.Max

			break
		}
	}

	if delay > p.Max {
		delay = p.Max
	}

	if p.rand != nil && p.JitterFraction > 0 {
		jitter := time.Duration(p.rand.Float64() * p.JitterFraction * float64(delay))
		delay += jitter
	}

	return delay
}
