// Package retry computes the wait between delivery attempts.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// Backoff returns the delay before the next attempt, given how many attempts
// have already been made (1 after the first failure).
type Backoff interface {
	Next(attempt int) time.Duration
}

type Fixed struct {
	Delay time.Duration
}

func (b Fixed) Next(int) time.Duration { return b.Delay }

// Linear waits Base, 2*Base, 3*Base, ... capped at Max.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

func (b Linear) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return capAt(time.Duration(attempt)*b.Base, b.Max)
}

// Exponential waits Base, 2*Base, 4*Base, ... capped at Max. Jitter in
// [0,1) spreads each delay by up to that fraction in either direction.
type Exponential struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

func (b Exponential) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d *= 1 + (rand.Float64()*2-1)*b.Jitter
	}
	return time.Duration(d)
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// FromPolicy builds the backoff a notification's retry policy asks for.
// Unknown strategies fall back to exponential.
func FromPolicy(p domain.RetryPolicy) Backoff {
	switch p.Strategy {
	case domain.BackoffFixed:
		return Fixed{Delay: p.BaseDelay}
	case domain.BackoffLinear:
		return Linear{Base: p.BaseDelay, Max: p.MaxDelay}
	default:
		return Exponential{Base: p.BaseDelay, Max: p.MaxDelay}
	}
}
