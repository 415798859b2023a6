package durable

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy selects how RetryDelay grows between attempts.
type BackoffPolicy uint8

const (
	BackoffExponential BackoffPolicy = iota
	BackoffFixed
)

// RetryPolicy configures RunSideEffect's durable retry behavior.
// Backoff is journaled as ordinary Sleep entries so replay reproduces
// the exact schedule; the formula itself mirrors a conventional
// exponential-backoff-with-jitter retryer.
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	Policy       BackoffPolicy
}

// DefaultRetryPolicy returns a conservative exponential policy with
// jitter enabled.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Policy:       BackoffExponential,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// delayForAttempt computes the backoff duration before the given
// retry attempt (1-indexed: attempt 1 is the delay before the first
// retry after the initial try).
func (p RetryPolicy) delayForAttempt(attempt int) time.Duration {
	p = p.normalized()
	var delay float64
	switch p.Policy {
	case BackoffFixed:
		delay = float64(p.InitialDelay)
	default:
		delay = float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}
