package durable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.True(t, p.Jitter)
	assert.Equal(t, BackoffExponential, p.Policy)
}

func TestNormalized_FillsInvalidFields(t *testing.T) {
	p := RetryPolicy{MaxRetries: -1, Multiplier: 0.5}.normalized()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestDelayForAttempt_ExponentialGrowsWithoutJitter(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute, Policy: BackoffExponential}
	d1 := p.delayForAttempt(1)
	d2 := p.delayForAttempt(2)
	assert.Equal(t, time.Second, d1)
	assert.Equal(t, 2*time.Second, d2)
}

func TestDelayForAttempt_FixedIgnoresAttemptNumber(t *testing.T) {
	p := RetryPolicy{InitialDelay: 5 * time.Second, MaxDelay: time.Minute, Policy: BackoffFixed}
	d1 := p.delayForAttempt(1)
	d5 := p.delayForAttempt(5)
	assert.Equal(t, d1, d5)
}

func TestDelayForAttempt_CappedAtMaxDelay(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 10.0, MaxDelay: 5 * time.Second, Policy: BackoffExponential}
	d := p.delayForAttempt(5)
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestDelayForAttempt_JitterStaysWithinBounds(t *testing.T) {
	p := RetryPolicy{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 20; i++ {
		d := p.delayForAttempt(3)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	}
}
