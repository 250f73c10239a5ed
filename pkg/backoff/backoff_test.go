package backoff

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_DelayDoubles(t *testing.T) {
	policy := NewPolicy(5*time.Second, 15*time.Minute, 0, nil)

	assert.Equal(t, 5*time.Second, policy.Delay(1))
	assert.Equal(t, 10*time.Second, policy.Delay(2))
	assert.Equal(t, 20*time.Second, policy.Delay(3))
	assert.Equal(t, 40*time.Second, policy.Delay(4))
}

func TestPolicy_DelayCapped(t *testing.T) {
	policy := NewPolicy(5*time.Second, time.Minute, 0, nil)

	assert.Equal(t, time.Minute, policy.Delay(5))
	assert.Equal(t, time.Minute, policy.Delay(50))
	// Large attempt counts must not overflow past the cap.
	assert.Equal(t, time.Minute, policy.Delay(200))
}

func TestPolicy_DelayMonotonic(t *testing.T) {
	policy := NewPolicy(time.Second, time.Hour, 0, nil)

	prev := time.Duration(0)

	for attempts := 1; attempts <= 20; attempts++ {
		delay := policy.Delay(attempts)
		assert.GreaterOrEqual(t, delay, prev, "attempts=%d", attempts)
		prev = delay
	}
}

func TestPolicy_DelayAttemptsBelowOne(t *testing.T) {
	policy := NewPolicy(5*time.Second, time.Minute, 0, nil)

	assert.Equal(t, policy.Delay(1), policy.Delay(0))
	assert.Equal(t, policy.Delay(1), policy.Delay(-3))
}

func TestPolicy_Jitter(t *testing.T) {
	policy := NewPolicy(10*time.Second, time.Minute, 0.2, rand.New(rand.NewSource(42)))

	for range 100 {
		delay := policy.Delay(1)
		assert.GreaterOrEqual(t, delay, 10*time.Second)
		assert.LessOrEqual(t, delay, 12*time.Second)
	}
}

func TestPolicy_JitterDeterministicPerSeed(t *testing.T) {
	a := NewPolicy(10*time.Second, time.Minute, 0.5, rand.New(rand.NewSource(7)))
	b := NewPolicy(10*time.Second, time.Minute, 0.5, rand.New(rand.NewSource(7)))

	for range 10 {
		assert.Equal(t, a.Delay(2), b.Delay(2))
	}
}
