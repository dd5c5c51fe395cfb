package queue

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBackoff(0, 0)
	assert.Equal(t, 5*time.Second, b.Base)
	assert.Equal(t, 10*time.Minute, b.Cap)
}

func TestBackoff_ExponentialWithinJitterBounds(t *testing.T) {
	t.Parallel()
	b := NewBackoff(5*time.Second, 10*time.Minute)
	b.rnd = rand.New(rand.NewSource(42))

	for attempt, base := range map[int]time.Duration{
		1: 5 * time.Second,
		2: 10 * time.Second,
		3: 20 * time.Second,
		4: 40 * time.Second,
	} {
		for i := 0; i < 50; i++ {
			d := b.Delay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.5), "attempt %d", attempt)
			assert.Less(t, d, time.Duration(float64(base)*1.5)+time.Millisecond, "attempt %d", attempt)
		}
	}
}

func TestBackoff_Cap(t *testing.T) {
	t.Parallel()
	b := NewBackoff(5*time.Second, 30*time.Second)
	b.rnd = rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		d := b.Delay(20)
		assert.LessOrEqual(t, d, time.Duration(float64(30*time.Second)*1.5))
		assert.GreaterOrEqual(t, d, 15*time.Second)
	}
}

func TestBackoff_AttemptFloor(t *testing.T) {
	t.Parallel()
	b := NewBackoff(time.Second, time.Minute)
	b.rnd = rand.New(rand.NewSource(1))
	d := b.Delay(0)
	assert.GreaterOrEqual(t, d, 500*time.Millisecond)
	assert.Less(t, d, 1500*time.Millisecond+time.Millisecond)
}
