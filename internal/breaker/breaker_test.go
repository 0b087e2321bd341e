// internal/breaker/breaker_test.go
package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker() (*Breaker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	b := New(&Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		Clock:            clock,
	})
	return b, clock
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := New(nil)

	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.Allow())
	assert.Equal(t, 0, b.GetFailures())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, StateClosed, b.GetState(), "failure %d should not open", i+1)
		assert.True(t, b.Allow())
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.Allow())
}

func TestBreaker_CooldownMovesToHalfOpen(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.GetState())

	// Exactly the cooldown is not enough; it must be exceeded
	clock.Advance(60 * time.Second)
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.GetState())

	clock.Advance(time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.GetState())
}

func TestBreaker_SuccessResets(t *testing.T) {
	b, _ := newTestBreaker()

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()

	assert.Equal(t, 0, b.GetFailures())
	assert.Equal(t, StateClosed, b.GetState())

	// A success while open closes immediately
	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.GetState())
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenFreshThreshold(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, StateHalfOpen, b.GetState())
	require.Equal(t, 0, b.GetFailures())

	// Four half-open failures stay below the fresh threshold
	for i := 0; i < 4; i++ {
		b.RecordFailure()
		assert.Equal(t, StateHalfOpen, b.GetState())
		assert.True(t, b.Allow())
	}

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.GetState())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	clock.Advance(61 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.GetState())
	assert.Equal(t, 0, b.GetFailures())
}

func TestBreaker_FailureWhileOpenRestampsCooldown(t *testing.T) {
	b, clock := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.GetState())

	clock.Advance(30 * time.Second)
	b.RecordFailure()

	// 61s after the first stamp, but only 31s after the restamp
	clock.Advance(31 * time.Second)
	assert.False(t, b.Allow())

	clock.Advance(30 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_ForceOpen(t *testing.T) {
	b, clock := newTestBreaker()

	b.ForceOpen()
	assert.False(t, b.Allow())
	assert.Equal(t, StateOpen, b.GetState())

	clock.Advance(24 * time.Hour)
	assert.False(t, b.Allow())

	b.RecordSuccess()
	assert.False(t, b.Allow())
	assert.True(t, b.GetSnapshot().ForcedOpen)
}

func TestBreaker_ConcurrentAccess(t *testing.T) {
	b, _ := newTestBreaker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if n%2 == 0 {
					b.RecordFailure()
				} else {
					b.RecordSuccess()
				}
				b.Allow()
			}
		}(i)
	}
	wg.Wait()

	// State must be a coherent member of the enum
	s := b.GetState()
	assert.Contains(t, []State{StateClosed, StateOpen, StateHalfOpen}, s)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
