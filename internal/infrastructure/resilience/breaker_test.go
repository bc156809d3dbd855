package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egsm/perftrace/internal/shared/clock"
)

var errIO = errors.New("io failure")

func call(b *Breaker, success bool) error {
	return b.Do(func() error {
		if success {
			return nil
		}
		return errIO
	})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	tests := []struct {
		name     string
		calls    []bool // true = success
		expected State
	}{
		{"successes keep it closed", []bool{true, true, true}, StateClosed},
		{"a success resets the run", []bool{false, false, true, false, false}, StateClosed},
		{"three failures in a row", []bool{true, false, false, false}, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("shared-state", Settings{Clock: clock.Fake(time.Unix(0, 0))})
			for _, ok := range tt.calls {
				_ = call(b, ok)
			}
			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestOpenBreakerRejectsWithoutCalling(t *testing.T) {
	b := New("shared-state", Settings{Clock: clock.Fake(time.Unix(0, 0)), Threshold: 1})
	require.ErrorIs(t, call(b, false), errIO)

	called := false
	err := b.Do(func() error { called = true; return nil })

	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, uint64(1), b.Stats().Rejected)
}

func TestProbeAfterCooldownCloses(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	var seen []State
	b := New("shared-state", Settings{
		Clock:    fake,
		Cooldown: time.Minute,
		OnStateChange: func(_ string, _, to State) {
			seen = append(seen, to)
		},
	})
	for i := 0; i < 3; i++ {
		_ = call(b, false)
	}

	fake.Advance(59 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	fake.Advance(time.Second)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, call(b, true))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, seen)
}

func TestFailedProbeReopens(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	b := New("shared-state", Settings{Clock: fake, Cooldown: time.Second, Threshold: 1})
	_ = call(b, false)
	opened := b.Stats().OpenedAt

	fake.Advance(time.Second)
	require.ErrorIs(t, call(b, false), errIO)

	s := b.Stats()
	assert.Equal(t, StateOpen, s.State)
	assert.True(t, s.OpenedAt.After(opened))
}

func TestOnlyOneProbeAtATime(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	b := New("shared-state", Settings{Clock: fake, Cooldown: time.Second, Threshold: 1})
	_ = call(b, false)
	fake.Advance(time.Second)

	var inner error
	err := b.Do(func() error {
		inner = call(b, true)
		return nil
	})

	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrCircuitOpen)
	assert.Equal(t, StateClosed, b.State())
}

func TestPanicCountsAsFailure(t *testing.T) {
	b := New("shared-state", Settings{Clock: clock.Fake(time.Unix(0, 0))})

	assert.Panics(t, func() {
		_ = b.Do(func() error { panic("boom") })
	})
	s := b.Stats()
	assert.Equal(t, uint64(1), s.Failures)
	assert.Equal(t, 1, s.ConsecutiveFailures)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
