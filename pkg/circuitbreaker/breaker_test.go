package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errRemote = errors.New("remote unavailable")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestBreaker(clock *fakeClock, cfg Config) *CircuitBreaker {
	cfg.now = clock.now
	return New("athena", cfg)
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	cb := newTestBreaker(clock, Config{FailureThreshold: 2, Timeout: time.Minute})

	assert.ErrorIs(t, cb.Execute(func() error { return errRemote }), errRemote)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(func() error { return errRemote }), errRemote)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestBreaker_HalfOpenRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var transitions []State
	cb := newTestBreaker(clock, Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange:    func(_ string, _ State, to State) { transitions = append(transitions, to) },
	})

	_ = cb.Execute(func() error { return errRemote })
	clock.t = clock.t.Add(2 * time.Minute)

	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestBreaker_IgnoresNonFailures(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	errSyntax := errors.New("line 1:8: mismatched input")
	cb := newTestBreaker(clock, Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, errSyntax) },
	})

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errSyntax }), errSyntax)
	}
	assert.Equal(t, StateClosed, cb.State())
}
