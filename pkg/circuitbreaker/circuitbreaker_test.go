package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker(t *testing.T) {
	boom := errors.New("boom")
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var transitions []string
	cb := NewCircuitBreaker(Settings{
		Name:        "smtp",
		MaxFailures: 2,
		Timeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return clock }

	t.Run("opens after consecutive failures", func(t *testing.T) {
		assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
		assert.Equal(t, StateClosed, cb.State())
		assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("fails fast while open", func(t *testing.T) {
		called := false
		err := cb.Execute(func() error { called = true; return nil })
		assert.ErrorIs(t, err, ErrOpen)
		assert.False(t, called)
	})

	t.Run("half-open failure reopens", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		assert.ErrorIs(t, cb.Execute(func() error { return boom }), boom)
		assert.Equal(t, StateOpen, cb.State())
	})

	t.Run("half-open success closes", func(t *testing.T) {
		clock = clock.Add(2 * time.Minute)
		require.NoError(t, cb.Execute(func() error { return nil }))
		assert.Equal(t, StateClosed, cb.State())
	})

	assert.Equal(t, []string{
		"closed->open",
		"open->half-open",
		"half-open->open",
		"open->half-open",
		"half-open->closed",
	}, transitions)
}
