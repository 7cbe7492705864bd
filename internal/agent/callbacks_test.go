package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCallback(t *testing.T) {
	r := newTestRunner(t, plainAgent{}, Config{})

	t.Run("valid events", func(t *testing.T) {
		noop := func(*Runner, *Result, error) {}
		assert.NoError(t, r.RegisterCallback(EventStart, noop))
		assert.NoError(t, r.RegisterCallback(EventComplete, noop))
		assert.NoError(t, r.RegisterCallback(EventError, noop))
	})

	t.Run("invalid event", func(t *testing.T) {
		err := r.RegisterCallback(Event("finish"), func(*Runner, *Result, error) {})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidEvent))
		assert.Contains(t, err.Error(), "finish")
	})

	t.Run("nil callback", func(t *testing.T) {
		assert.Error(t, r.RegisterCallback(EventStart, nil))
	})
}

func TestCallbackOrderAndArguments(t *testing.T) {
	impl := &stubAgent{
		execute: func(context.Context, *Task) (*Result, error) {
			return nil, errors.New("bad input")
		},
	}
	r := newTestRunner(t, impl, Config{})

	var events []string
	var completed *Result
	var failure error

	require.NoError(t, r.RegisterCallback(EventStart, func(got *Runner, result *Result, err error) {
		assert.Same(t, r, got)
		assert.Nil(t, result)
		assert.Equal(t, StatusRunning, got.Status())
		events = append(events, "start")
	}))
	require.NoError(t, r.RegisterCallback(EventError, func(_ *Runner, _ *Result, err error) {
		failure = err
		events = append(events, "error")
	}))
	require.NoError(t, r.RegisterCallback(EventComplete, func(_ *Runner, result *Result, _ error) {
		completed = result
		events = append(events, "complete")
	}))

	result := r.Run(context.Background())

	assert.Equal(t, []string{"start", "error", "complete"}, events)
	assert.EqualError(t, failure, "bad input")
	assert.Same(t, result, completed)
}

func TestCallbackPanicIsolated(t *testing.T) {
	r := newTestRunner(t, plainAgent{}, Config{})

	secondCalled := false
	require.NoError(t, r.RegisterCallback(EventStart, func(*Runner, *Result, error) {
		panic("start callback failure")
	}))
	require.NoError(t, r.RegisterCallback(EventStart, func(*Runner, *Result, error) {
		secondCalled = true
	}))
	completeCalls := 0
	require.NoError(t, r.RegisterCallback(EventComplete, func(*Runner, *Result, error) {
		panic("complete callback failure")
	}))
	require.NoError(t, r.RegisterCallback(EventComplete, func(*Runner, *Result, error) {
		completeCalls++
	}))

	var result *Result
	assert.NotPanics(t, func() { result = r.Run(context.Background()) })
	assert.True(t, result.Success)
	assert.True(t, secondCalled)
	assert.Equal(t, 1, completeCalls)
}
