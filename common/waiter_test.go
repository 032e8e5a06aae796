package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/log"
)

func newTestWaitTask(timeout time.Duration, closed <-chan struct{}) *waitTask {
	return newWaitTask("click", "#btn", timeout, 5*time.Millisecond, closed, log.NewNullLogger())
}

func TestWaitTaskStates(t *testing.T) {
	t.Parallel()

	t.Run("succeeds_on_later_tick", func(t *testing.T) {
		t.Parallel()

		w := newTestWaitTask(time.Second, nil)
		assert.Equal(t, WaitIdle, w.State())

		var states []WaitState
		err := w.run(context.Background(), func(_ context.Context, tick int) (bool, []Condition, error) {
			states = append(states, w.State())
			return tick == 3, []Condition{ConditionVisible}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, WaitSucceeded, w.State())
		assert.Equal(t, []WaitState{WaitPolling, WaitPolling, WaitPolling, WaitPolling}, states)
	})

	t.Run("times_out_with_unmet", func(t *testing.T) {
		t.Parallel()

		w := newTestWaitTask(50*time.Millisecond, nil)
		start := time.Now()
		err := w.run(context.Background(), func(_ context.Context, tick int) (bool, []Condition, error) {
			if tick == 0 {
				return false, []Condition{ConditionAttached}, nil
			}
			return false, []Condition{ConditionStable, ConditionEnabled}, nil
		})
		elapsed := time.Since(start)

		require.ErrorIs(t, err, ErrActionTimeout)
		assert.Equal(t, WaitTimedOut, w.State())
		assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
		assert.Less(t, elapsed, time.Second)

		var terr *TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, []Condition{ConditionStable, ConditionEnabled}, terr.Unmet)
		assert.Equal(t, "#btn", terr.Selector)
		assert.Contains(t, err.Error(), "to be stable, enabled")
		assert.Contains(t, terr.Hint(), "enabled")
	})

	t.Run("fails_on_error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		w := newTestWaitTask(time.Second, nil)
		err := w.run(context.Background(), func(context.Context, int) (bool, []Condition, error) {
			return false, nil, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, WaitFailed, w.State())
	})

	t.Run("cancelled_by_ctx", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		w := newTestWaitTask(0, nil)
		err := w.run(ctx, func(_ context.Context, tick int) (bool, []Condition, error) {
			if tick == 2 {
				cancel()
			}
			return false, nil, nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, WaitCancelled, w.State())
	})

	t.Run("cancelled_by_close", func(t *testing.T) {
		t.Parallel()

		closed := make(chan struct{})
		w := newTestWaitTask(0, closed)
		err := w.run(context.Background(), func(_ context.Context, tick int) (bool, []Condition, error) {
			if tick == 1 {
				close(closed)
			}
			return false, nil, nil
		})
		assert.ErrorIs(t, err, ErrContextClosed)
		assert.Equal(t, WaitCancelled, w.State())
	})

	t.Run("first_tick_is_immediate", func(t *testing.T) {
		t.Parallel()

		w := newWaitTask("read", "p", time.Second, time.Hour, nil, log.NewNullLogger())
		start := time.Now()
		require.NoError(t, w.run(context.Background(), func(context.Context, int) (bool, []Condition, error) {
			return true, nil, nil
		}))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})
}

func TestWaitStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "timed out", WaitTimedOut.String())
	assert.Equal(t, "WaitState(42)", WaitState(42).String())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := &StrictModeError{Selector: "li", Count: 4}
	assert.ErrorIs(t, err, ErrStrictModeViolation)
	assert.Contains(t, err.Error(), "resolved to 4 elements")

	evErr := &TimeoutError{Kind: ErrEventWaitTimeout, Op: "waiting for popup", Timeout: time.Second}
	assert.ErrorIs(t, evErr, ErrEventWaitTimeout)
	assert.NotErrorIs(t, evErr, ErrActionTimeout)
	assert.NotEqual(t, (&TimeoutError{Kind: ErrActionTimeout}).ExitCode(), evErr.ExitCode())

	assert.ErrorIs(t, contextClosedError("click"), ErrContextClosed)
}
