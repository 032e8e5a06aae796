package errext

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/errext/exitcodes"
)

type stackErr struct{ msg string }

func (e stackErr) Error() string      { return e.msg }
func (e stackErr) StackTrace() string { return e.msg + "\n\tat step (scenario.yaml:3)" }

func TestErrextHelpers(t *testing.T) {
	t.Parallel()

	const baseErrorMsg = "waiting for locator"
	baseErr := errors.New(baseErrorMsg)

	t.Run("nil", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, WithHint(nil, "hint"))
		assert.NoError(t, WithExitCodeIfNone(nil, exitcodes.ActionTimeout))
	})

	t.Run("hint_chain", func(t *testing.T) {
		t.Parallel()

		errWithHint := WithHint(baseErr, "increase the timeout")
		wrapped := fmt.Errorf("clicking on %q: %w", "#go", errWithHint)
		errWithTwoHints := WithHint(wrapped, "the element was covered")

		var herr HasHint
		require.ErrorAs(t, errWithTwoHints, &herr)
		assert.Equal(t, "the element was covered (increase the timeout)", herr.Hint())
		assert.ErrorIs(t, errWithTwoHints, baseErr)
	})

	t.Run("exit_code_first_wins", func(t *testing.T) {
		t.Parallel()

		err := WithExitCodeIfNone(baseErr, exitcodes.ActionTimeout)
		err = WithExitCodeIfNone(fmt.Errorf("scenario step 2: %w", err), exitcodes.ScenarioFailed)

		var eerr HasExitCode
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, exitcodes.ActionTimeout, eerr.ExitCode())
	})
}

func TestFormat(t *testing.T) {
	t.Parallel()

	msg, fields := Format(nil)
	assert.Empty(t, msg)
	assert.Nil(t, fields)

	err := WithExitCodeIfNone(WithHint(stackErr{"boom"}, "check the predicate"), exitcodes.ScriptException)
	msg, fields = Format(err)
	assert.Contains(t, msg, "scenario.yaml:3")
	assert.Equal(t, "check the predicate", fields["hint"])
	assert.Equal(t, int(exitcodes.ScriptException), fields["exit_code"])
}

func TestInterruptError(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("running: %w", &InterruptError{Reason: AbortRun})
	assert.True(t, IsInterruptError(err))
	assert.False(t, IsInterruptError(nil))
	assert.False(t, IsInterruptError(errors.New(AbortRun)))

	var eerr HasExitCode
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, exitcodes.ExternalAbort, eerr.ExitCode())
}
