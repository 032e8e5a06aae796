package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liuxd6825/autowait/errext"
	"github.com/liuxd6825/autowait/errext/exitcodes"
)

// ErrorKind classifies the errors surfaced by the engine. Callers branch on
// it with errors.Is.
type ErrorKind string

func (k ErrorKind) Error() string { return string(k) }

// Error kinds.
const (
	ErrActionTimeout         ErrorKind = "timeout exceeded"
	ErrEventWaitTimeout      ErrorKind = "timeout exceeded while waiting for event"
	ErrNavigationInterrupted ErrorKind = "navigation interrupted the action"
	ErrContextClosed         ErrorKind = "browser context closed"
	ErrSelectorSyntax        ErrorKind = "malformed selector"
	ErrStrictModeViolation   ErrorKind = "strict mode violation"
)

// ErrRouteAlreadyHandled is returned when a route is resolved twice.
var ErrRouteAlreadyHandled = errors.New("route is already handled")

// ErrDialogAlreadyHandled is returned when a dialog is closed twice.
var ErrDialogAlreadyHandled = errors.New("dialog is already handled")

// TimeoutError is returned when a wait runs out of time. For element waits
// it carries the conditions that were still unmet on the last poll.
type TimeoutError struct {
	Kind     ErrorKind
	Op       string
	Selector string
	Unmet    []Condition
	Timeout  time.Duration
	Elapsed  time.Duration
}

func (e *TimeoutError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s", e.Op, e.Kind)
	if e.Timeout > 0 {
		fmt.Fprintf(&sb, " (%s)", e.Timeout)
	}
	if e.Selector != "" {
		fmt.Fprintf(&sb, " waiting for %q", e.Selector)
	}
	if len(e.Unmet) > 0 {
		fmt.Fprintf(&sb, " to be %s", joinConditions(e.Unmet))
	}
	fmt.Fprintf(&sb, ", elapsed %s", e.Elapsed.Round(time.Millisecond))

	return sb.String()
}

// Unwrap returns the error kind.
func (e *TimeoutError) Unwrap() error { return e.Kind }

// Hint tells the user which condition held the action back.
func (e *TimeoutError) Hint() string {
	if len(e.Unmet) == 0 {
		return "the awaited event never happened; check the predicate or raise the timeout"
	}
	return fmt.Sprintf("the element was never %s; check the selector or raise the timeout", e.Unmet[len(e.Unmet)-1])
}

// ExitCode implements errext.HasExitCode.
func (e *TimeoutError) ExitCode() exitcodes.ExitCode {
	if e.Kind == ErrEventWaitTimeout {
		return exitcodes.EventWaitTimeout
	}
	return exitcodes.ActionTimeout
}

var (
	_ errext.HasHint     = &TimeoutError{}
	_ errext.HasExitCode = &TimeoutError{}
)

// SelectorError is returned when a selector can't be parsed.
type SelectorError struct {
	Selector string
	Part     string
	Err      error
}

func (e *SelectorError) Error() string {
	if e.Part != "" {
		return fmt.Sprintf("%s %q: in %q: %v", ErrSelectorSyntax, e.Selector, e.Part, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", ErrSelectorSyntax, e.Selector, e.Err)
}

// Unwrap returns both the kind and the underlying cause.
func (e *SelectorError) Unwrap() []error { return []error{ErrSelectorSyntax, e.Err} }

// ExitCode implements errext.HasExitCode.
func (e *SelectorError) ExitCode() exitcodes.ExitCode { return exitcodes.SelectorSyntax }

// StrictModeError is returned when an action's selector matches more than
// one element.
type StrictModeError struct {
	Selector string
	Count    int
}

func (e *StrictModeError) Error() string {
	return fmt.Sprintf("%s: %q resolved to %d elements", ErrStrictModeViolation, e.Selector, e.Count)
}

// Unwrap returns the error kind.
func (e *StrictModeError) Unwrap() error { return ErrStrictModeViolation }

// Hint implements errext.HasHint.
func (e *StrictModeError) Hint() string {
	return "narrow the locator with Filter, First, Last or Nth"
}

func contextClosedError(op string) error {
	return errext.WithExitCodeIfNone(fmt.Errorf("%s: %w", op, ErrContextClosed), exitcodes.ContextClosed)
}

func joinConditions(cs []Condition) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
