package common

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/liuxd6825/autowait/log"
)

// WaitState is the state of an element wait.
type WaitState int32

// Wait states. A wait starts Idle, moves to Polling and ends in one of the
// terminal states.
const (
	WaitIdle WaitState = iota
	WaitPolling
	WaitSucceeded
	WaitTimedOut
	WaitCancelled
	// WaitFailed ends a wait on a hard error such as an interrupted
	// navigation or a backend failure.
	WaitFailed
)

func (s WaitState) String() string {
	switch s {
	case WaitIdle:
		return "idle"
	case WaitPolling:
		return "polling"
	case WaitSucceeded:
		return "succeeded"
	case WaitTimedOut:
		return "timed out"
	case WaitCancelled:
		return "cancelled"
	case WaitFailed:
		return "failed"
	}
	return fmt.Sprintf("WaitState(%d)", int32(s))
}

// pollFunc is called once per tick. It returns done once the wait is over,
// or the conditions that are still unmet otherwise. A non-nil error ends
// the wait immediately.
type pollFunc func(ctx context.Context, tick int) (done bool, unmet []Condition, err error)

// waitTask polls until its pollFunc is done, the timeout expires, or the
// owning context closes.
type waitTask struct {
	op       string
	selector string
	timeout  time.Duration
	interval time.Duration
	kind     ErrorKind
	closed   <-chan struct{}
	logger   *log.Logger

	state atomic.Int32
}

func newWaitTask(op, selector string, timeout, interval time.Duration, closed <-chan struct{}, logger *log.Logger) *waitTask {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &waitTask{
		op:       op,
		selector: selector,
		timeout:  timeout,
		interval: interval,
		kind:     ErrActionTimeout,
		closed:   closed,
		logger:   logger,
	}
}

// State returns the current state of the wait.
func (w *waitTask) State() WaitState {
	return WaitState(w.state.Load())
}

func (w *waitTask) setState(s WaitState) {
	w.state.Store(int32(s))
	w.logger.Tracef("waitTask:"+w.op, "sel:%q state:%s", w.selector, s)
}

func (w *waitTask) run(ctx context.Context, poll pollFunc) error {
	w.setState(WaitPolling)

	var (
		start    = time.Now()
		deadline <-chan time.Time
		unmet    []Condition
	)
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		done, u, err := poll(ctx, tick)
		if err != nil {
			w.setState(WaitFailed)
			return err
		}
		if done {
			w.setState(WaitSucceeded)
			return nil
		}
		unmet = u

		select {
		case <-ticker.C:
		case <-deadline:
			w.setState(WaitTimedOut)
			return &TimeoutError{
				Kind:     w.kind,
				Op:       w.op,
				Selector: w.selector,
				Unmet:    unmet,
				Timeout:  w.timeout,
				Elapsed:  time.Since(start),
			}
		case <-w.closed:
			w.setState(WaitCancelled)
			return contextClosedError(w.op)
		case <-ctx.Done():
			w.setState(WaitCancelled)
			return fmt.Errorf("%s: %w", w.op, ctx.Err())
		}
	}
}
