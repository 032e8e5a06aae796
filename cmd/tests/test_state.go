// Package tests contains helpers for end-to-end tests of the autowait commands.
package tests

import (
	"bytes"
	"context"
	"os"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/liuxd6825/autowait/cmd/state"
	"github.com/liuxd6825/autowait/testutils"
)

// GlobalTestState is a wrapper around GlobalState for use in tests.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *testutils.SimpleLogrusHook

	ExpectedExitCode int
}

// NewGlobalTestState returns a GlobalTestState on an in-memory file system
// with an empty environment.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	hook := testutils.NewLogHook()
	logger.AddHook(hook)

	ts := &GlobalTestState{
		Cancel:     cancel,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
		LoggerHook: hook,
	}

	outMutex := &sync.Mutex{}
	defaultFlags := state.GetDefaultGlobalOptions()
	ts.GlobalState = &state.GlobalState{
		Ctx:          ctx,
		FS:           fs,
		Getwd:        func() (string, error) { return "/", nil },
		BinaryName:   "autowait",
		CmdArgs:      []string{},
		Env:          map[string]string{},
		DefaultFlags: defaultFlags,
		Flags:        defaultFlags,
		OutMutex:     outMutex,
		Stdout:       &state.ConsoleWriter{Writer: ts.Stdout, Mutex: outMutex},
		Stderr:       &state.ConsoleWriter{Writer: ts.Stderr, Mutex: outMutex},
		Stdin:        new(bytes.Buffer),
		OSExit: func(code int) {
			assert.Equal(tb, ts.ExpectedExitCode, code, "unexpected exit code")
		},
		SignalNotify: func(chan<- os.Signal, ...os.Signal) {},
		SignalStop:   func(chan<- os.Signal) {},
		Logger:       logger,
	}
	logger.SetOutput(ts.GlobalState.Stderr)

	return ts
}
