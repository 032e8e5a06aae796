package cmd

import (
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/cmd/tests"
	"github.com/liuxd6825/autowait/errext/exitcodes"
)

func TestVersion(t *testing.T) {
	t.Parallel()

	ts := tests.NewGlobalTestState(t)
	ts.CmdArgs = []string{"autowait", "version"}
	ExecuteWithGlobalState(ts.GlobalState)
	assert.Contains(t, ts.Stdout.String(), "autowait v")

	ts = tests.NewGlobalTestState(t)
	ts.CmdArgs = []string{"autowait", "version", "--json"}
	ExecuteWithGlobalState(ts.GlobalState)

	var details map[string]string
	require.NoError(t, json.Unmarshal(ts.Stdout.Bytes(), &details))
	assert.Contains(t, details, "version")
	assert.Contains(t, details, "go_version")
}

func TestRootLogFormat(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		ts := tests.NewGlobalTestState(t)
		ts.CmdArgs = []string{"autowait", "--log-format", "json", "-v", "version"}
		ExecuteWithGlobalState(ts.GlobalState)

		assert.Contains(t, ts.Stderr.String(), `"level":"debug"`)
		assert.Contains(t, ts.Stderr.String(), `autowait version: v`)
		assert.Equal(t, logrus.DebugLevel, ts.Logger.GetLevel())
	})

	t.Run("from_env", func(t *testing.T) {
		t.Parallel()

		ts := tests.NewGlobalTestState(t)
		ts.Flags.LogLevel = "warn"
		ts.CmdArgs = []string{"autowait", "version"}
		ExecuteWithGlobalState(ts.GlobalState)
		assert.Equal(t, logrus.WarnLevel, ts.Logger.GetLevel())
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()

		ts := tests.NewGlobalTestState(t)
		ts.ExpectedExitCode = -1
		ts.CmdArgs = []string{"autowait", "--log-format", "xml", "version"}
		ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, ts.LoggerHook.Contains(`unsupported log format "xml"`))
		assert.Empty(t, ts.Stdout.String())
	})

	t.Run("bad_level", func(t *testing.T) {
		t.Parallel()

		ts := tests.NewGlobalTestState(t)
		ts.ExpectedExitCode = -1
		ts.CmdArgs = []string{"autowait", "--log-level", "loud", "version"}
		ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, ts.LoggerHook.Contains(`invalid log level "loud"`))
	})
}

func TestRootUnknownArgs(t *testing.T) {
	t.Parallel()

	ts := tests.NewGlobalTestState(t)
	ts.ExpectedExitCode = int(exitcodes.InvalidArgs)
	ts.CmdArgs = []string{"autowait", "query", "page.html"}
	ExecuteWithGlobalState(ts.GlobalState)
	assert.True(t, ts.LoggerHook.Contains("query needs an HTML file and a selector"))
}
