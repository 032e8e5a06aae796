package scenario

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/env"
	"github.com/liuxd6825/autowait/errext"
	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/static"
	"github.com/liuxd6825/autowait/storage"
)

const shopConfig = `
name: shop
baseURL: http://app.test
options:
  timeout: 2s
  expectTimeout: 2s
serve:
  pages:
    /: |
      <title>Home</title>
      <form action="/hello">
        <input id="name" name="name">
        <label><input id="agree" type="checkbox" name="agree"> Agree</label>
        <select id="size" name="size"><option>S</option><option value="m">M</option></select>
        <button id="go">Go</button>
        <button id="danger" type="button">Delete</button>
      </form>
    /hello: <title>Hello</title><p id="msg">Welcome</p>
---
`

func runScenario(t *testing.T, steps string, opts Options) (*Result, error) {
	t.Helper()

	sc, err := Parse([]byte(shopConfig+steps), "shop.yaml")
	require.NoError(t, err)
	if opts.Lookup == nil {
		opts.Lookup = env.ConstLookup(nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return Run(ctx, sc, opts)
}

func TestRunPasses(t *testing.T) {
	t.Parallel()

	res, err := runScenario(t, `
- goto: /
  as: home
  eval: result.response.status === 200
- expect: {toHaveTitle: Home}
- fill: {selector: "#name", value: Ada}
- press: {selector: "#name", key: "!"}
- check: "#agree"
- expect: {selector: "#agree", toBeChecked: true}
- select: {selector: "#size", labels: [M]}
  eval: result.selected[0] === "m"
- expect: {selector: "#name", toHaveValue: Ada!}
- waitForResponse:
    url: "**/hello*"
    status: 200
    trigger: {click: "#go"}
  eval: result.response.url.indexOf("name=Ada%21") > 0 && home.response.ok
- expect: {toHaveURL: "**/hello*"}
- expect: {selector: "#msg", toHaveText: welcome, not: true}
- expect: {selector: "#msg", toContainText: Welc}
`, Options{})
	require.NoError(t, err)

	assert.Equal(t, StatusPassed, res.Status)
	assert.Equal(t, "shop", res.Name)
	assert.Equal(t, 12, res.Passed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, []string{"m"}, res.Steps[6].Value["selected"])
	assert.Equal(t, "http://app.test/", res.Steps[0].Value["url"])
}

func TestRunRoutesAndDialogs(t *testing.T) {
	t.Parallel()

	dialogs := make(chan static.DialogResult, 2)
	confirm := static.WithActionHook("#danger", func(ctx context.Context, p *static.Page, _ common.InputAction) {
		res, err := p.ShowDialog(ctx, common.DialogTypeConfirm, "Delete everything?", "")
		if err == nil {
			dialogs <- res
		}
	})

	res, err := runScenario(t, `
- route: {url: "**/api/cart", fulfill: {json: {items: [1, 2]}}}
- route: {url: "**/ads/**", abort: blockedbyclient, context: true}
- goto: /api/cart
  eval: result.response.json.items.length === 2
- setContent: <button id="danger">Delete</button>
- click: "#danger"
- dialog: accept
- click: "#danger"
- route: {url: "**/api/cart", unroute: true}
`, Options{Static: []static.Option{confirm}})
	require.NoError(t, err)
	assert.Equal(t, 8, res.Passed)

	first, second := <-dialogs, <-dialogs
	assert.False(t, first.Accepted, "confirms are dismissed by default")
	assert.True(t, second.Accepted)
	assert.Equal(t, "Delete everything?", second.Message)
}

func TestRunFailure(t *testing.T) {
	t.Parallel()

	res, err := runScenario(t, `
- goto: /
- expect: {selector: "title", toHaveCount: 1}
- expect: {selector: "#name", toHaveValue: Grace, timeout: 200ms}
- click: "#go"
`, Options{})
	require.Error(t, err)

	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Index)
	assert.Equal(t, 23, se.Line)
	assert.Equal(t, StepExpect, se.Type)
	assert.Contains(t, err.Error(), "shop.yaml:23: step 3 (expect)")

	var ae *common.AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "toHaveValue", ae.Assertion)

	var ec errext.HasExitCode
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, exitcodes.ScenarioFailed, ec.ExitCode())

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Passed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, StatusSkipped, res.Steps[3].Status)
	assert.Contains(t, res.Steps[2].Error, "toHaveValue")
}

func TestRunEval(t *testing.T) {
	t.Parallel()

	t.Run("false", func(t *testing.T) {
		t.Parallel()

		_, err := runScenario(t, "- goto: /\n  eval: result.response.status === 404\n", Options{})
		assert.ErrorIs(t, err, ErrEvalFalse)
		var ec errext.HasExitCode
		require.True(t, errors.As(err, &ec))
		assert.Equal(t, exitcodes.ScenarioFailed, ec.ExitCode())
	})

	t.Run("exception", func(t *testing.T) {
		t.Parallel()

		_, err := runScenario(t, "- goto: /\n  eval: result.nope.status\n", Options{})
		var ee *EvalError
		require.True(t, errors.As(err, &ee))
		var ec errext.HasExitCode
		require.True(t, errors.As(err, &ec))
		assert.Equal(t, exitcodes.ScriptException, ec.ExitCode())
	})
}

func TestRunTrace(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	res, err := runScenario(t, `
- trace: {action: start, name: first, snapshots: true}
- goto: /
- trace: {action: stop, path: out/first.zip}
  eval: result.path === "out/first.zip"
- trace: {action: start, name: second}
- click: "#agree"
`, Options{Persister: &storage.FilePersister{Fs: fs}})
	require.NoError(t, err)

	require.Len(t, res.TracePaths, 2)
	assert.Equal(t, "out/first.zip", res.TracePaths[0])
	assert.Contains(t, res.TracePaths[1], "second.zip", "an open trace is stopped at the end")
	for _, p := range res.TracePaths {
		ok, err := afero.Exists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}
}

func TestRunInvalidEngineOptions(t *testing.T) {
	t.Parallel()

	_, err := runScenario(t, "- goto: /\n", Options{
		Lookup: env.ConstLookup(map[string]string{"AUTOWAIT_POLL_INTERVAL": "-1s"}),
	})
	require.Error(t, err)
	var ec errext.HasExitCode
	require.True(t, errors.As(err, &ec))
	assert.Equal(t, exitcodes.InvalidConfig, ec.ExitCode())
}
