package common_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/static"
	"github.com/liuxd6825/autowait/testutils/browsertest"
)

func expectOn(t *testing.T, p *common.Page, sel string) *common.LocatorAssertions {
	t.Helper()

	l, err := p.Locator(sel, nil)
	require.NoError(t, err)
	return common.Expect(l, nil)
}

func TestExpectRetriesUntilPass(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t, browsertest.WithExpectTimeout(3*time.Second))
	sp := bt.SetContent(t, `
		<p id="status">Loading</p>
		<ul id="list"></ul>
		<div id="spinner">spinning</div>`)
	sp.After(200*time.Millisecond, func(p *static.Page) {
		_ = p.SetText("#status", "Total:   42 ")
		_ = p.AppendHTML("#list", `<li>a</li><li>b</li>`)
		_ = p.Remove("#spinner")
	})

	start := time.Now()
	require.NoError(t, expectOn(t, bt.Page, "#status").ToHaveText(bt.Ctx, "Total: 42"))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	require.NoError(t, expectOn(t, bt.Page, "#status").ToHaveText(bt.Ctx, `/^total: \d+$/i`))
	require.NoError(t, expectOn(t, bt.Page, "#status").ToContainText(bt.Ctx, "42"))
	require.NoError(t, expectOn(t, bt.Page, "#list li").ToHaveCount(bt.Ctx, 2))
	require.NoError(t, expectOn(t, bt.Page, "#spinner").Not().ToBeVisible(bt.Ctx))
	require.NoError(t, expectOn(t, bt.Page, "#spinner").ToBeHidden(bt.Ctx))
	require.NoError(t, expectOn(t, bt.Page, "#status").Not().ToHaveText(bt.Ctx, "Loading"))
}

func TestExpectElementStates(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t)
	bt.SetContent(t, `
		<button id="go">Go</button>
		<button id="stop" disabled>Stop</button>
		<input id="name" value="Ada" data-kind="person">
		<input id="ro" readonly value="fixed">
		<input id="agree" type="checkbox" checked>
		<select id="size"><option>S</option><option selected>M</option></select>`)

	ctx := bt.Ctx
	require.NoError(t, expectOn(t, bt.Page, "#go").ToBeVisible(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#go").ToBeEnabled(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#stop").ToBeDisabled(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#name").ToBeEditable(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#ro").Not().ToBeEditable(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#agree").ToBeChecked(ctx))
	require.NoError(t, expectOn(t, bt.Page, "#name").ToHaveValue(ctx, "Ada"))
	require.NoError(t, expectOn(t, bt.Page, "#size").ToHaveValue(ctx, "M"))
	require.NoError(t, expectOn(t, bt.Page, "#name").ToHaveAttribute(ctx, "data-kind", "person"))
	require.NoError(t, expectOn(t, bt.Page, "#name").ToHaveAttribute(ctx, "data-kind", "/^per/"))

	name, err := bt.Page.Locator("#name", nil)
	require.NoError(t, err)
	require.NoError(t, name.Fill(ctx, "Grace", nil))
	require.NoError(t, expectOn(t, bt.Page, "#name").ToHaveValue(ctx, "Grace"))

	err = expectOn(t, bt.Page, "#go").ToHaveValue(ctx, "x")
	assert.ErrorContains(t, err, "not an <input>")
}

func TestExpectFailure(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t, browsertest.WithExpectTimeout(200*time.Millisecond))
	bt.SetContent(t, `<p id="msg">Hello</p><p class="dup">1</p><p class="dup">2</p>`)

	start := time.Now()
	err := expectOn(t, bt.Page, "#msg").ToHaveText(bt.Ctx, "Goodbye")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var ae *common.AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "toHaveText", ae.Assertion)
	assert.Equal(t, "#msg", ae.Subject)
	assert.Equal(t, `"Hello"`, ae.Actual)
	assert.False(t, ae.Negated)
	assert.ErrorIs(t, err, common.ErrActionTimeout)

	var te *common.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 200*time.Millisecond, te.Timeout)

	err = expectOn(t, bt.Page, "#missing").ToBeVisible(bt.Ctx)
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "hidden", ae.Actual)

	err = expectOn(t, bt.Page, "#missing").Not().ToHaveText(bt.Ctx, "x")
	require.Error(t, err, "an absent element keeps a negated text assertion waiting")

	err = expectOn(t, bt.Page, ".dup").ToHaveText(bt.Ctx, "1")
	assert.ErrorIs(t, err, common.ErrStrictModeViolation)

	l, err := bt.Page.Locator("#msg", nil)
	require.NoError(t, err)
	err = common.Expect(l, &common.ExpectOptions{Timeout: 50 * time.Millisecond}).Not().ToBeVisible(bt.Ctx)
	require.True(t, errors.As(err, &ae))
	assert.True(t, ae.Negated)
	assert.Contains(t, err.Error(), "not.toBeVisible")
}

func TestExpectPage(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t, browsertest.WithExpectTimeout(3*time.Second))
	bt.Serve("/", `<title>Home</title>`)
	bt.Serve("/done", `<title>Done</title>`)
	_, err := bt.Page.Goto(bt.Ctx, browsertest.AppOrigin+"/", nil)
	require.NoError(t, err)

	sp := bt.Backend(t, bt.Page)
	sp.After(200*time.Millisecond, func(p *static.Page) {
		_ = p.Navigate(bt.Ctx, browsertest.AppOrigin+"/done")
	})

	require.NoError(t, common.ExpectPage(bt.Page, nil).ToHaveURL(bt.Ctx, "**/done"))
	require.NoError(t, common.ExpectPage(bt.Page, nil).ToHaveTitle(bt.Ctx, "Done"))
	require.NoError(t, common.ExpectPage(bt.Page, nil).ToHaveTitle(bt.Ctx, "/^do/i"))
	require.NoError(t, common.ExpectPage(bt.Page, nil).Not().ToHaveURL(bt.Ctx, "**/elsewhere"))

	err = common.ExpectPage(bt.Page, &common.ExpectOptions{Timeout: 100 * time.Millisecond}).
		ToHaveTitle(bt.Ctx, "Home")
	var ae *common.AssertionError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "page", ae.Subject)
	assert.Equal(t, `"Done"`, ae.Actual)
}
