package static

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/common"
)

func TestDispatchCheckable(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<input type="checkbox" id="cb">
		<label id="lbl" for="cb">Agree</label>
		<input type="radio" name="r" id="r1" checked><input type="radio" name="r" id="r2">`)

	click := common.InputAction{Kind: common.InputClick}
	require.NoError(t, dispatch(t, p, "#cb", click))
	assert.True(t, nodeOf(t, p, "#cb").Checked)

	require.NoError(t, dispatch(t, p, "#lbl", click))
	assert.False(t, nodeOf(t, p, "#cb").Checked, "clicking the label toggles the control")

	require.NoError(t, dispatch(t, p, "#cb", common.InputAction{Kind: common.InputDblclick}))
	assert.False(t, nodeOf(t, p, "#cb").Checked)

	require.NoError(t, dispatch(t, p, "#r2", click))
	assert.False(t, nodeOf(t, p, "#r1").Checked)
	assert.True(t, nodeOf(t, p, "#r2").Checked)
}

func TestDispatchText(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<input id="in" value="start"><textarea id="ta">x</textarea>
		<div id="ce" contenteditable>old</div><div id="plain">p</div>
		<input type="number" id="num"><input type="checkbox" id="cb">`)

	require.NoError(t, dispatch(t, p, "#in", common.InputAction{Kind: common.InputFill, Text: "hello"}))
	n := nodeOf(t, p, "#in")
	assert.Equal(t, "hello", n.Value)
	assert.True(t, n.Focused)

	require.NoError(t, dispatch(t, p, "#in", common.InputAction{Kind: common.InputType, Text: "!"}))
	assert.Equal(t, "hello!", nodeOf(t, p, "#in").Value)
	require.NoError(t, dispatch(t, p, "#in", common.InputAction{Kind: common.InputPress, Key: "Backspace"}))
	require.NoError(t, dispatch(t, p, "#in", common.InputAction{Kind: common.InputPress, Key: "Shift+A"}))
	assert.Equal(t, "helloA", nodeOf(t, p, "#in").Value)

	require.NoError(t, dispatch(t, p, "#ta", common.InputAction{Kind: common.InputType, Text: "y"}))
	assert.Equal(t, "xy", nodeOf(t, p, "#ta").Value)

	require.NoError(t, dispatch(t, p, "#ce", common.InputAction{Kind: common.InputFill, Text: "new"}))
	assert.Equal(t, "new", nodeOf(t, p, "#ce").Text)

	err := dispatch(t, p, "#plain", common.InputAction{Kind: common.InputFill, Text: "x"})
	assert.ErrorIs(t, err, errNotEditable)
	err = dispatch(t, p, "#num", common.InputAction{Kind: common.InputFill, Text: "abc"})
	assert.ErrorContains(t, err, "input[type=number]")
	err = dispatch(t, p, "#cb", common.InputAction{Kind: common.InputFill, Text: "x"})
	assert.ErrorContains(t, err, `"checkbox" cannot be filled`)
}

func TestDispatchSelectAndFiles(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<select id="s"><option>a</option><option value="bv">b</option></select>
		<select id="m" multiple><option>x</option><option>y</option></select>
		<input type="file" id="f" multiple>`)

	assert.Equal(t, []string{"a"}, nodeOf(t, p, "#s").Selected)

	require.NoError(t, dispatch(t, p, "#s", common.InputAction{Kind: common.InputSelectOption, Values: []string{"bv"}}))
	s := nodeOf(t, p, "#s")
	assert.Equal(t, []string{"bv"}, s.Selected)
	assert.Equal(t, "bv", s.Value)
	assert.True(t, nodeOf(t, p, `option[value="bv"]`).Checked)

	err := dispatch(t, p, "#s", common.InputAction{Kind: common.InputSelectOption, Values: []string{"a", "bv"}})
	assert.Error(t, err)
	require.NoError(t, dispatch(t, p, "#m", common.InputAction{Kind: common.InputSelectOption, Values: []string{"x", "y"}}))
	assert.Equal(t, []string{"x", "y"}, nodeOf(t, p, "#m").Selected)

	files := []common.InputFile{{Name: "a.txt"}, {Name: "b.txt"}}
	require.NoError(t, dispatch(t, p, "#f", common.InputAction{Kind: common.InputSetInputFiles, Files: files}))
	assert.Equal(t, []string{"a.txt", "b.txt"}, nodeOf(t, p, "#f").Files)
}

func TestDispatchDetached(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<button id="b">Go</button>`)
	id := queryOne(t, doc, "#b")
	require.NoError(t, p.Remove("#b"))

	err := p.Dispatch(context.Background(), id, common.InputAction{Kind: common.InputClick})
	require.ErrorIs(t, err, common.ErrNodeNotFound)

	require.NoError(t, p.SetContent(context.Background(), `<button id="b">Go</button>`))
	err = p.Dispatch(context.Background(), id, common.InputAction{Kind: common.InputClick})
	assert.ErrorIs(t, err, common.ErrNodeNotFound, "nodes of a replaced document are gone")
}

func TestDispatchHooks(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<div id="menu"><button id="open">Open</button></div><p id="out"></p>`)

	require.NoError(t, p.OnAction("#menu", func(_ context.Context, p *Page, a common.InputAction) {
		if a.Kind == common.InputClick {
			_ = p.SetText("#out", "opened")
		}
	}))
	require.NoError(t, dispatch(t, p, "#open", common.InputAction{Kind: common.InputHover}))
	assert.Empty(t, nodeOf(t, p, "#out").Text)
	require.NoError(t, dispatch(t, p, "#open", common.InputAction{Kind: common.InputClick}))
	assert.Equal(t, "opened", nodeOf(t, p, "#out").Text)

	actions := p.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, common.InputHover, actions[0].Kind)
	assert.Equal(t, "button", actions[1].Tag)
}

func TestMutationHelpers(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<div id="box" class="a">text</div>`)

	require.NoError(t, p.SetAttribute("#box", "data-x", "1"))
	v, ok := nodeOf(t, p, "#box").Attr("data-x")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, p.RemoveAttribute("#box", "class"))
	_, ok = nodeOf(t, p, "#box").Attr("class")
	assert.False(t, ok)

	require.NoError(t, p.SetInnerHTML("#box", `<span id="s">inner</span>`))
	assert.Equal(t, "inner", nodeOf(t, p, "#s").Text)

	assert.ErrorContains(t, p.Remove("#missing"), "no element matches")
	assert.ErrorContains(t, p.SetText("div[", "x"), "parsing selector")
}
