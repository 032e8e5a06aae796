package static

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/common"
)

func TestSnapshotLayout(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<style>.gone { display: none }</style>
		<div id="a">visible</div>
		<div id="b" class="gone">gone</div>
		<div id="c" style="visibility: hidden">hidden</div>
		<span id="d"></span>
		<div hidden id="e">attr</div>`)

	box, ok := doc.BoundingBox(queryOne(t, doc, "#a"))
	require.True(t, ok)
	assert.Equal(t, common.Rect{X: 0, Y: 0, Width: 1280, Height: lineHeight}, box)

	_, ok = doc.BoundingBox(queryOne(t, doc, "#b"))
	assert.False(t, ok, "display none has no box")
	_, ok = doc.BoundingBox(queryOne(t, doc, "#e"))
	assert.False(t, ok, "hidden attribute has no box")

	c := queryOne(t, doc, "#c")
	box, ok = doc.BoundingBox(c)
	require.True(t, ok)
	assert.False(t, box.Empty())
	n, _ := doc.Node(c)
	assert.True(t, n.Hidden)

	box, ok = doc.BoundingBox(queryOne(t, doc, "#d"))
	require.True(t, ok)
	assert.True(t, box.Empty(), "empty span has no area")
}

func TestSnapshotHitTest(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<button id="btn">Go</button>
		<div id="overlay" style="position: fixed; left: 0; top: 0; width: 100%; height: 100%"></div>`)

	btn := queryOne(t, doc, "#btn")
	box, ok := doc.BoundingBox(btn)
	require.True(t, ok)
	hit, ok := doc.HitTest(box.Center())
	require.True(t, ok)
	assert.Equal(t, queryOne(t, doc, "#overlay"), hit)

	require.NoError(t, p.SetAttribute("#overlay", "style",
		"position: fixed; left: 0; top: 0; width: 100%; height: 100%; pointer-events: none"))
	doc = snapshot(t, p)
	hit, ok = doc.HitTest(box.Center())
	require.True(t, ok)
	assert.Equal(t, btn, hit)
}

func TestSnapshotNodeIdentity(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	first := setContent(t, p, `<ul><li id="one">1</li></ul>`)
	require.NoError(t, p.AppendHTML("ul", `<li id="two">2</li>`))
	second := snapshot(t, p)

	assert.Equal(t, queryOne(t, first, "#one"), queryOne(t, second, "#one"))
	ids, err := first.QueryCSS(first.Root(), "li")
	require.NoError(t, err)
	assert.Len(t, ids, 1, "snapshots don't change")

	ids, err = second.QueryCSS(second.Root(), "li")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Negative(t, second.Compare(ids[0], ids[1]))
	assert.True(t, second.Contains(queryOne(t, second, "ul"), ids[1]))
}

func TestSnapshotAnimation(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	setContent(t, p, `<button id="b">Go</button>`)
	require.NoError(t, p.Animate("#b", 150*time.Millisecond, 100))

	x := func() float64 {
		doc := snapshot(t, p)
		box, ok := doc.BoundingBox(queryOne(t, doc, "#b"))
		require.True(t, ok)
		return box.X
	}
	start := x()
	time.Sleep(30 * time.Millisecond)
	assert.Greater(t, x(), start)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 100.0, x())
	assert.Equal(t, 100.0, x())
}

func TestSnapshotShadowAndFrames(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<div id="host"><template shadowrootmode="open"><span class="in">inside</span></template></div>
		<template><span class="in">inert</span></template>
		<iframe id="f" srcdoc="<p id=fp>framed</p>"></iframe>`)

	host := queryOne(t, doc, "#host")
	sr, ok := doc.ShadowRoot(host)
	require.True(t, ok)
	n, _ := doc.Node(sr)
	assert.Equal(t, common.ShadowRootNode, n.Kind)

	in := queryOne(t, doc, "span.in")
	assert.True(t, doc.Contains(host, in))
	hn, _ := doc.Node(host)
	assert.Equal(t, "inside", hn.InnerText)

	frame := queryOne(t, doc, "#f")
	fd, ok := doc.ContentDocument(frame)
	require.True(t, ok)
	ids, err := doc.QueryCSS(fd, "#fp")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	outer, err := doc.QueryCSS(doc.Root(), "#fp")
	require.NoError(t, err)
	assert.Empty(t, outer, "frames are not pierced")

	fbox, ok := doc.BoundingBox(frame)
	require.True(t, ok)
	pbox, ok := doc.BoundingBox(ids[0])
	require.True(t, ok)
	assert.GreaterOrEqual(t, pbox.Y, fbox.Y)
	assert.Equal(t, fbox.Width, pbox.Width)
}

func TestSnapshotXPath(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<div><p>b</p><p>a</p></div>`)

	ids, err := doc.QueryXPath(doc.Root(), "//p")
	require.NoError(t, err)
	require.Len(t, ids, 2)
	first, _ := doc.Node(ids[0])
	assert.Equal(t, "b", first.Text)

	_, err = doc.QueryXPath(doc.Root(), "//p[")
	assert.Error(t, err)
	_, err = doc.QueryCSS(doc.Root(), "p[")
	assert.Error(t, err)
}

func TestSnapshotInnerText(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<div id="x">  Hello
		<b>big</b>   world<p>second</p><span style="display:none">nope</span></div>`)

	n, ok := doc.Node(queryOne(t, doc, "#x"))
	require.True(t, ok)
	assert.Equal(t, "Hello big world\nsecond", n.InnerText)
	assert.Contains(t, n.Text, "nope")
}

func TestAXTree(t *testing.T) {
	t.Parallel()

	_, p := newTestPage(t)
	doc := setContent(t, p, `<h2>Title</h2>
		<label for="n">Name</label><input id="n">
		<button aria-label="Close">x</button>
		<input type="checkbox" id="c" checked>
		<div role="button" aria-disabled="true">Fake</div>
		<fieldset disabled><button id="fb">Inner</button></fieldset>
		<button aria-hidden="true">Ghost</button>`)

	byName := map[string]common.AXNode{}
	for _, ax := range doc.AXTree(doc.Root()) {
		byName[ax.Role+":"+ax.Name] = ax
	}

	h, ok := byName["heading:Title"]
	require.True(t, ok)
	assert.Equal(t, 2, h.Level)

	tb, ok := byName["textbox:Name"]
	require.True(t, ok)
	assert.Equal(t, []string{"Name"}, tb.Labels)

	_, ok = byName["button:Close"]
	assert.True(t, ok)

	for k, ax := range byName {
		if ax.Role == "checkbox" {
			assert.Equal(t, "true", ax.Checked, k)
		}
	}
	assert.True(t, byName["button:Fake"].Disabled)
	assert.True(t, byName["button:Inner"].Disabled)
	assert.True(t, byName["button:Ghost"].Hidden)
}
