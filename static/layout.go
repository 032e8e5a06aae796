package static

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/liuxd6825/autowait/common"
)

// The layout is synthetic: every rendered element starts a new line and
// takes the width of its container, or of its text for inline elements.
// It is only meant to give boxes that behave like a browser's for
// visibility, stability and hit testing.
const (
	lineHeight = 20
	charWidth  = 8
)

var inlineTags = map[string]bool{
	"a": true, "span": true, "label": true, "b": true, "i": true, "em": true,
	"strong": true, "code": true, "small": true, "abbr": true, "kbd": true,
}

var neverRendered = map[string]bool{
	"head": true, "script": true, "style": true, "title": true, "meta": true,
	"link": true, "noscript": true, "template": true, "base": true,
}

// box is the layout of a single element.
type box struct {
	rect common.Rect
	// hidden is the computed visibility.
	hidden bool
	// noPointer is set by pointer-events: none.
	noPointer bool
	// level orders stacking: positioned elements paint above the flow.
	level int
}

type inherited struct {
	hidden    bool
	noPointer bool
	level     int
}

type layoutEngine struct {
	rules  []styleRule
	vw, vh float64
	frames map[*html.Node]*html.Node
	offset func(n *html.Node) float64
	boxes  map[*html.Node]*box
}

func newLayoutEngine(vw, vh float64, frames map[*html.Node]*html.Node, offset func(*html.Node) float64) *layoutEngine {
	return &layoutEngine{
		vw:     vw,
		vh:     vh,
		frames: frames,
		offset: offset,
		boxes:  make(map[*html.Node]*box),
	}
}

// run lays out doc into a container at x, y.
func (e *layoutEngine) run(doc *html.Node, x, y, width float64, inh inherited) {
	saved := e.rules
	e.rules = collectRules(doc)
	defer func() { e.rules = saved }()

	cy := y
	for _, c := range composedChildren(doc) {
		cy += e.layout(c, x, cy, width, inh)
	}
}

func displayNone(n *html.Node, style declarations) bool {
	if neverRendered[n.Data] || hasAttr(n, "hidden") || style["display"] == "none" {
		return true
	}
	if n.Data == "input" && inputType(n) == "hidden" {
		return true
	}
	return n.Data == "dialog" && !hasAttr(n, "open")
}

// intrinsic returns the size of replaced elements and form controls.
func intrinsic(n *html.Node) (w, h float64, ok bool) {
	switch n.Data {
	case "input":
		switch inputType(n) {
		case "checkbox", "radio":
			return 13, 13, true
		case "button", "submit", "reset":
			label := attrOr(n, "value", "Submit")
			return float64(len(label))*charWidth + 16, 22, true
		}
		return 180, 22, true
	case "button":
		return float64(len(strings.TrimSpace(textContent(n))))*charWidth + 16, 22, true
	case "select":
		return 150, 22, true
	case "textarea":
		return 180, 44, true
	case "img":
		w, h := 100.0, 100.0
		if v, err := strconv.ParseFloat(attrOr(n, "width", ""), 64); err == nil {
			w = v
		}
		if v, err := strconv.ParseFloat(attrOr(n, "height", ""), 64); err == nil {
			h = v
		}
		return w, h, true
	case "iframe":
		return 300, 150, true
	}
	return 0, 0, false
}

func hasOwnText(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			return true
		}
	}
	return false
}

// layout places n and its subtree and returns the height it takes in the
// flow of its container.
//
//nolint:cyclop,funlen
func (e *layoutEngine) layout(n *html.Node, x, y, width float64, inh inherited) float64 {
	style := declaredStyle(e.rules, n)
	if displayNone(n, style) {
		return 0
	}

	switch style["visibility"] {
	case "hidden", "collapse":
		inh.hidden = true
	case "visible":
		inh.hidden = false
	}
	switch style["pointer-events"] {
	case "none":
		inh.noPointer = true
	case "auto":
		inh.noPointer = false
	}

	positioned := style["position"] == "fixed" || style["position"] == "absolute"
	if positioned {
		z, _ := strconv.Atoi(style["z-index"])
		inh.level += 1 + z
	} else if style["position"] == "relative" && style["z-index"] != "" {
		z, _ := strconv.Atoi(style["z-index"])
		inh.level += z
	}

	bx, by, bw := x, y, width
	height, fixedHeight := length(style["height"], e.vh)
	if positioned {
		baseX, baseY, baseW, baseH := x, y, width, e.vh
		if style["position"] == "fixed" {
			baseX, baseY, baseW = 0, 0, e.vw
		}
		bx, by = baseX, baseY
		if v, ok := length(style["left"], baseW); ok {
			bx += v
		}
		if v, ok := length(style["top"], baseH); ok {
			by += v
		}
		bw = baseW
		if v, ok := length(style["width"], baseW); ok {
			bw = v
		}
		height, fixedHeight = length(style["height"], baseH)
	} else if v, ok := length(style["width"], width); ok {
		bw = v
	}

	iw, ih, replaced := intrinsic(n)
	switch {
	case replaced && style["width"] == "":
		bw = iw
	case !replaced && inlineTags[n.Data] && style["width"] == "":
		if text := strings.TrimSpace(textContent(n)); text != "" || len(composedChildren(n)) == 0 {
			bw = float64(len(text)) * charWidth
		}
	}
	if e.offset != nil {
		bx += e.offset(n)
	}

	cy := by
	switch {
	case replaced:
		cy += ih
	case hasOwnText(n):
		cy += lineHeight
	}
	for _, c := range composedChildren(n) {
		cy += e.layout(c, bx, cy, bw, inh)
	}

	h := cy - by
	if fixedHeight {
		h = height
	}
	e.boxes[n] = &box{
		rect:      common.Rect{X: bx, Y: by, Width: bw, Height: h},
		hidden:    inh.hidden,
		noPointer: inh.noPointer,
		level:     inh.level,
	}

	if doc, ok := e.frames[n]; ok {
		frameInh := inh
		frameInh.level++
		e.run(doc, bx, by, bw, frameInh)
	}

	if positioned {
		return 0
	}
	return h
}
