package static

import (
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/liuxd6825/autowait/common"
)

type docNode struct {
	info     common.NodeInfo
	node     *html.Node
	children []common.NodeID
	order    int
	box      *box
}

// document is an immutable snapshot of a page. It owns a copy of the live
// tree, so queries run without holding the page lock.
type document struct {
	url   string
	title string
	root  common.NodeID

	nodes   map[common.NodeID]*docNode
	ids     map[*html.Node]common.NodeID
	frames  map[common.NodeID]common.NodeID
	shadows map[common.NodeID]common.NodeID
	// painted holds the elements that can be hit, in document order.
	painted []*docNode

	axOnce sync.Once
	ax     map[common.NodeID]common.AXNode
}

var _ common.Document = &document{}

// snapshotBuilder copies the live tree of a page. It runs under the page
// lock.
type snapshotBuilder struct {
	p      *Page
	d      *document
	liveOf map[*html.Node]*html.Node
	copyOf map[*html.Node]*html.Node
	frames map[*html.Node]*html.Node
	order  int
}

func (p *Page) buildDocument() *document {
	b := &snapshotBuilder{
		p: p,
		d: &document{
			url:     p.url,
			nodes:   make(map[common.NodeID]*docNode),
			ids:     make(map[*html.Node]common.NodeID),
			frames:  make(map[common.NodeID]common.NodeID),
			shadows: make(map[common.NodeID]common.NodeID),
		},
		liveOf: make(map[*html.Node]*html.Node),
		copyOf: make(map[*html.Node]*html.Node),
		frames: make(map[*html.Node]*html.Node),
	}
	root := b.copyDocument(p.doc)

	e := newLayoutEngine(p.viewport.Width, p.viewport.Height, b.frames, func(n *html.Node) float64 {
		return p.animationOffset(b.liveOf[n])
	})
	e.run(root, 0, 0, p.viewport.Width, inherited{})

	b.walk(root, "", e.boxes)
	for _, dn := range b.d.nodes {
		b.fill(dn)
	}
	b.d.root = b.d.ids[root]
	if t := findFirst(root, func(n *html.Node) bool { return isElement(n, "title") }); t != nil {
		b.d.title = strings.Join(strings.Fields(textContent(t)), " ")
	}
	for _, dn := range b.d.nodes {
		if dn.info.Kind == common.ElementNode && dn.box != nil {
			b.d.painted = append(b.d.painted, dn)
		}
	}
	slices.SortFunc(b.d.painted, func(a, b *docNode) int { return a.order - b.order })

	return b.d
}

// copyDocument copies a live document and, recursively, the documents of
// its iframes.
func (b *snapshotBuilder) copyDocument(live *html.Node) *html.Node {
	root := cloneTree(live, func(orig, c *html.Node) {
		b.liveOf[c] = orig
		b.copyOf[orig] = c
	})
	for iframe, frameDoc := range b.p.frames {
		if c, ok := b.copyOf[iframe]; ok && documentRoot(iframe) == live {
			b.frames[c] = b.copyDocument(frameDoc)
		}
	}
	return root
}

func (b *snapshotBuilder) walk(n *html.Node, parent common.NodeID, boxes map[*html.Node]*box) {
	id := b.p.idOf(b.liveOf[n])
	dn := &docNode{node: n, order: b.order, box: boxes[n]}
	b.order++
	dn.info.ID = id
	dn.info.Parent = parent
	switch {
	case n.Type == html.DocumentNode:
		dn.info.Kind = common.DocumentNode
	case isShadowTemplate(n):
		dn.info.Kind = common.ShadowRootNode
		b.d.shadows[parent] = id
	default:
		dn.info.Kind = common.ElementNode
	}
	b.d.nodes[id] = dn
	b.d.ids[n] = id

	var visit func(p *html.Node)
	visit = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.DocumentNode:
				visit(c)
			case isShadowTemplate(c), c.Type == html.ElementNode && c.Data != "template":
				b.walk(c, id, boxes)
			}
		}
	}
	visit(n)

	if fd, ok := b.frames[n]; ok {
		b.walk(fd, "", boxes)
		b.d.frames[id] = b.d.ids[fd]
	}
}

func (b *snapshotBuilder) fill(dn *docNode) {
	n, live := dn.node, b.liveOf[dn.node]
	for _, c := range composedChildren(n) {
		if id, ok := b.d.ids[c]; ok {
			dn.children = append(dn.children, id)
		}
	}
	dn.info.HTML = htmlquery.OutputHTML(n, false)
	if dn.info.Kind != common.ElementNode {
		return
	}

	dn.info.Tag = n.Data
	dn.info.Attrs = make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		dn.info.Attrs[a.Key] = a.Val
	}
	if n.Data != "input" {
		dn.info.Text = textContent(n)
	}
	dn.info.InnerText = innerText(n, dn.box != nil, func(c *html.Node) bool {
		id, ok := b.d.ids[c]
		return ok && b.d.nodes[id] != nil && b.d.nodes[id].box != nil
	})
	if dn.box != nil {
		dn.info.Hidden = dn.box.hidden
	}
	dn.info.Focused = b.p.focused == live

	st := b.p.forms[live]
	switch n.Data {
	case "input":
		dn.info.Value = attrOr(n, "value", "")
		if t := inputType(n); t == "checkbox" || t == "radio" {
			dn.info.Value = attrOr(n, "value", "on")
		}
		dn.info.Checked = hasAttr(n, "checked")
		if st != nil {
			if st.value != nil {
				dn.info.Value = *st.value
			}
			if st.checked != nil {
				dn.info.Checked = *st.checked
			}
			dn.info.Files = slices.Clone(st.files)
		}
	case "textarea":
		dn.info.Value = textContent(n)
		if st != nil && st.value != nil {
			dn.info.Value = *st.value
		}
	case "select":
		dn.info.Selected = selectedValues(live, st)
		if len(dn.info.Selected) > 0 {
			dn.info.Value = dn.info.Selected[0]
		}
	case "option":
		if sel := closest(live, func(x *html.Node) bool { return isElement(x, "select") }); sel != nil {
			dn.info.Checked = slices.Contains(selectedValues(sel, b.p.forms[sel]), optionValue(live))
		}
	}
}

func optionValue(o *html.Node) string {
	if v, ok := getAttr(o, "value"); ok {
		return v
	}
	return strings.Join(strings.Fields(textContent(o)), " ")
}

// selectedValues returns the values of the selected options of a live
// <select>: the state set by input, else the options marked selected, else
// the first option of a single select.
func selectedValues(sel *html.Node, st *formState) []string {
	if st != nil && st.selected != nil {
		return slices.Clone(st.selected)
	}
	options := findAll(sel, func(n *html.Node) bool { return isElement(n, "option") })
	var out []string
	for _, o := range options {
		if hasAttr(o, "selected") {
			out = append(out, optionValue(o))
		}
	}
	if len(out) == 0 && len(options) > 0 && !hasAttr(sel, "multiple") {
		out = append(out, optionValue(options[0]))
	}
	return out
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "div": true,
	"dl": true, "dd": true, "dt": true, "fieldset": true, "figure": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "tr": true, "ul": true, "body": true,
}

// lineBreaks collapses source line breaks, which are white space.
var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// innerText approximates the rendered text: unrendered subtrees are
// skipped, block boundaries become line breaks and white space collapses
// within each line.
func innerText(n *html.Node, rendered bool, isRendered func(*html.Node) bool) string {
	if !rendered {
		return ""
	}
	var sb strings.Builder
	var visit func(p *html.Node)
	visit = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				sb.WriteString(lineBreaks.Replace(c.Data))
			case isShadowTemplate(c), c.Type == html.DocumentNode:
				visit(c)
			case c.Type == html.ElementNode:
				if c.Data == "br" {
					sb.WriteByte('\n')
					continue
				}
				if !isRendered(c) {
					continue
				}
				if blockTags[c.Data] {
					sb.WriteByte('\n')
				}
				visit(c)
				if blockTags[c.Data] {
					sb.WriteByte('\n')
				}
			}
		}
	}
	visit(n)

	var lines []string
	for _, l := range strings.Split(sb.String(), "\n") {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

func (d *document) Root() common.NodeID { return d.root }
func (d *document) URL() string         { return d.url }
func (d *document) Title() string       { return d.title }

func (d *document) Node(id common.NodeID) (common.NodeInfo, bool) {
	dn, ok := d.nodes[id]
	if !ok {
		return common.NodeInfo{}, false
	}
	return dn.info, true
}

func (d *document) Children(id common.NodeID) []common.NodeID {
	if dn, ok := d.nodes[id]; ok {
		return slices.Clone(dn.children)
	}
	return nil
}

func (d *document) Elements(root common.NodeID) []common.NodeID {
	dn, ok := d.nodes[root]
	if !ok {
		return nil
	}
	var out []common.NodeID
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		for _, c := range composedChildren(n) {
			if id, ok := d.ids[c]; ok {
				out = append(out, id)
			}
			visit(c)
		}
	}
	visit(dn.node)
	return out
}

func (d *document) QueryCSS(root common.NodeID, expr string) ([]common.NodeID, error) {
	if _, err := cascadia.ParseGroup(expr); err != nil {
		return nil, err //nolint:wrapcheck
	}
	dn, ok := d.nodes[root]
	if !ok {
		return nil, nil
	}
	found := goquery.NewDocumentFromNode(dn.node).Find(expr)
	return d.elementIDs(found.Nodes), nil
}

func (d *document) QueryXPath(root common.NodeID, expr string) ([]common.NodeID, error) {
	dn, ok := d.nodes[root]
	if !ok {
		return nil, nil
	}
	found, err := htmlquery.QueryAll(dn.node, expr)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	ids := d.elementIDs(found)
	slices.SortStableFunc(ids, d.Compare)
	return ids, nil
}

// elementIDs maps copied nodes back to element IDs. Nodes outside the
// snapshot, such as plain template content, are dropped.
func (d *document) elementIDs(nodes []*html.Node) []common.NodeID {
	out := make([]common.NodeID, 0, len(nodes))
	for _, n := range nodes {
		id, ok := d.ids[n]
		if ok && d.nodes[id].info.Kind == common.ElementNode {
			out = append(out, id)
		}
	}
	return out
}

func (d *document) Contains(ancestor, node common.NodeID) bool {
	for cur, ok := d.nodes[node]; ok && cur.info.Parent != ""; cur, ok = d.nodes[cur.info.Parent] {
		if cur.info.Parent == ancestor {
			return true
		}
	}
	return false
}

func (d *document) Compare(a, b common.NodeID) int {
	da, oka := d.nodes[a]
	db, okb := d.nodes[b]
	if !oka || !okb {
		return strings.Compare(string(a), string(b))
	}
	return da.order - db.order
}

func (d *document) ContentDocument(frameOwner common.NodeID) (common.NodeID, bool) {
	id, ok := d.frames[frameOwner]
	return id, ok
}

func (d *document) ShadowRoot(host common.NodeID) (common.NodeID, bool) {
	id, ok := d.shadows[host]
	return id, ok
}

func (d *document) BoundingBox(id common.NodeID) (common.Rect, bool) {
	dn, ok := d.nodes[id]
	if !ok || dn.box == nil {
		return common.Rect{}, false
	}
	return dn.box.rect, true
}

// HitTest returns the topmost element at the point: the highest stacking
// level wins, then the latest in document order.
func (d *document) HitTest(x, y float64) (common.NodeID, bool) {
	var best *docNode
	for _, dn := range d.painted {
		b := dn.box
		if b.hidden || b.noPointer || b.rect.Empty() {
			continue
		}
		r := b.rect
		if x < r.X || x >= r.X+r.Width || y < r.Y || y >= r.Y+r.Height {
			continue
		}
		if best == nil || b.level > best.box.level || (b.level == best.box.level && dn.order > best.order) {
			best = dn
		}
	}
	if best == nil {
		return "", false
	}
	return best.info.ID, true
}
