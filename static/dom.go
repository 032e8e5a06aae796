package static

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// parseHTML parses a full document. Fragments are wrapped by the parser
// into <html><head></head><body>...</body></html>.
func parseHTML(src string) (*html.Node, error) {
	return html.Parse(strings.NewReader(src)) //nolint:wrapcheck
}

// parseFragment parses markup in the context of parent.
func parseFragment(src string, parent *html.Node) ([]*html.Node, error) {
	ctx := parent
	if ctx == nil || ctx.Type != html.ElementNode {
		ctx = &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	}
	return html.ParseFragment(strings.NewReader(src), ctx) //nolint:wrapcheck
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attrOr(n *html.Node, key, def string) string {
	if v, ok := getAttr(n, key); ok {
		return v
	}
	return def
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := getAttr(n, key)
	return ok
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func isElement(n *html.Node, tags ...string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if len(tags) == 0 {
		return true
	}
	for _, t := range tags {
		if n.Data == t {
			return true
		}
	}
	return false
}

// isShadowTemplate reports whether n is a declarative shadow root.
func isShadowTemplate(n *html.Node) bool {
	return isElement(n, "template") && attrOr(n, "shadowrootmode", "") != ""
}

// shadowTemplate returns the declarative shadow root of host, if any.
func shadowTemplate(host *html.Node) *html.Node {
	if !isElement(host) {
		return nil
	}
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if isShadowTemplate(c) {
			return c
		}
	}
	return nil
}

// inert reports whether n sits in the content of a plain <template>,
// which is neither rendered nor queried.
func inert(n *html.Node) bool {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if isElement(cur, "template") && !isShadowTemplate(cur) {
			return true
		}
	}
	return false
}

// composedChildren returns the element children of n, with the children
// of a shadow root taking the place of the root itself. Plain template
// content is skipped.
func composedChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	var visit func(p *html.Node)
	visit = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.DocumentNode:
				visit(c)
			case isShadowTemplate(c):
				visit(c)
			case isElement(c, "template"):
			case c.Type == html.ElementNode:
				out = append(out, c)
			}
		}
	}
	visit(n)
	return out
}

// textContent concatenates the text below n, shadow content included.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var visit func(p *html.Node)
	visit = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				sb.WriteString(c.Data)
			case isElement(c, "template") && !isShadowTemplate(c):
			case c.Type == html.ElementNode, c.Type == html.DocumentNode:
				visit(c)
			}
		}
	}
	visit(n)
	return sb.String()
}

func setTextContent(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if !isShadowTemplate(c) {
			n.RemoveChild(c)
		}
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

// documentRoot returns the topmost ancestor of n.
func documentRoot(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, match); f != nil {
			return f
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var visit func(p *html.Node)
	visit = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if match(c) {
				out = append(out, c)
			}
			visit(c)
		}
	}
	visit(n)
	return out
}

func closest(n *html.Node, match func(*html.Node) bool) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if match(cur) {
			return cur
		}
	}
	return nil
}

// cloneTree deep-copies n. visit is called for every original and its
// copy.
func cloneTree(n *html.Node, visit func(orig, clone *html.Node)) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	visit(n, c)
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(cloneTree(ch, visit))
	}
	return c
}

// labelControl returns the control a <label> is for.
func labelControl(label *html.Node) *html.Node {
	if id, ok := getAttr(label, "for"); ok {
		root := documentRoot(label)
		return findFirst(root, func(n *html.Node) bool {
			return isElement(n) && attrOr(n, "id", "") == id
		})
	}
	return findFirst(label, func(n *html.Node) bool {
		return n != label && isElement(n, "input", "textarea", "select", "button")
	})
}

// inputType returns the lower-cased type of an <input>, text by default.
func inputType(n *html.Node) string {
	t := strings.ToLower(attrOr(n, "type", "text"))
	if t == "" {
		return "text"
	}
	return t
}
