package static

import (
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// The helpers in this file change a page the way scripts would. They
// query the main document and every frame document with CSS selectors.

// query returns the live elements matching sel. It must be called with the
// lock held.
func (p *Page) query(sel string) ([]*html.Node, error) {
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return nil, fmt.Errorf("parsing selector %q: %w", sel, err)
	}
	docs := []*html.Node{p.doc}
	for iframe, fd := range p.frames {
		if p.attached(iframe) {
			docs = append(docs, fd)
		}
	}
	var out []*html.Node
	for _, d := range docs {
		for _, n := range goquery.NewDocumentFromNode(d).Find(sel).Nodes {
			if !inert(n) {
				out = append(out, n)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no element matches %q", sel)
	}
	return out, nil
}

// mutate runs fn on every element matching sel.
func (p *Page) mutate(sel string, fn func(n *html.Node) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	nodes, err := p.query(sel)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// SetAttribute sets an attribute on the elements matching sel.
func (p *Page) SetAttribute(sel, name, value string) error {
	return p.mutate(sel, func(n *html.Node) error {
		setAttr(n, name, value)
		return nil
	})
}

// RemoveAttribute removes an attribute from the elements matching sel.
func (p *Page) RemoveAttribute(sel, name string) error {
	return p.mutate(sel, func(n *html.Node) error {
		removeAttr(n, name)
		return nil
	})
}

// SetText replaces the content of the elements matching sel with text.
func (p *Page) SetText(sel, text string) error {
	return p.mutate(sel, func(n *html.Node) error {
		setTextContent(n, text)
		return nil
	})
}

// SetInnerHTML replaces the content of the elements matching sel.
func (p *Page) SetInnerHTML(sel, markup string) error {
	return p.mutate(sel, func(n *html.Node) error {
		nodes, err := parseFragment(markup, n)
		if err != nil {
			return fmt.Errorf("parsing markup: %w", err)
		}
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		p.insert(n, nodes)
		return nil
	})
}

// AppendHTML appends markup to the elements matching sel.
func (p *Page) AppendHTML(sel, markup string) error {
	return p.mutate(sel, func(n *html.Node) error {
		nodes, err := parseFragment(markup, n)
		if err != nil {
			return fmt.Errorf("parsing markup: %w", err)
		}
		p.insert(n, nodes)
		return nil
	})
}

func (p *Page) insert(parent *html.Node, nodes []*html.Node) {
	for _, c := range nodes {
		parent.AppendChild(c)
		p.loadFrames(c, 0)
	}
}

// Remove detaches the elements matching sel.
func (p *Page) Remove(sel string) error {
	return p.mutate(sel, func(n *html.Node) error {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		return nil
	})
}

// Animate moves the elements matching sel right by distance pixels over
// d. Their boxes change on every snapshot until the animation ends.
func (p *Page) Animate(sel string, d time.Duration, distance float64) error {
	start := time.Now()
	return p.mutate(sel, func(n *html.Node) error {
		p.animations[n] = animation{start: start, duration: d, distance: distance}
		return nil
	})
}

// After runs fn once d has passed, unless the page is closed by then.
func (p *Page) After(d time.Duration, fn func(p *Page)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.timers = append(p.timers, time.AfterFunc(d, func() {
		if !p.isClosed() {
			fn(p)
		}
	}))
}

// OnAction registers fn to run after input reaches an element matching
// sel or one of its descendants.
func (p *Page) OnAction(sel string, fn ActionHook) error {
	group, err := cascadia.ParseGroup(sel)
	if err != nil {
		return fmt.Errorf("parsing selector %q: %w", sel, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, actionHook{sel: group, fn: fn})
	return nil
}
