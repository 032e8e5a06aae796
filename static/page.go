package static

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/log"
)

// ErrPageClosed is returned by operations on a closed page.
var ErrPageClosed = errors.New("page closed")

const maxFrameDepth = 8

// Viewport is the size of the layout viewport.
type Viewport struct {
	Width  float64
	Height float64
}

// formState is the input state of a control, which isn't reflected in
// its attributes.
type formState struct {
	value    *string
	checked  *bool
	selected []string
	files    []string
}

type animation struct {
	start    time.Time
	duration time.Duration
	distance float64
}

// ActionHook runs after an input was applied to an element matching the
// hook's selector, or to one of its descendants.
type ActionHook func(ctx context.Context, p *Page, action common.InputAction)

type actionHook struct {
	sel cascadia.SelectorGroup
	fn  ActionHook
}

// ActionRecord is an input that was applied to a page.
type ActionRecord struct {
	Kind   common.InputKind
	Node   common.NodeID
	Tag    string
	Text   string
	Key    string
	Values []string
	At     time.Time
}

// DialogResult is how a dialog was closed.
type DialogResult struct {
	Type       cdppage.DialogType
	Message    string
	Accepted   bool
	PromptText string
}

// Page is an in-memory page. Its document is a parsed HTML tree that can be
// changed by navigations, input and the mutation helpers.
type Page struct {
	id       string
	bctx     *Context
	opener   *Page
	logger   *log.Logger
	viewport Viewport

	mu         sync.Mutex
	url        string
	doc        *html.Node
	frames     map[*html.Node]*html.Node
	ids        map[*html.Node]common.NodeID
	nodes      map[common.NodeID]*html.Node
	nextID     int
	forms      map[*html.Node]*formState
	focused    *html.Node
	hovered    *html.Node
	animations map[*html.Node]animation
	hooks      []actionHook
	actions    []ActionRecord
	dialogs    []DialogResult
	timers     []*time.Timer
	closed     bool
	done       chan struct{}
}

var _ common.PageBackend = &Page{}

func newPage(bctx *Context, opener *Page) *Page {
	p := &Page{
		id:       uuid.NewString(),
		bctx:     bctx,
		opener:   opener,
		logger:   bctx.logger,
		viewport: bctx.browser.viewport,
		ids:      make(map[*html.Node]common.NodeID),
		nodes:    make(map[common.NodeID]*html.Node),
		done:     make(chan struct{}),
		hooks:    slices.Clone(bctx.browser.hooks),
	}
	p.reset("about:blank", mustParse(""))
	return p
}

func mustParse(src string) *html.Node {
	doc, err := parseHTML(src)
	if err != nil {
		// x/net/html only fails on reader errors.
		panic(err)
	}
	return doc
}

// ID returns the page ID.
func (p *Page) ID() string { return p.id }

// URL returns the URL of the current document.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Opener returns the page that opened this one, if any.
func (p *Page) Opener() *Page { return p.opener }

// Context returns the context the page belongs to.
func (p *Page) Context() *Context { return p.bctx }

// SetViewport resizes the viewport.
func (p *Page) SetViewport(width, height float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewport = Viewport{Width: width, Height: height}
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// idOf returns the ID of a live node, assigning one on first sight.
// It must be called with the lock held.
func (p *Page) idOf(live *html.Node) common.NodeID {
	if live == nil {
		return ""
	}
	if id, ok := p.ids[live]; ok {
		return id
	}
	p.nextID++
	id := common.NodeID("node-" + strconv.Itoa(p.nextID))
	p.ids[live] = id
	p.nodes[id] = live
	return id
}

// attached reports whether a live node is part of the current document or
// of one of its frames.
func (p *Page) attached(n *html.Node) bool {
	root := documentRoot(n)
	if root == p.doc {
		return true
	}
	for iframe, fd := range p.frames {
		if fd == root {
			return p.attached(iframe)
		}
	}
	return false
}

func (p *Page) animationOffset(live *html.Node) float64 {
	a, ok := p.animations[live]
	if !ok {
		return 0
	}
	elapsed := time.Since(a.start)
	if elapsed >= a.duration {
		return a.distance
	}
	return a.distance * float64(elapsed) / float64(a.duration)
}

// Snapshot returns an immutable copy of the document.
func (p *Page) Snapshot(ctx context.Context) (common.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPageClosed
	}
	return p.buildDocument(), nil
}

// SetContent replaces the document. No navigation takes place.
func (p *Page) SetContent(ctx context.Context, markup string) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}
	doc, err := parseHTML(markup)
	if err != nil {
		return fmt.Errorf("parsing content: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPageClosed
	}
	p.reset(p.url, doc)
	return nil
}

// Navigate loads url into the page. Navigating to a document with an
// error status still commits it, as browsers do.
func (p *Page) Navigate(ctx context.Context, u string) error {
	return p.navigate(ctx, http.MethodGet, u, nil, nil)
}

func (p *Page) navigate(ctx context.Context, method, u string, body []byte, headers map[string]string) error {
	p.logger.Debugf("static:Page:navigate", "pid:%s method:%s url:%q", p.id, method, u)

	if p.isClosed() {
		return ErrPageClosed
	}

	var markup, final string
	switch {
	case u == "about:blank":
		final = u
	case strings.HasPrefix(u, "data:"):
		content, err := decodeDataURL(u)
		if err != nil {
			return fmt.Errorf("navigating to %q: %w", u, err)
		}
		markup, final = content, u
	default:
		req := p.bctx.newRequest(method, u, common.ResourceTypeDocument, true, body, headers)
		resp, err := p.request(ctx, req)
		if err != nil {
			return fmt.Errorf("navigating to %q: %w", u, err)
		}
		markup, final = string(resp.Body), resp.URL
	}

	doc, err := parseHTML(markup)
	if err != nil {
		return fmt.Errorf("parsing %q: %w", final, err)
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	p.reset(final, doc)
	p.mu.Unlock()

	p.bctx.emit(common.BackendEvent{Type: common.BackendNavigated, PageID: p.id, URL: final})
	return nil
}

// decodeDataURL returns the content of a data: URL.
func decodeDataURL(u string) (string, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok {
		return "", errors.New("malformed data URL")
	}
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return "", fmt.Errorf("decoding data URL: %w", err)
		}
		return string(b), nil
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return "", fmt.Errorf("decoding data URL: %w", err)
	}
	return s, nil
}

// reset installs a new document. Nodes of the previous document keep
// their IDs but are no longer attached. It must be called with the lock
// held.
func (p *Page) reset(u string, doc *html.Node) {
	p.url = u
	p.doc = doc
	p.frames = make(map[*html.Node]*html.Node)
	p.forms = make(map[*html.Node]*formState)
	p.animations = make(map[*html.Node]animation)
	p.focused, p.hovered = nil, nil
	p.loadFrames(doc, 0)
}

// loadFrames parses the srcdoc of every iframe below n that has no
// document yet. Other iframes get an empty document.
func (p *Page) loadFrames(n *html.Node, depth int) {
	if depth > maxFrameDepth {
		return
	}
	iframes := findAll(n, func(x *html.Node) bool { return isElement(x, "iframe") })
	if isElement(n, "iframe") {
		iframes = append(iframes, n)
	}
	for _, f := range iframes {
		if _, ok := p.frames[f]; ok || inert(f) {
			continue
		}
		fd, err := parseHTML(attrOr(f, "srcdoc", ""))
		if err != nil {
			p.logger.Warnf("static:Page:loadFrames", "pid:%s err:%v", p.id, err)
			continue
		}
		p.frames[f] = fd
		p.loadFrames(fd, depth+1)
	}
}

// Dispatch applies input to a node.
func (p *Page) Dispatch(ctx context.Context, id common.NodeID, action common.InputAction) error {
	if err := ctx.Err(); err != nil {
		return err //nolint:wrapcheck
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPageClosed
	}
	n, ok := p.nodes[id]
	if !ok || !p.attached(n) {
		p.mu.Unlock()
		return fmt.Errorf("dispatching %s to %s: %w", action.Kind, id, common.ErrNodeNotFound)
	}
	after, err := p.applyInput(n, action)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("dispatching %s to <%s>: %w", action.Kind, n.Data, err)
	}
	p.actions = append(p.actions, ActionRecord{
		Kind:   action.Kind,
		Node:   id,
		Tag:    n.Data,
		Text:   action.Text,
		Key:    action.Key,
		Values: slices.Clone(action.Values),
		At:     time.Now(),
	})
	var hooks []ActionHook
	for _, h := range p.hooks {
		if closest(n, h.sel.Match) != nil {
			hooks = append(hooks, h.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range after {
		fn()
	}
	for _, h := range hooks {
		h(ctx, p, action)
	}
	return nil
}

// Close closes the page.
func (p *Page) Close(_ context.Context) error {
	if !p.shutdown() {
		return nil
	}
	p.bctx.removePage(p)
	p.bctx.emit(common.BackendEvent{Type: common.BackendPageClosed, PageID: p.id})
	return nil
}

// shutdown stops the page's timers and reports whether it was open.
func (p *Page) shutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	close(p.done)
	return true
}

// Actions returns the inputs applied to the page so far.
func (p *Page) Actions() []ActionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.actions)
}

// Dialogs returns the dialogs shown so far and how they were closed.
func (p *Page) Dialogs() []DialogResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.dialogs)
}

// OpenPopup opens a new page with this one as its opener and navigates it
// to u in the background.
func (p *Page) OpenPopup(_ context.Context, u string) (*Page, error) {
	if p.isClosed() {
		return nil, ErrPageClosed
	}
	u, err := p.resolve(u)
	if err != nil {
		return nil, fmt.Errorf("opening popup: %w", err)
	}
	return p.bctx.openPopup(p, u)
}

// Fetch sends a subresource request from the page.
func (p *Page) Fetch(ctx context.Context, method, u string, body []byte) (*common.ResponseData, error) {
	if p.isClosed() {
		return nil, ErrPageClosed
	}
	abs, err := p.resolve(u)
	if err != nil {
		return nil, err
	}
	return p.request(ctx, p.bctx.newRequest(method, abs, common.ResourceTypeFetch, false, body, nil))
}

// resolve resolves a reference against the document URL.
func (p *Page) resolve(ref string) (string, error) {
	p.mu.Lock()
	base := p.url
	p.mu.Unlock()

	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", ref, err)
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() || b.Scheme == "about" || b.Scheme == "data" {
		return r.String(), nil
	}
	return b.ResolveReference(r).String(), nil
}
