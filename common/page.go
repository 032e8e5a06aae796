package common

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/trace"
)

// PageGotoOptions are options for Page.Goto.
type PageGotoOptions struct {
	Timeout time.Duration `json:"timeout"`
}

// PageWaitForNavigationOptions are options for Page.WaitForNavigation.
type PageWaitForNavigationOptions struct {
	// URL is a glob, regular expression or predicate the new URL must match.
	URL     any           `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// WaitForEventOptions are options of the event waits. A zero Timeout waits
// until the context is done.
type WaitForEventOptions struct {
	Timeout time.Duration `json:"timeout"`
}

// Page is a single tab of a browser context.
type Page struct {
	BaseEventEmitter

	ctx    context.Context
	cancel context.CancelFunc

	backend         PageBackend
	browserCtx      *BrowserContext
	opener          *Page
	timeoutSettings *TimeoutSettings
	routes          routeTable
	logger          *log.Logger
	tracer          *trace.Tracer

	dialogMu      sync.RWMutex
	dialogHandler DialogHandler

	// navSeq is bumped on every committed navigation. Actions compare it
	// across their snapshot and dispatch to detect interruption.
	navSeq atomic.Int64

	urlMu sync.RWMutex
	url   string

	reqMu    sync.Mutex
	requests map[string]*Request

	closeOnce sync.Once
	closedCh  chan struct{}
}

func newPage(bc *BrowserContext, backend PageBackend, opener *Page) *Page {
	ctx, cancel := context.WithCancel(bc.ctx)
	p := &Page{
		ctx:             ctx,
		cancel:          cancel,
		backend:         backend,
		browserCtx:      bc,
		opener:          opener,
		timeoutSettings: NewTimeoutSettings(bc.timeoutSettings),
		logger:          bc.logger,
		tracer:          bc.tracer,
		url:             "about:blank",
		requests:        make(map[string]*Request),
		closedCh:        make(chan struct{}),
	}
	p.dialogHandler = defaultDialogHandler

	return p
}

// ID returns the page ID.
func (p *Page) ID() string { return p.backend.ID() }

// URL returns the URL of the last committed navigation.
func (p *Page) URL() string {
	p.urlMu.RLock()
	defer p.urlMu.RUnlock()
	return p.url
}

// Context returns the browser context the page belongs to.
func (p *Page) Context() *BrowserContext { return p.browserCtx }

// Opener returns the page that opened this popup, or nil.
func (p *Page) Opener() *Page { return p.opener }

// IsClosed reports whether the page is closed.
func (p *Page) IsClosed() bool {
	select {
	case <-p.closedCh:
		return true
	default:
		return false
	}
}

// Close closes the page.
func (p *Page) Close(ctx context.Context) error {
	p.logger.Debugf("Page:Close", "pid:%s", p.ID())

	if p.IsClosed() {
		return nil
	}
	if err := p.backend.Close(ctx); err != nil {
		return fmt.Errorf("closing page: %w", err)
	}
	p.didClose()
	return nil
}

// Title returns the document title.
func (p *Page) Title(ctx context.Context) (string, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("getting title: %w", err)
	}
	return doc.Title(), nil
}

// Content returns the HTML of the document.
func (p *Page) Content(ctx context.Context) (string, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("getting content: %w", err)
	}
	n, _ := doc.Node(doc.Root())
	return n.HTML, nil
}

// SetContent replaces the document with html.
func (p *Page) SetContent(ctx context.Context, html string) error {
	p.logger.Debugf("Page:SetContent", "pid:%s len:%d", p.ID(), len(html))
	_, span := p.tracer.TraceAPICall(ctx, p.ID(), "page.setContent")
	defer span.End()

	if p.IsClosed() {
		return contextClosedError("setting content")
	}
	if err := p.backend.SetContent(ctx, html); err != nil {
		return trace.RecordErrorf(span, "setting content: %w", err)
	}
	return nil
}

// Goto navigates to url and returns the main resource response. The
// response is nil for navigations without one, such as about:blank.
func (p *Page) Goto(ctx context.Context, url string, opts *PageGotoOptions) (*Response, error) {
	p.logger.Debugf("Page:Goto", "pid:%s url:%q", p.ID(), url)
	_, span := p.tracer.TraceAPICall(ctx, p.ID(), "page.goto",
		oteltrace.WithAttributes(attribute.String("page.goto.url", url)))
	defer span.End()

	if opts == nil {
		opts = &PageGotoOptions{}
	}
	url = p.browserCtx.resolveURL(url)
	timeout := resolveTimeout(opts.Timeout, p.timeoutSettings.navigationTimeout())

	resp, err := p.waitForNavigation(ctx, "navigating to "+url, nil, timeout, func(ctx context.Context) error {
		return p.backend.Navigate(ctx, url)
	})
	if err != nil {
		return nil, trace.RecordErrorf(span, "navigating to %q: %w", url, err)
	}
	return resp, nil
}

// WaitForNavigation waits for the next committed navigation, optionally one
// whose URL matches opts.URL, while trigger runs.
func (p *Page) WaitForNavigation(
	ctx context.Context, opts *PageWaitForNavigationOptions, trigger func(context.Context) error,
) (*Response, error) {
	p.logger.Debugf("Page:WaitForNavigation", "pid:%s opts:%+v", p.ID(), opts)

	if opts == nil {
		opts = &PageWaitForNavigationOptions{}
	}
	matcher, err := newURLMatcher(opts.URL, p.browserCtx.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("waiting for navigation: %w", err)
	}
	timeout := resolveTimeout(opts.Timeout, p.timeoutSettings.navigationTimeout())

	return p.waitForNavigation(ctx, "waiting for navigation", matcher, timeout, trigger)
}

// WaitForURL waits until the page URL matches pattern. It returns at once
// if it already does.
func (p *Page) WaitForURL(ctx context.Context, pattern any, opts *WaitForEventOptions) error {
	p.logger.Debugf("Page:WaitForURL", "pid:%s pattern:%v", p.ID(), pattern)

	matcher, err := newURLMatcher(pattern, p.browserCtx.opts.BaseURL)
	if err != nil {
		return fmt.Errorf("waiting for url: %w", err)
	}
	if matcher(p.URL()) {
		return nil
	}
	if opts == nil {
		opts = &WaitForEventOptions{}
	}
	timeout := resolveTimeout(opts.Timeout, p.timeoutSettings.navigationTimeout())
	// The check is repeated once the listener is in place, in case the
	// navigation landed in between.
	_, err = p.waitForNavigation(ctx, "waiting for url", matcher, timeout, func(context.Context) error {
		if matcher(p.URL()) {
			return errURLMatched
		}
		return nil
	})
	if errors.Is(err, errURLMatched) {
		return nil
	}
	return err
}

var errURLMatched = errors.New("url matched")

// waitForNavigation waits for a framenavigated event. The navigation
// response seen before it, if any, is returned.
func (p *Page) waitForNavigation(
	ctx context.Context, op string, matcher URLMatcher, timeout time.Duration, trigger func(context.Context) error,
) (*Response, error) {
	var navResp *Response
	_, err := waitForEvent(ctx, op, p, p.closedCh,
		[]string{EventPageResponse, EventPageFrameNavigated},
		func(data any) (bool, error) {
			switch v := data.(type) {
			case *Response:
				if v.Request() != nil && v.Request().IsNavigationRequest() {
					navResp = v
				}
				return false, nil
			case string:
				return matcher == nil || matcher(v), nil
			}
			return false, nil
		},
		timeout, trigger)
	if err != nil {
		return nil, err
	}
	return navResp, nil
}

// Locator creates a locator for selector. It fails at once on a malformed
// selector and never waits.
func (p *Page) Locator(selector string, opts *LocatorOptions) (*Locator, error) {
	p.logger.Debugf("Page:Locator", "pid:%s sel:%q opts:%+v", p.ID(), selector, opts)

	return newLocator(p, selector, opts)
}

// GetByRole creates a locator matching elements by ARIA role.
func (p *Page) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return mustLocator(p, buildRoleSelector(role, opts))
}

// GetByText creates a locator matching elements by text.
func (p *Page) GetByText(text string, opts *GetByTextOptions) *Locator {
	return mustLocator(p, buildTextSelector(text, opts))
}

// GetByLabel creates a locator matching form controls by label.
func (p *Page) GetByLabel(text string, opts *GetByTextOptions) *Locator {
	return mustLocator(p, buildLabelSelector(text, opts))
}

// GetByPlaceholder creates a locator matching inputs by placeholder.
func (p *Page) GetByPlaceholder(text string, opts *GetByTextOptions) *Locator {
	return mustLocator(p, buildAttributeSelector("placeholder", text, opts))
}

// GetByAltText creates a locator matching elements by alt text.
func (p *Page) GetByAltText(text string, opts *GetByTextOptions) *Locator {
	return mustLocator(p, buildAttributeSelector("alt", text, opts))
}

// GetByTitle creates a locator matching elements by title attribute.
func (p *Page) GetByTitle(text string, opts *GetByTextOptions) *Locator {
	return mustLocator(p, buildAttributeSelector("title", text, opts))
}

// GetByTestID creates a locator matching the configured test id attribute.
func (p *Page) GetByTestID(id string) *Locator {
	return mustLocator(p, buildTestIDSelector(p.browserCtx.engineOpts.testIDAttribute(), id))
}

// FrameLocator creates a locator for the content of the iframe matched by
// selector.
func (p *Page) FrameLocator(selector string) (*FrameLocator, error) {
	if _, err := NewSelector(selector); err != nil {
		return nil, err
	}
	return &FrameLocator{page: p, selector: selector}, nil
}

// Click clicks the element matched by selector.
func (p *Page) Click(ctx context.Context, selector string, opts *LocatorClickOptions) error {
	l, err := p.Locator(selector, nil)
	if err != nil {
		return err
	}
	return l.Click(ctx, opts)
}

// Fill fills the element matched by selector.
func (p *Page) Fill(ctx context.Context, selector, value string, opts *LocatorFillOptions) error {
	l, err := p.Locator(selector, nil)
	if err != nil {
		return err
	}
	return l.Fill(ctx, value, opts)
}

// InnerText returns the rendered text of the element matched by selector.
func (p *Page) InnerText(ctx context.Context, selector string, opts *LocatorReadOptions) (string, error) {
	l, err := p.Locator(selector, nil)
	if err != nil {
		return "", err
	}
	return l.InnerText(ctx, opts)
}

// WaitForSelector waits for the element matched by selector to reach
// opts.State.
func (p *Page) WaitForSelector(ctx context.Context, selector string, opts *LocatorWaitForOptions) error {
	l, err := p.Locator(selector, nil)
	if err != nil {
		return err
	}
	return l.WaitFor(ctx, opts)
}

// Route registers handler for requests of this page matching pattern. Page
// routes take precedence over context routes.
func (p *Page) Route(ctx context.Context, pattern any, handler RouteHandler, opts *RouteOptions) error {
	p.logger.Debugf("Page:Route", "pid:%s pattern:%v", p.ID(), pattern)

	if err := p.routes.add(pattern, p.browserCtx.opts.BaseURL, handler, opts); err != nil {
		return fmt.Errorf("adding route: %w", err)
	}
	return p.browserCtx.updateInterception(ctx)
}

// Unroute removes the routes registered with pattern.
func (p *Page) Unroute(ctx context.Context, pattern any) error {
	p.logger.Debugf("Page:Unroute", "pid:%s pattern:%v", p.ID(), pattern)

	p.routes.remove(pattern)
	return p.browserCtx.updateInterception(ctx)
}

// UnrouteAll removes every route of the page.
func (p *Page) UnrouteAll(ctx context.Context) error {
	p.routes.reset()
	return p.browserCtx.updateInterception(ctx)
}

// OnDialog replaces the dialog handler. A nil handler restores the default,
// which accepts alerts and dismisses confirms and prompts.
func (p *Page) OnDialog(handler DialogHandler) {
	p.dialogMu.Lock()
	defer p.dialogMu.Unlock()

	if handler == nil {
		handler = defaultDialogHandler
	}
	p.dialogHandler = handler
}

func (p *Page) getDialogHandler() DialogHandler {
	p.dialogMu.RLock()
	defer p.dialogMu.RUnlock()
	return p.dialogHandler
}

// On calls handler for every event of the given type until the page closes.
// handler runs on its own goroutine, one event at a time.
func (p *Page) On(event string, handler func(data any)) {
	ch := make(chan Event)
	p.on(p.ctx, []string{event}, ch)

	p.browserCtx.wg.Add(1)
	go func() {
		defer p.browserCtx.wg.Done()
		for {
			select {
			case <-p.ctx.Done():
				return
			case ev := <-ch:
				handler(ev.data)
			}
		}
	}()
}

// WaitForEvent waits for an event for which predicate returns true while
// trigger runs. The listener is in place before trigger starts.
func (p *Page) WaitForEvent(
	ctx context.Context, event string, predicate func(data any) (bool, error),
	opts *WaitForEventOptions, trigger func(context.Context) error,
) (any, error) {
	p.logger.Debugf("Page:WaitForEvent", "pid:%s event:%q", p.ID(), event)

	return waitForEvent(ctx, "waiting for event "+event, p, p.closedCh, []string{event},
		predicate, eventTimeout(opts), trigger)
}

// WaitForResponse waits for a response whose URL matches urlOrPredicate
// while trigger runs. urlOrPredicate is a URL pattern or a
// func(*Response) bool.
func (p *Page) WaitForResponse(
	ctx context.Context, urlOrPredicate any, opts *WaitForEventOptions, trigger func(context.Context) error,
) (*Response, error) {
	p.logger.Debugf("Page:WaitForResponse", "pid:%s pattern:%v", p.ID(), urlOrPredicate)

	match, err := p.responsePredicate(urlOrPredicate)
	if err != nil {
		return nil, fmt.Errorf("waiting for response: %w", err)
	}
	v, err := waitForEvent(ctx, "waiting for response", p, p.closedCh, []string{EventPageResponse},
		func(data any) (bool, error) {
			r, ok := data.(*Response)
			return ok && match(r), nil
		}, eventTimeout(opts), trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil //nolint:forcetypeassert
}

func (p *Page) responsePredicate(urlOrPredicate any) (func(*Response) bool, error) {
	if fn, ok := urlOrPredicate.(func(*Response) bool); ok {
		return fn, nil
	}
	m, err := newURLMatcher(urlOrPredicate, p.browserCtx.opts.BaseURL)
	if err != nil {
		return nil, err
	}
	return func(r *Response) bool { return m(r.URL()) }, nil
}

// WaitForRequest waits for a request whose URL matches urlOrPredicate
// while trigger runs. urlOrPredicate is a URL pattern or a
// func(*Request) bool.
func (p *Page) WaitForRequest(
	ctx context.Context, urlOrPredicate any, opts *WaitForEventOptions, trigger func(context.Context) error,
) (*Request, error) {
	p.logger.Debugf("Page:WaitForRequest", "pid:%s pattern:%v", p.ID(), urlOrPredicate)

	match, ok := urlOrPredicate.(func(*Request) bool)
	if !ok {
		m, err := newURLMatcher(urlOrPredicate, p.browserCtx.opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("waiting for request: %w", err)
		}
		match = func(r *Request) bool { return m(r.URL()) }
	}
	v, err := waitForEvent(ctx, "waiting for request", p, p.closedCh, []string{EventPageRequest},
		func(data any) (bool, error) {
			r, ok := data.(*Request)
			return ok && match(r), nil
		}, eventTimeout(opts), trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Request), nil //nolint:forcetypeassert
}

// WaitForPopup waits for a popup opened by this page while trigger runs.
func (p *Page) WaitForPopup(
	ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error,
) (*Page, error) {
	p.logger.Debugf("Page:WaitForPopup", "pid:%s", p.ID())

	v, err := waitForEvent(ctx, "waiting for popup", p, p.closedCh, []string{EventPagePopup},
		nil, eventTimeout(opts), trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil //nolint:forcetypeassert
}

// WaitForDialog waits for a dialog while trigger runs. The dialog handler
// still runs; the returned dialog is for inspection.
func (p *Page) WaitForDialog(
	ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error,
) (*Dialog, error) {
	p.logger.Debugf("Page:WaitForDialog", "pid:%s", p.ID())

	v, err := waitForEvent(ctx, "waiting for dialog", p, p.closedCh, []string{EventPageDialog},
		nil, eventTimeout(opts), trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Dialog), nil //nolint:forcetypeassert
}

// SetDefaultTimeout sets the default timeout of actions on this page.
func (p *Page) SetDefaultTimeout(timeout time.Duration) {
	p.timeoutSettings.setDefaultTimeout(timeout)
}

// SetDefaultNavigationTimeout sets the default timeout of navigations.
func (p *Page) SetDefaultNavigationTimeout(timeout time.Duration) {
	p.timeoutSettings.setDefaultNavigationTimeout(timeout)
}

func eventTimeout(opts *WaitForEventOptions) time.Duration {
	if opts == nil || opts.Timeout < 0 {
		return 0
	}
	return opts.Timeout
}

func (p *Page) snapshot(ctx context.Context) (Document, error) {
	if p.IsClosed() {
		return nil, ErrContextClosed
	}
	doc, err := p.backend.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("taking snapshot: %w", err)
	}
	return doc, nil
}

// elementTask is a single locator-bound wait.
type elementTask struct {
	op       string
	selector *Selector
	conds    []Condition
	timeout  time.Duration
	strict   bool
	// readOnly tasks don't care about navigations between the snapshot and
	// perform.
	readOnly bool
	// perform runs once every condition holds. A nil perform ends the wait
	// as soon as the conditions hold.
	perform func(ctx context.Context, doc Document, id NodeID, box Rect) error
}

// runElementTask re-resolves the selector against a fresh snapshot on
// every tick until the element satisfies the conditions and the action
// succeeds.
func (p *Page) runElementTask(ctx context.Context, t elementTask) error {
	if p.IsClosed() {
		return contextClosedError(t.op)
	}

	checker := NewChecker()
	w := newWaitTask(t.op, t.selector.String(), t.timeout, p.browserCtx.engineOpts.pollInterval(), p.closedCh, p.logger)

	return w.run(ctx, func(ctx context.Context, _ int) (bool, []Condition, error) {
		seq := p.navSeq.Load()
		doc, err := p.backend.Snapshot(ctx)
		if err != nil {
			return false, nil, fmt.Errorf("taking snapshot: %w", err)
		}
		ids, err := newResolver(doc).resolve(t.selector, doc.Root())
		if err != nil {
			return false, nil, err
		}
		if len(ids) == 0 {
			return false, []Condition{ConditionAttached}, nil
		}
		if len(ids) > 1 && t.strict {
			return false, nil, &StrictModeError{Selector: t.selector.String(), Count: len(ids)}
		}

		res := checker.CheckConditions(doc, ids[0], t.conds)
		if !res.Satisfied {
			return false, res.Unmet, nil
		}
		if t.perform == nil {
			return true, nil, nil
		}
		if !t.readOnly && p.navSeq.Load() != seq {
			return false, nil, ErrNavigationInterrupted
		}

		err = t.perform(ctx, doc, ids[0], res.Box)
		switch {
		case errors.Is(err, ErrNodeNotFound):
			return false, []Condition{ConditionAttached}, nil
		case err != nil:
			return false, nil, err
		}
		return true, nil, nil
	})
}

// afterAction applies slow motion and records a snapshot when tracing.
func (p *Page) afterAction(ctx context.Context, name string) {
	if tr := p.browserCtx.tracing; tr.wantsSnapshots() {
		if doc, err := p.backend.Snapshot(ctx); err == nil {
			n, _ := doc.Node(doc.Root())
			tr.recordSnapshot(name, n.HTML)
		}
	}
	if d := p.browserCtx.engineOpts.SlowMo.TimeDuration(); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		case <-p.closedCh:
		}
	}
}

func (p *Page) didNavigate(url string) {
	p.urlMu.Lock()
	p.url = url
	p.urlMu.Unlock()
	p.navSeq.Add(1)

	p.tracer.TraceNavigation(p.ctx, p.ID(), url)
	p.browserCtx.tracing.recordEvent(p.ID(), EventPageFrameNavigated, url)
	p.emit(EventPageFrameNavigated, url)
}

func (p *Page) onRequest(data *RequestData) *Request {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()

	if r, ok := p.requests[data.ID]; ok {
		return r
	}
	r, err := newRequest(p, data)
	if err != nil {
		p.logger.Warnf("Page:onRequest", "pid:%s err:%v", p.ID(), err)
		return nil
	}
	p.requests[data.ID] = r
	p.browserCtx.tracing.recordNetwork(traceNetworkEntry{PageID: p.ID(), Kind: "request", Method: r.Method(), URL: r.URL()})
	p.emit(EventPageRequest, r)

	return r
}

func (p *Page) request(id string) *Request {
	p.reqMu.Lock()
	defer p.reqMu.Unlock()
	return p.requests[id]
}

func (p *Page) forgetRequest(id string) {
	p.reqMu.Lock()
	delete(p.requests, id)
	p.reqMu.Unlock()
}

func (p *Page) onResponse(data *ResponseData) {
	req := p.request(data.RequestID)
	resp := newResponse(req, data)
	if req != nil {
		req.setResponse(resp)
	}
	p.browserCtx.tracing.recordNetwork(traceNetworkEntry{PageID: p.ID(), Kind: "response", URL: resp.URL(), Status: resp.Status()})
	p.emit(EventPageResponse, resp)
}

func (p *Page) onRequestFinished(id string) {
	req := p.request(id)
	if req == nil {
		return
	}
	p.forgetRequest(id)
	p.emit(EventPageRequestFinished, req)
}

func (p *Page) onRequestFailed(id, failure string) {
	req := p.request(id)
	if req == nil {
		return
	}
	req.setFailure(failure)
	p.forgetRequest(id)
	p.browserCtx.tracing.recordNetwork(traceNetworkEntry{PageID: p.ID(), Kind: "failed", URL: req.URL(), Failure: failure})
	p.emit(EventPageRequestFailed, req)
}

func (p *Page) onDialog(ctx context.Context, data DialogData, resolver DialogResolver) {
	d := newDialog(p, p.logger, data, resolver)
	p.browserCtx.tracing.recordEvent(p.ID(), EventPageDialog, fmt.Sprintf("%s: %s", data.Type, data.Message))
	p.emit(EventPageDialog, d)

	handleDialog(ctx, p.getDialogHandler(), d)
}

func (p *Page) didClose() {
	p.closeOnce.Do(func() {
		p.logger.Debugf("Page:didClose", "pid:%s", p.ID())
		p.emit(EventPageClose, p)
		close(p.closedCh)
		p.cancel()
		p.tracer.EndPage(p.ID())
		p.browserCtx.removePage(p)
	})
}
