package common

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/storage"
	"github.com/liuxd6825/autowait/trace"
)

// BrowserContextOptions are options for Browser.NewContext.
type BrowserContextOptions struct {
	// BaseURL resolves relative URLs given to Goto and route patterns.
	BaseURL string
	// StorageState is an opaque JSON blob of cookies and local storage
	// handed to the backend unchanged.
	StorageState []byte
	// StorageStatePath is read into StorageState if StorageState is empty.
	StorageStatePath string
	DefaultTimeout   time.Duration
	ExtraHTTPHeaders map[string]string
	// Persister stores traces and exported storage state. Defaults to the
	// local file system.
	Persister storage.Persister
	// TraceMetadata is attached to every trace span.
	TraceMetadata map[string]string
}

// BrowserContext is an isolated browsing session: pages, routes and storage
// that share a lifetime.
type BrowserContext struct {
	BaseEventEmitter

	ctx    context.Context
	cancel context.CancelFunc

	browser         *Browser
	backend         ContextBackend
	opts            BrowserContextOptions
	engineOpts      EngineOptions
	logger          *log.Logger
	tracer          *trace.Tracer
	tracing         *Tracing
	timeoutSettings *TimeoutSettings
	routes          routeTable

	mu           sync.RWMutex
	pages        []*Page
	interception bool

	// wg tracks route, dialog and listener goroutines.
	wg        sync.WaitGroup
	loopDone  chan struct{}
	closeOnce sync.Once
	closedCh  chan struct{}
}

func newBrowserContext(
	ctx context.Context, b *Browser, backend ContextBackend, opts BrowserContextOptions,
) *BrowserContext {
	ctx, cancel := context.WithCancel(ctx)
	if opts.Persister == nil {
		opts.Persister = storage.NewLocalFilePersister()
	}
	tracer := trace.NewTracer(nil, opts.TraceMetadata)

	bc := &BrowserContext{
		ctx:             ctx,
		cancel:          cancel,
		browser:         b,
		backend:         backend,
		opts:            opts,
		engineOpts:      b.opts,
		logger:          b.logger,
		tracer:          tracer,
		tracing:         newTracing(b.logger, tracer, opts.Persister, b.opts.TracesDir.String),
		timeoutSettings: NewTimeoutSettings(nil),
		loopDone:        make(chan struct{}),
		closedCh:        make(chan struct{}),
	}
	if d := b.opts.DefaultTimeout.TimeDuration(); d > 0 {
		bc.timeoutSettings.setDefaultTimeout(d)
	}
	if d := b.opts.ExpectTimeout.TimeDuration(); d > 0 {
		bc.timeoutSettings.setDefaultExpectTimeout(d)
	}
	if opts.DefaultTimeout != 0 {
		bc.timeoutSettings.setDefaultTimeout(resolveTimeout(opts.DefaultTimeout, 0))
	}

	go bc.eventLoop()

	return bc
}

// ID returns the context ID.
func (c *BrowserContext) ID() string { return c.backend.ID() }

// Browser returns the browser that created the context.
func (c *BrowserContext) Browser() *Browser { return c.browser }

// Tracing returns the trace recorder of the context.
func (c *BrowserContext) Tracing() *Tracing { return c.tracing }

// Closed returns a channel closed when the context closes.
func (c *BrowserContext) Closed() <-chan struct{} { return c.closedCh }

func (c *BrowserContext) isClosed() bool {
	select {
	case <-c.closedCh:
		return true
	default:
		return false
	}
}

// NewPage opens a new page in the context.
func (c *BrowserContext) NewPage(ctx context.Context) (*Page, error) {
	c.logger.Debugf("BrowserContext:NewPage", "bctxid:%s", c.ID())

	if c.isClosed() {
		return nil, contextClosedError("creating page")
	}
	pb, err := c.backend.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating page: %w", err)
	}
	return c.pageFor(pb, ""), nil
}

// Pages returns the open pages in creation order.
func (c *BrowserContext) Pages() []*Page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.pages)
}

// SetDefaultTimeout sets the default timeout of actions in this context.
func (c *BrowserContext) SetDefaultTimeout(timeout time.Duration) {
	c.timeoutSettings.setDefaultTimeout(timeout)
}

// SetDefaultNavigationTimeout sets the default timeout of navigations.
func (c *BrowserContext) SetDefaultNavigationTimeout(timeout time.Duration) {
	c.timeoutSettings.setDefaultNavigationTimeout(timeout)
}

// Route registers handler for requests of every page of the context that
// match pattern.
func (c *BrowserContext) Route(ctx context.Context, pattern any, handler RouteHandler, opts *RouteOptions) error {
	c.logger.Debugf("BrowserContext:Route", "bctxid:%s pattern:%v", c.ID(), pattern)

	if err := c.routes.add(pattern, c.opts.BaseURL, handler, opts); err != nil {
		return fmt.Errorf("adding route: %w", err)
	}
	return c.updateInterception(ctx)
}

// Unroute removes the routes registered with pattern.
func (c *BrowserContext) Unroute(ctx context.Context, pattern any) error {
	c.logger.Debugf("BrowserContext:Unroute", "bctxid:%s pattern:%v", c.ID(), pattern)

	c.routes.remove(pattern)
	return c.updateInterception(ctx)
}

// UnrouteAll removes every context route.
func (c *BrowserContext) UnrouteAll(ctx context.Context) error {
	c.routes.reset()
	return c.updateInterception(ctx)
}

// updateInterception turns request interception on while any route is
// registered on the context or one of its pages.
func (c *BrowserContext) updateInterception(ctx context.Context) error {
	want := !c.routes.empty()
	for _, p := range c.Pages() {
		want = want || !p.routes.empty()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if want == c.interception {
		return nil
	}
	if err := c.backend.SetRequestInterception(ctx, want); err != nil {
		return fmt.Errorf("setting request interception: %w", err)
	}
	c.interception = want
	return nil
}

// StorageStateOptions are options for BrowserContext.StorageState.
type StorageStateOptions struct {
	// Path also persists the state when set.
	Path string
}

// StorageState exports the cookies and local storage of the context as an
// opaque JSON blob.
func (c *BrowserContext) StorageState(ctx context.Context, opts *StorageStateOptions) ([]byte, error) {
	c.logger.Debugf("BrowserContext:StorageState", "bctxid:%s", c.ID())

	if c.isClosed() {
		return nil, contextClosedError("getting storage state")
	}
	state, err := c.backend.StorageState(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting storage state: %w", err)
	}
	if err := validateStorageState(state); err != nil {
		return nil, fmt.Errorf("getting storage state: %w", err)
	}
	if opts != nil && opts.Path != "" {
		if err := persistStorageState(ctx, c.opts.Persister, opts.Path, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// WaitForPage waits for a new page in the context while trigger runs.
func (c *BrowserContext) WaitForPage(
	ctx context.Context, opts *WaitForEventOptions, trigger func(context.Context) error,
) (*Page, error) {
	c.logger.Debugf("BrowserContext:WaitForPage", "bctxid:%s", c.ID())

	v, err := waitForEvent(ctx, "waiting for page", c, c.closedCh, []string{EventBrowserContextPage},
		nil, eventTimeout(opts), trigger)
	if err != nil {
		return nil, err
	}
	return v.(*Page), nil //nolint:forcetypeassert
}

// WaitForEvent waits for a context event for which predicate returns true
// while trigger runs.
func (c *BrowserContext) WaitForEvent(
	ctx context.Context, event string, predicate func(data any) (bool, error),
	opts *WaitForEventOptions, trigger func(context.Context) error,
) (any, error) {
	c.logger.Debugf("BrowserContext:WaitForEvent", "bctxid:%s event:%q", c.ID(), event)

	return waitForEvent(ctx, "waiting for event "+event, c, c.closedCh, []string{event},
		predicate, eventTimeout(opts), trigger)
}

// Close closes the context. In-flight waits end with ErrContextClosed and
// an active trace is stopped and persisted.
func (c *BrowserContext) Close(ctx context.Context) error {
	c.logger.Debugf("BrowserContext:Close", "bctxid:%s", c.ID())

	var errs []error
	if c.tracing.IsRecording() {
		if _, err := c.tracing.Stop(ctx, nil); err != nil {
			errs = append(errs, err)
		}
	}
	if !c.isClosed() {
		if err := c.backend.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing context: %w", err))
		}
	}
	c.didClose()
	<-c.loopDone
	c.wg.Wait()
	c.browser.removeContext(c)

	return errors.Join(errs...)
}

func (c *BrowserContext) didClose() {
	c.closeOnce.Do(func() {
		for _, p := range c.Pages() {
			p.didClose()
		}
		c.emit(EventBrowserContextClose, c)
		close(c.closedCh)
		c.cancel()
	})
}

// pageFor returns the Page of a backend page, creating it on first sight.
// Whoever creates it announces it.
func (c *BrowserContext) pageFor(pb PageBackend, openerID string) *Page {
	c.mu.Lock()
	for _, p := range c.pages {
		if p.ID() == pb.ID() {
			c.mu.Unlock()
			return p
		}
	}
	var opener *Page
	if openerID != "" {
		for _, p := range c.pages {
			if p.ID() == openerID {
				opener = p
			}
		}
	}
	p := newPage(c, pb, opener)
	c.pages = append(c.pages, p)
	c.mu.Unlock()

	c.emit(EventBrowserContextPage, p)
	if opener != nil {
		opener.emit(EventPagePopup, p)
	}
	return p
}

func (c *BrowserContext) pageByID(id string) *Page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pages {
		if p.ID() == id {
			return p
		}
	}
	return nil
}

func (c *BrowserContext) removePage(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = slices.DeleteFunc(c.pages, func(x *Page) bool { return x == p })
}

// resolveURL resolves u against the context's base URL.
func (c *BrowserContext) resolveURL(u string) string {
	if c.opts.BaseURL == "" {
		return u
	}
	base, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return u
	}
	ref, err := url.Parse(u)
	if err != nil {
		return u
	}
	return base.ResolveReference(ref).String()
}

// eventLoop dispatches the backend event stream to pages until the stream
// ends or the context closes.
//
//nolint:cyclop
func (c *BrowserContext) eventLoop() {
	defer close(c.loopDone)

	events := c.backend.Events()
	for {
		var (
			ev BackendEvent
			ok bool
		)
		select {
		case <-c.ctx.Done():
			return
		case ev, ok = <-events:
			if !ok {
				c.didClose()
				return
			}
		}

		if ev.Type == BackendPageCreated {
			if ev.Page != nil {
				c.pageFor(ev.Page, ev.OpenerID)
			}
			continue
		}
		if ev.Type == BackendContextClosed {
			c.didClose()
			return
		}

		p := c.pageByID(ev.PageID)
		if p == nil {
			c.logger.Tracef("BrowserContext:eventLoop", "bctxid:%s event:%s for unknown page %q", c.ID(), ev.Type, ev.PageID)
			if ev.Type == BackendRequestPaused && ev.Route != nil {
				c.goHandle(func(ctx context.Context) {
					_ = ev.Route.Continue(ctx, ContinueOptions{})
				})
			}
			continue
		}

		switch ev.Type {
		case BackendNavigated:
			p.didNavigate(ev.URL)
		case BackendRequest:
			if ev.Request != nil {
				p.onRequest(ev.Request)
			}
		case BackendRequestPaused:
			if ev.Request == nil {
				continue
			}
			req := p.onRequest(ev.Request)
			if req == nil || ev.Route == nil {
				continue
			}
			resolver := ev.Route
			c.goHandle(func(ctx context.Context) {
				if err := handleRoute(ctx, c.logger, resolver, req, &p.routes, &c.routes); err != nil {
					c.logger.Warnf("BrowserContext:route", "url:%q err:%v", req.URL(), err)
				}
			})
		case BackendResponse:
			if ev.Response != nil {
				p.onResponse(ev.Response)
			}
		case BackendRequestSettled:
			if ev.Request != nil {
				p.onRequestFinished(ev.Request.ID)
			}
		case BackendRequestFailed:
			if ev.Request != nil {
				p.onRequestFailed(ev.Request.ID, ev.Failure)
			}
		case BackendDialog:
			if ev.Dialog == nil || ev.Resolver == nil {
				continue
			}
			data, resolver := *ev.Dialog, ev.Resolver
			c.goHandle(func(ctx context.Context) {
				p.onDialog(ctx, data, resolver)
			})
		case BackendPageClosed:
			p.didClose()
		}
	}
}

// goHandle runs fn on its own goroutine, tracked for Close. Handlers must
// not block the event loop: a route handler may itself wait for events.
func (c *BrowserContext) goHandle(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}
