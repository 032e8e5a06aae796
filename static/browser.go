// Package static is an in-memory browser backend. Pages are parsed HTML
// documents with a synthetic layout; requests are served by registered
// handlers or an http.RoundTripper. It implements the backend interfaces
// of package common and is used by tests and the command line runner.
package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/log"
)

// Browser creates in-memory browsing contexts.
type Browser struct {
	logger    *log.Logger
	viewport  Viewport
	transport http.RoundTripper

	mu       sync.RWMutex
	handlers map[string]http.Handler
	contexts []*Context
	hooks    []actionHook
}

var _ common.BrowserBackend = &Browser{}

// Option configures a Browser.
type Option func(*Browser)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Browser) { b.logger = l }
}

// WithViewport sets the viewport of new pages.
func WithViewport(width, height float64) Option {
	return func(b *Browser) { b.viewport = Viewport{Width: width, Height: height} }
}

// WithTransport sets the transport for origins without a handler.
func WithTransport(rt http.RoundTripper) Option {
	return func(b *Browser) { b.transport = rt }
}

// WithHandler serves the requests to origin, such as "http://app.test",
// with h.
func WithHandler(origin string, h http.Handler) Option {
	return func(b *Browser) { b.handlers[strings.TrimSuffix(origin, "/")] = h }
}

// WithActionHook registers fn on every page, as Page.OnAction does. An
// invalid selector panics.
func WithActionHook(sel string, fn ActionHook) Option {
	group, err := cascadia.ParseGroup(sel)
	if err != nil {
		panic(fmt.Sprintf("parsing selector %q: %v", sel, err))
	}
	return func(b *Browser) { b.hooks = append(b.hooks, actionHook{sel: group, fn: fn}) }
}

// NewBrowser returns a browser with a 1280x720 viewport that sends
// requests over http.DefaultTransport unless told otherwise.
func NewBrowser(opts ...Option) *Browser {
	b := &Browser{
		logger:    log.NewNullLogger(),
		viewport:  Viewport{Width: 1280, Height: 720},
		transport: http.DefaultTransport,
		handlers:  make(map[string]http.Handler),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Handle serves the requests to origin with h.
func (b *Browser) Handle(origin string, h http.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[strings.TrimSuffix(origin, "/")] = h
}

// NewContext creates a browsing context.
func (b *Browser) NewContext(_ context.Context, opts common.ContextBackendOptions) (common.ContextBackend, error) {
	c, err := newContext(b, opts)
	if err != nil {
		return nil, fmt.Errorf("creating context: %w", err)
	}
	b.mu.Lock()
	b.contexts = append(b.contexts, c)
	b.mu.Unlock()

	b.logger.Debugf("static:Browser:NewContext", "bctxid:%s", c.id)
	return c, nil
}

// Contexts returns the open contexts.
func (b *Browser) Contexts() []*Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.contexts)
}

func (b *Browser) removeContext(c *Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contexts = slices.DeleteFunc(b.contexts, func(x *Context) bool { return x == c })
}

// RoundTrip serves req from a registered handler, or forwards it to the
// transport.
func (b *Browser) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.RLock()
	h, ok := b.handlers[req.URL.Scheme+"://"+req.URL.Host]
	b.mu.RUnlock()
	if !ok {
		return b.transport.RoundTrip(req) //nolint:wrapcheck
	}

	rec := httptest.NewRecorder()
	if req.RemoteAddr == "" {
		req.RemoteAddr = "127.0.0.1:0"
	}
	if req.RequestURI == "" {
		req.RequestURI = req.URL.RequestURI()
	}
	// Server handlers may assume a non-nil body.
	if req.Body == nil {
		req.Body = http.NoBody
	}
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}
