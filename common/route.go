package common

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/autowait/log"
)

// FulfillOptions are response fields that can be set when fulfilling a request.
type FulfillOptions struct {
	Body        []byte
	ContentType string
	Headers     map[string]string
	Status      int64
}

// ContinueOptions override parts of a request that is continued.
type ContinueOptions struct {
	URL      string
	Method   string
	Headers  map[string]string
	PostData []byte
}

// RouteOptions are options for Route.
type RouteOptions struct {
	// Times limits how often the handler runs. Zero means unlimited.
	Times int
}

// RouteHandler handles an intercepted request. A handler that returns
// without resolving the route lets the request continue; one that returns an
// error aborts it.
type RouteHandler func(ctx context.Context, route *Route) error

// Route allows to handle a request.
type Route struct {
	logger   *log.Logger
	resolver RouteResolver

	request  *Request
	mu       sync.Mutex
	handled  bool
	fallback bool
}

func newRoute(logger *log.Logger, resolver RouteResolver, request *Request) *Route {
	return &Route{
		logger:   logger,
		resolver: resolver,
		request:  request,
	}
}

// Request returns the request associated with the route.
func (r *Route) Request() *Request { return r.request }

// Abort aborts the request with the given error code, "failed" if empty.
func (r *Route) Abort(ctx context.Context, errorCode string) error {
	if errorCode == "" {
		errorCode = "failed"
	}
	reason, ok := errorReasons()[errorCode]
	if !ok {
		return fmt.Errorf("aborting %q: unknown error code %q", r.request.URL(), errorCode)
	}
	if err := r.startHandling(); err != nil {
		return err
	}
	r.logger.Debugf("Route:Abort", "url:%q code:%q", r.request.URL(), errorCode)

	if err := r.resolver.Abort(ctx, reason); err != nil {
		return fmt.Errorf("aborting %q: %w", r.request.URL(), err)
	}
	return nil
}

// Continue sends the request on to the network, with optional overrides.
func (r *Route) Continue(ctx context.Context, opts *ContinueOptions) error {
	if err := r.startHandling(); err != nil {
		return err
	}
	if opts == nil {
		opts = &ContinueOptions{}
	}
	r.logger.Debugf("Route:Continue", "url:%q opts:%+v", r.request.URL(), opts)

	if err := r.resolver.Continue(ctx, *opts); err != nil {
		return fmt.Errorf("continuing %q: %w", r.request.URL(), err)
	}
	return nil
}

// Fulfill responds to the request without touching the network.
func (r *Route) Fulfill(ctx context.Context, opts *FulfillOptions) error {
	if err := r.startHandling(); err != nil {
		return err
	}
	if opts == nil {
		opts = &FulfillOptions{}
	}
	if opts.Status == 0 {
		opts.Status = 200
	}
	r.logger.Debugf("Route:Fulfill", "url:%q status:%d", r.request.URL(), opts.Status)

	if err := r.resolver.Fulfill(ctx, *opts); err != nil {
		return fmt.Errorf("fulfilling %q: %w", r.request.URL(), err)
	}
	return nil
}

// Fallback hands the request to the next matching route, or to the network
// if there is none.
func (r *Route) Fallback() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled || r.fallback {
		return ErrRouteAlreadyHandled
	}
	r.fallback = true
	return nil
}

func (r *Route) startHandling() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handled || r.fallback {
		return ErrRouteAlreadyHandled
	}
	r.handled = true
	return nil
}

func (r *Route) state() (handled, fallback bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled, r.fallback
}

func errorReasons() map[string]network.ErrorReason {
	return map[string]network.ErrorReason{
		"aborted":              network.ErrorReasonAborted,
		"accessdenied":         network.ErrorReasonAccessDenied,
		"addressunreachable":   network.ErrorReasonAddressUnreachable,
		"blockedbyclient":      network.ErrorReasonBlockedByClient,
		"blockedbyresponse":    network.ErrorReasonBlockedByResponse,
		"connectionaborted":    network.ErrorReasonConnectionAborted,
		"connectionclosed":     network.ErrorReasonConnectionClosed,
		"connectionfailed":     network.ErrorReasonConnectionFailed,
		"connectionrefused":    network.ErrorReasonConnectionRefused,
		"connectionreset":      network.ErrorReasonConnectionReset,
		"internetdisconnected": network.ErrorReasonInternetDisconnected,
		"namenotresolved":      network.ErrorReasonNameNotResolved,
		"timedout":             network.ErrorReasonTimedOut,
		"failed":               network.ErrorReasonFailed,
	}
}

// routeRule is a registered interception.
type routeRule struct {
	key     string
	matcher URLMatcher
	handler RouteHandler
	times   int
	calls   int
}

// routeTable holds rules in registration order. The first matching rule
// handles a request.
type routeTable struct {
	mu    sync.Mutex
	rules []*routeRule
}

func (t *routeTable) add(pattern any, baseURL string, handler RouteHandler, opts *RouteOptions) error {
	if handler == nil {
		return errors.New("route handler is nil")
	}
	m, err := newURLMatcher(pattern, baseURL)
	if err != nil {
		return err
	}
	rule := &routeRule{key: patternKey(pattern), matcher: m, handler: handler}
	if opts != nil {
		rule.times = opts.Times
	}

	t.mu.Lock()
	t.rules = append(t.rules, rule)
	t.mu.Unlock()
	return nil
}

// remove drops every rule registered with pattern and reports whether the
// table is now empty.
func (t *routeTable) remove(pattern any) bool {
	key := patternKey(pattern)

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.rules[:0]
	for _, r := range t.rules {
		if r.key != key {
			kept = append(kept, r)
		}
	}
	clear(t.rules[len(kept):])
	t.rules = kept
	return len(t.rules) == 0
}

func (t *routeTable) reset() {
	t.mu.Lock()
	t.rules = nil
	t.mu.Unlock()
}

func (t *routeTable) empty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rules) == 0
}

// matching returns the rules matching url in registration order.
func (t *routeTable) matching(url string) []*routeRule {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*routeRule
	for _, r := range t.rules {
		if r.matcher(url) {
			out = append(out, r)
		}
	}
	return out
}

// claim counts a call against the rule's Times budget and reports whether
// the rule may still run.
func (t *routeTable) claim(rule *routeRule) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rule.times > 0 && rule.calls >= rule.times {
		return false
	}
	rule.calls++
	if rule.times > 0 && rule.calls >= rule.times {
		kept := t.rules[:0]
		for _, r := range t.rules {
			if r != rule {
				kept = append(kept, r)
			}
		}
		clear(t.rules[len(kept):])
		t.rules = kept
	}
	return true
}

func patternKey(pattern any) string {
	switch p := pattern.(type) {
	case nil:
		return "s:"
	case string:
		return "s:" + p
	case *regexp.Regexp:
		return "r:" + p.String()
	default:
		return fmt.Sprintf("f:%p", p)
	}
}

type tableRule struct {
	table *routeTable
	rule  *routeRule
}

// handleRoute runs the matching rules of the tables, in order, until one
// resolves the request. Unmatched requests continue unmodified.
func handleRoute(ctx context.Context, logger *log.Logger, resolver RouteResolver, req *Request, tables ...*routeTable) error {
	var candidates []tableRule
	for _, t := range tables {
		for _, r := range t.matching(req.URL()) {
			candidates = append(candidates, tableRule{t, r})
		}
	}

	for _, c := range candidates {
		if !c.table.claim(c.rule) {
			continue
		}
		route := newRoute(logger, resolver, req)
		err := c.rule.handler(ctx, route)
		handled, fallback := route.state()
		if err != nil {
			logger.Warnf("Route:handler", "url:%q err:%v", req.URL(), err)
			if !handled {
				return route.Abort(ctx, "failed")
			}
			return nil
		}
		if fallback {
			continue
		}
		if !handled {
			return route.Continue(ctx, nil)
		}
		return nil
	}

	if err := resolver.Continue(ctx, ContinueOptions{}); err != nil {
		return fmt.Errorf("continuing %q: %w", req.URL(), err)
	}
	return nil
}
