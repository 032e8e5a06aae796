package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"unicode"

	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/autowait/common"
)

var (
	// ErrAborted is returned for requests aborted by a route.
	ErrAborted = errors.New("request aborted")

	errRouteHandled = errors.New("route is already handled")
)

type decisionKind int

const (
	decideContinue decisionKind = iota
	decideFulfill
	decideAbort
)

type routeDecision struct {
	kind    decisionKind
	fulfill common.FulfillOptions
	cont    common.ContinueOptions
	reason  network.ErrorReason
}

// routeResolver holds a paused request until it's fulfilled, continued or
// aborted. Only the first decision counts.
type routeResolver struct {
	once     sync.Once
	decision chan routeDecision
}

var _ common.RouteResolver = &routeResolver{}

func newRouteResolver() *routeResolver {
	return &routeResolver{decision: make(chan routeDecision, 1)}
}

func (r *routeResolver) decide(d routeDecision) error {
	decided := false
	r.once.Do(func() {
		r.decision <- d
		decided = true
	})
	if !decided {
		return errRouteHandled
	}
	return nil
}

func (r *routeResolver) Fulfill(_ context.Context, opts common.FulfillOptions) error {
	return r.decide(routeDecision{kind: decideFulfill, fulfill: opts})
}

func (r *routeResolver) Continue(_ context.Context, opts common.ContinueOptions) error {
	return r.decide(routeDecision{kind: decideContinue, cont: opts})
}

func (r *routeResolver) Abort(_ context.Context, reason network.ErrorReason) error {
	return r.decide(routeDecision{kind: decideAbort, reason: reason})
}

// request sends req on behalf of the page and reports it on the event
// stream. With interception on, the request waits for a route decision.
//
//nolint:cyclop
func (p *Page) request(ctx context.Context, req *common.RequestData) (*common.ResponseData, error) {
	c := p.bctx

	if c.intercepting() {
		r := newRouteResolver()
		c.emit(common.BackendEvent{Type: common.BackendRequestPaused, PageID: p.id, Request: req, Route: r})

		var d routeDecision
		select {
		case d = <-r.decision:
		case <-ctx.Done():
			return nil, ctx.Err() //nolint:wrapcheck
		case <-p.done:
			return nil, ErrPageClosed
		}
		switch d.kind {
		case decideAbort:
			c.emit(common.BackendEvent{
				Type: common.BackendRequestFailed, PageID: p.id, Request: req, Failure: errorText(d.reason),
			})
			return nil, fmt.Errorf("%s: %w", errorText(d.reason), ErrAborted)
		case decideFulfill:
			resp := fulfilled(req, d.fulfill)
			c.emit(common.BackendEvent{Type: common.BackendResponse, PageID: p.id, Request: req, Response: resp})
			c.emit(common.BackendEvent{Type: common.BackendRequestSettled, PageID: p.id, Request: req})
			return resp, nil
		case decideContinue:
			req = overridden(req, d.cont)
		}
	} else {
		c.emit(common.BackendEvent{Type: common.BackendRequest, PageID: p.id, Request: req})
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		c.emit(common.BackendEvent{
			Type: common.BackendRequestFailed, PageID: p.id, Request: req, Failure: "net::ERR_FAILED",
		})
		return nil, err
	}
	c.emit(common.BackendEvent{Type: common.BackendResponse, PageID: p.id, Request: req, Response: resp})
	c.emit(common.BackendEvent{Type: common.BackendRequestSettled, PageID: p.id, Request: req})
	return resp, nil
}

// send performs req over the context's client. Redirects are followed and
// cookies are stored.
func (c *Context) send(ctx context.Context, req *common.RequestData) (*common.ResponseData, error) {
	var body io.Reader
	if len(req.PostData) > 0 {
		body = bytes.NewReader(req.PostData)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range req.Headers {
		hr.Header.Set(k, v)
	}

	resp, err := c.client.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	headers := make(map[string]string, len(resp.Header))
	for k, vs := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	return &common.ResponseData{
		RequestID:  req.ID,
		URL:        resp.Request.URL.String(),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    headers,
		Body:       b,
	}, nil
}

func fulfilled(req *common.RequestData, opts common.FulfillOptions) *common.ResponseData {
	status := int(opts.Status)
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(map[string]string, len(opts.Headers)+1)
	for k, v := range opts.Headers {
		headers[strings.ToLower(k)] = v
	}
	if opts.ContentType != "" {
		headers["content-type"] = opts.ContentType
	}
	return &common.ResponseData{
		RequestID:  req.ID,
		URL:        req.URL,
		Status:     status,
		StatusText: http.StatusText(status),
		Headers:    headers,
		Body:       opts.Body,
	}
}

func overridden(req *common.RequestData, opts common.ContinueOptions) *common.RequestData {
	r := *req
	if opts.URL != "" {
		r.URL = opts.URL
	}
	if opts.Method != "" {
		r.Method = opts.Method
	}
	if opts.Headers != nil {
		r.Headers = opts.Headers
	}
	if opts.PostData != nil {
		r.PostData = opts.PostData
	}
	return &r
}

// errorText turns a reason such as ConnectionRefused into the net error
// text browsers report, net::ERR_CONNECTION_REFUSED.
func errorText(reason network.ErrorReason) string {
	if reason == "" {
		reason = network.ErrorReasonFailed
	}
	var sb strings.Builder
	sb.WriteString("net::ERR_")
	for i, r := range string(reason) {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte('_')
		}
		sb.WriteRune(unicode.ToUpper(r))
	}
	return sb.String()
}
