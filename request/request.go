// Package request sends HTTP requests outside of any page, for API tests
// that share cookies with a browser context through storage state.
package request

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/liuxd6825/autowait/log"
)

// DefaultTimeout is the timeout of a request unless set otherwise.
const DefaultTimeout = 30 * time.Second

// ErrDisposed is returned when a disposed context or response is used.
var ErrDisposed = errors.New("request context is disposed")

// ContextOptions are options of NewContext.
type ContextOptions struct {
	// BaseURL resolves relative request URLs.
	BaseURL          string
	ExtraHTTPHeaders map[string]string
	// Timeout of every request. Zero means DefaultTimeout, negative means
	// no timeout.
	Timeout           time.Duration
	IgnoreHTTPSErrors bool
	// StorageState seeds the cookie jar. Only its cookies are used.
	StorageState []byte
	// Transport sends the requests. Defaults to a clone of
	// http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *log.Logger
}

// Options are options of a single request.
type Options struct {
	// Method defaults to GET for Fetch.
	Method string
	// Params are added to the query string.
	Params  map[string]string
	Headers map[string]string
	// Data is the body: []byte and string are sent as is, anything else is
	// encoded as JSON.
	Data any
	// Form is sent URL-encoded. It's ignored when Data is set.
	Form map[string]string
	// FailOnStatusCode turns non-2xx and non-3xx responses into a
	// *StatusError.
	FailOnStatusCode bool
	Timeout          time.Duration
	// MaxRetries retries connection failures, not HTTP error statuses.
	MaxRetries int
	// MaxRedirects limits the redirects followed. Zero means 20, negative
	// means none.
	MaxRedirects int
}

// StatusError is returned for an error status when FailOnStatusCode is
// set. The response is still readable.
type StatusError struct {
	Response *Response
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Response.Status(), e.Response.StatusText(), e.Response.URL())
}

// Context sends requests with a shared cookie jar and default headers.
type Context struct {
	opts   ContextOptions
	logger *log.Logger
	client *http.Client
	jar    *jar

	mu       sync.Mutex
	disposed bool
}

// NewContext returns a request context.
func NewContext(opts ContextOptions) (*Context, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	if opts.BaseURL != "" {
		if _, err := url.Parse(opts.BaseURL); err != nil {
			return nil, fmt.Errorf("parsing base url %q: %w", opts.BaseURL, err)
		}
	}

	j, err := newJar(opts.StorageState)
	if err != nil {
		return nil, err
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone() //nolint:forcetypeassert
		if opts.IgnoreHTTPSErrors {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		transport = t
	}

	return &Context{
		opts:   opts,
		logger: logger,
		jar:    j,
		client: &http.Client{Transport: transport, Jar: j},
	}, nil
}

// Get sends a GET request.
func (c *Context) Get(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodGet, u, opts)
}

// Post sends a POST request.
func (c *Context) Post(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPost, u, opts)
}

// Put sends a PUT request.
func (c *Context) Put(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPut, u, opts)
}

// Patch sends a PATCH request.
func (c *Context) Patch(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodPatch, u, opts)
}

// Delete sends a DELETE request.
func (c *Context) Delete(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodDelete, u, opts)
}

// Head sends a HEAD request.
func (c *Context) Head(ctx context.Context, u string, opts *Options) (*Response, error) {
	return c.do(ctx, http.MethodHead, u, opts)
}

// Fetch sends a request with the method of opts, GET by default.
func (c *Context) Fetch(ctx context.Context, u string, opts *Options) (*Response, error) {
	method := http.MethodGet
	if opts != nil && opts.Method != "" {
		method = strings.ToUpper(opts.Method)
	}
	return c.do(ctx, method, u, opts)
}

// StorageState returns the cookies of the context in the storage state
// format browser contexts accept.
func (c *Context) StorageState() ([]byte, error) {
	if c.isDisposed() {
		return nil, ErrDisposed
	}
	return c.jar.export()
}

// Dispose releases the context. Later requests fail with ErrDisposed.
func (c *Context) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.disposed = true
	c.client.CloseIdleConnections()
}

func (c *Context) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

//nolint:cyclop
func (c *Context) do(ctx context.Context, method, u string, opts *Options) (*Response, error) {
	c.logger.Debugf("APIRequest:"+method, "url:%q opts:%+v", u, opts)

	if c.isDisposed() {
		return nil, ErrDisposed
	}
	if opts == nil {
		opts = &Options{}
	}
	target, err := c.resolve(u, opts.Params)
	if err != nil {
		return nil, err
	}
	body, contentType, err := encodeBody(opts)
	if err != nil {
		return nil, fmt.Errorf("encoding body of %s %s: %w", method, target, err)
	}

	timeout := c.opts.Timeout
	if opts.Timeout != 0 {
		timeout = opts.Timeout
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	client := c.client
	if opts.MaxRedirects != 0 {
		cl := *c.client
		limit := opts.MaxRedirects
		cl.CheckRedirect = func(_ *http.Request, via []*http.Request) error {
			if limit < 0 || len(via) > limit {
				return http.ErrUseLastResponse
			}
			return nil
		}
		client = &cl
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		if body == nil {
			req.Body, req.GetBody = http.NoBody, nil
		}
		req.Header.Set("Accept-Encoding", "gzip, deflate, zstd")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		for k, v := range c.opts.ExtraHTTPHeaders {
			req.Header.Set(k, v)
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}

		resp, err = client.Do(req)
		if err == nil {
			break
		}
		if attempt >= opts.MaxRetries || !isConnectionError(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, err)
		}
		c.logger.Debugf("APIRequest:"+method, "url:%q attempt:%d err:%v", target, attempt+1, err)
	}

	data, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading response of %s %s: %w", method, target, err)
	}
	r := newResponse(resp, data)
	if opts.FailOnStatusCode && !r.OK() {
		return r, &StatusError{Response: r}
	}
	return r, nil
}

func (c *Context) resolve(u string, params map[string]string) (string, error) {
	ref, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("parsing url %q: %w", u, err)
	}
	if c.opts.BaseURL != "" && !ref.IsAbs() {
		base, _ := url.Parse(c.opts.BaseURL)
		// a base URL acts as a directory
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		ref, err = base.Parse(strings.TrimPrefix(u, "/"))
		if err != nil {
			return "", fmt.Errorf("resolving url %q: %w", u, err)
		}
	}
	if !ref.IsAbs() {
		return "", fmt.Errorf("url %q is not absolute and there is no base url", u)
	}
	if len(params) > 0 {
		q := ref.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		ref.RawQuery = q.Encode()
	}
	return ref.String(), nil
}

func encodeBody(opts *Options) ([]byte, string, error) {
	switch d := opts.Data.(type) {
	case nil:
	case []byte:
		return d, "application/octet-stream", nil
	case string:
		return []byte(d), "text/plain; charset=utf-8", nil
	default:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, "", err //nolint:wrapcheck
		}
		return b, "application/json", nil
	}
	if len(opts.Form) > 0 {
		v := url.Values{}
		for k, val := range opts.Form {
			v.Set(k, val)
		}
		return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// readBody reads and closes the body, decompressing it according to its
// Content-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var (
		r   io.Reader = resp.Body
		err error
	)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "":
	case "gzip":
		var gr *gzip.Reader
		if gr, err = gzip.NewReader(resp.Body); err == nil {
			defer func() { _ = gr.Close() }()
			r = gr
		}
	case "deflate":
		var zr io.ReadCloser
		if zr, err = zlib.NewReader(resp.Body); err == nil {
			defer func() { _ = zr.Close() }()
			r = zr
		}
	case "zstd":
		var zr *zstd.Decoder
		if zr, err = zstd.NewReader(resp.Body); err == nil {
			defer zr.Close()
			r = zr
		}
	default:
		// unknown encodings are returned as they are
	}
	if err != nil {
		return nil, fmt.Errorf("decompressing body: %w", err)
	}

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return b, nil
}
