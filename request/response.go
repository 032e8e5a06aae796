package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
)

// Response is a fully read response.
type Response struct {
	url        string
	status     int
	statusText string
	headers    http.Header

	mu       sync.Mutex
	body     []byte
	disposed bool
}

func newResponse(resp *http.Response, body []byte) *Response {
	return &Response{
		url:        resp.Request.URL.String(),
		status:     resp.StatusCode,
		statusText: http.StatusText(resp.StatusCode),
		headers:    resp.Header.Clone(),
		body:       body,
	}
}

// URL is the final URL, after redirects.
func (r *Response) URL() string { return r.url }

// Status is the HTTP status code.
func (r *Response) Status() int { return r.status }

// StatusText is the text of the status code.
func (r *Response) StatusText() string { return r.statusText }

// OK reports whether the status is in the 200-299 range.
func (r *Response) OK() bool { return r.status >= 200 && r.status <= 299 }

// Headers returns the headers with lower-case names. Repeated headers are
// joined with ", ", except Set-Cookie which is joined with newlines.
func (r *Response) Headers() map[string]string {
	out := make(map[string]string, len(r.headers))
	for k, vs := range r.headers {
		sep := ", "
		if strings.EqualFold(k, "Set-Cookie") {
			sep = "\n"
		}
		out[strings.ToLower(k)] = strings.Join(vs, sep)
	}
	return out
}

// HeaderValue returns the value of a header, case-insensitively.
func (r *Response) HeaderValue(name string) (string, bool) {
	v, ok := r.Headers()[strings.ToLower(name)]
	return v, ok
}

// HeaderNames returns the sorted lower-case header names.
func (r *Response) HeaderNames() []string {
	names := make([]string, 0, len(r.headers))
	for k := range r.headers {
		names = append(names, strings.ToLower(k))
	}
	sort.Strings(names)
	return names
}

// Body returns the decompressed body.
func (r *Response) Body() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return nil, errors.New("response body is disposed")
	}
	return r.body, nil
}

// Text returns the body as a string.
func (r *Response) Text() (string, error) {
	b, err := r.Body()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON decodes the body.
func (r *Response) JSON() (any, error) {
	b, err := r.Body()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		var se *json.SyntaxError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("parsing body of %s as JSON at offset %d: %w", r.url, se.Offset, err)
		}
		return nil, fmt.Errorf("parsing body of %s as JSON: %w", r.url, err)
	}
	return v, nil
}

// JSONPath returns the value at a gjson path of the body, and whether it
// exists.
func (r *Response) JSONPath(path string) (gjson.Result, bool, error) {
	b, err := r.Body()
	if err != nil {
		return gjson.Result{}, false, err
	}
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, false, fmt.Errorf("body of %s is not valid JSON", r.url)
	}
	res := gjson.GetBytes(b, path)
	return res, res.Exists(), nil
}

// Dispose frees the body.
func (r *Response) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body, r.disposed = nil, true
}
