package common

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Resource types reported with requests.
const (
	ResourceTypeDocument   string = "document"
	ResourceTypeStylesheet string = "stylesheet"
	ResourceTypeImage      string = "image"
	ResourceTypeScript     string = "script"
	ResourceTypeXHR        string = "xhr"
	ResourceTypeFetch      string = "fetch"
	ResourceTypeOther      string = "other"
)

// HTTPHeader is a single HTTP header.
type HTTPHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request represents a request made by a page.
type Request struct {
	page *Page

	id           string
	url          *url.URL
	method       string
	headers      map[string]string
	postData     []byte
	resourceType string
	isNavigation bool

	mu       sync.RWMutex
	response *Response
	failure  string
}

func newRequest(page *Page, data *RequestData) (*Request, error) {
	u, err := url.Parse(data.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing request url %q: %w", data.URL, err)
	}
	rt := data.ResourceType
	if rt == "" {
		rt = ResourceTypeOther
	}
	method := data.Method
	if method == "" {
		method = "GET"
	}
	return &Request{
		page:         page,
		id:           data.ID,
		url:          u,
		method:       method,
		headers:      lowerKeys(data.Headers),
		postData:     data.PostData,
		resourceType: rt,
		isNavigation: data.IsNavigation,
	}, nil
}

func (r *Request) setResponse(resp *Response) {
	r.mu.Lock()
	r.response = resp
	r.mu.Unlock()
}

func (r *Request) setFailure(text string) {
	r.mu.Lock()
	r.failure = text
	r.mu.Unlock()
}

// URL returns the request URL.
func (r *Request) URL() string { return r.url.String() }

// Method returns the request method.
func (r *Request) Method() string { return r.method }

// Headers returns the request headers with lower-cased names.
func (r *Request) Headers() map[string]string {
	return copyHeaders(r.headers)
}

// HeadersArray returns the request headers sorted by name.
func (r *Request) HeadersArray() []HTTPHeader {
	return headersArray(r.headers)
}

// HeaderValue returns the value of the given header.
func (r *Request) HeaderValue(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// PostData returns the request body as a string.
func (r *Request) PostData() string { return string(r.postData) }

// PostDataBuffer returns the request body.
func (r *Request) PostDataBuffer() []byte { return r.postData }

// ResourceType returns the resource type of the request.
func (r *Request) ResourceType() string { return r.resourceType }

// IsNavigationRequest reports whether the request navigates the page.
func (r *Request) IsNavigationRequest() bool { return r.isNavigation }

// Frame returns the page that issued the request.
func (r *Request) Frame() *Page { return r.page }

// Response returns the response, or nil if none arrived yet.
func (r *Request) Response() *Response {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.response
}

// Failure returns the error text of a failed request.
func (r *Request) Failure() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// Response represents a response received by a page.
type Response struct {
	request    *Request
	url        string
	status     int64
	statusText string
	headers    map[string]string
	body       []byte
}

func newResponse(req *Request, data *ResponseData) *Response {
	u := data.URL
	if u == "" && req != nil {
		u = req.URL()
	}
	return &Response{
		request:    req,
		url:        u,
		status:     int64(data.Status),
		statusText: data.StatusText,
		headers:    lowerKeys(data.Headers),
		body:       data.Body,
	}
}

// URL returns the response URL.
func (r *Response) URL() string { return r.url }

// Status returns the HTTP status code.
func (r *Response) Status() int64 { return r.status }

// StatusText returns the status text.
func (r *Response) StatusText() string { return r.statusText }

// Ok reports whether the status is in the 2xx range.
func (r *Response) Ok() bool {
	return r.status == 0 || (r.status >= 200 && r.status <= 299)
}

// Headers returns the response headers with lower-cased names.
func (r *Response) Headers() map[string]string {
	return copyHeaders(r.headers)
}

// HeadersArray returns the response headers sorted by name.
func (r *Response) HeadersArray() []HTTPHeader {
	return headersArray(r.headers)
}

// HeaderValue returns the value of the given header.
func (r *Response) HeaderValue(name string) (string, bool) {
	v, ok := r.headers[strings.ToLower(name)]
	return v, ok
}

// Body returns the response body.
func (r *Response) Body() ([]byte, error) {
	return r.body, nil
}

// Text returns the response body as a string.
func (r *Response) Text() (string, error) {
	return string(r.body), nil
}

// JSON unmarshals the response body.
func (r *Response) JSON() (any, error) {
	var v any
	if err := json.Unmarshal(r.body, &v); err != nil {
		return nil, fmt.Errorf("unmarshalling response body to JSON: %w", err)
	}
	return v, nil
}

// Request returns the matching request.
func (r *Response) Request() *Request { return r.request }

func lowerKeys(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func headersArray(h map[string]string) []HTTPHeader {
	out := make([]HTTPHeader, 0, len(h))
	for k, v := range h {
		out = append(out, HTTPHeader{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
