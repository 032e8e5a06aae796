package static

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/log"
)

// Context is an in-memory browsing context. Its pages share cookies.
type Context struct {
	id      string
	browser *Browser
	logger  *log.Logger
	opts    common.ContextBackendOptions
	client  *http.Client
	cookies *cookieStore
	origins []byte

	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reqSeq atomic.Int64

	mu        sync.Mutex
	pages     []*Page
	intercept bool
	closed    bool
	queue     []common.BackendEvent
	signal    chan struct{}
	events    chan common.BackendEvent
	done      chan struct{}
}

var _ common.ContextBackend = &Context{}

func newContext(b *Browser, opts common.ContextBackendOptions) (*Context, error) {
	cookies, origins, err := parseStorageState(opts.StorageState)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Context{
		id:      uuid.NewString(),
		browser: b,
		logger:  b.logger,
		opts:    opts,
		cookies: cookies,
		origins: origins,
		ctx:     ctx,
		cancel:  cancel,
		signal:  make(chan struct{}, 1),
		events:  make(chan common.BackendEvent),
		done:    make(chan struct{}),
	}
	c.client = &http.Client{
		Transport: b,
		Jar:       cookies,
		Timeout:   time.Minute,
	}
	go c.pump()
	return c, nil
}

// ID returns the context ID.
func (c *Context) ID() string { return c.id }

// Pages returns the open pages of the context.
func (c *Context) Pages() []*Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.pages)
}

// Events returns the event stream of the context.
func (c *Context) Events() <-chan common.BackendEvent { return c.events }

// emit queues an event. The queue is unbounded so emitters never block on
// a slow consumer.
func (c *Context) emit(ev common.BackendEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

func (c *Context) pump() {
	defer close(c.events)
	for {
		select {
		case <-c.signal:
		case <-c.done:
			return
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			ev := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// goAsync runs fn in the background until the context closes.
func (c *Context) goAsync(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// NewPage opens a page on about:blank.
func (c *Context) NewPage(_ context.Context) (common.PageBackend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("creating page: %w", ErrPageClosed)
	}
	p := newPage(c, nil)
	c.pages = append(c.pages, p)
	return p, nil
}

// openPopup opens a page on behalf of opener and navigates it to u.
func (c *Context) openPopup(opener *Page, u string) (*Page, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("opening popup: %w", ErrPageClosed)
	}
	p := newPage(c, opener)
	c.pages = append(c.pages, p)
	c.mu.Unlock()

	c.emit(common.BackendEvent{Type: common.BackendPageCreated, PageID: p.id, Page: p, OpenerID: opener.id})
	if u != "" && u != "about:blank" {
		c.goAsync(func(ctx context.Context) {
			if err := p.Navigate(ctx, u); err != nil {
				c.logger.Warnf("static:Context:openPopup", "pid:%s url:%q err:%v", p.id, u, err)
			}
		})
	}
	return p, nil
}

func (c *Context) removePage(p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = slices.DeleteFunc(c.pages, func(x *Page) bool { return x == p })
}

// SetRequestInterception pauses every request until the consumer of
// the event stream resolves it.
func (c *Context) SetRequestInterception(_ context.Context, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intercept = enabled
	return nil
}

func (c *Context) intercepting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intercept
}

// StorageState returns the cookies of the context along with the origins
// it was created with.
func (c *Context) StorageState(_ context.Context) ([]byte, error) {
	return c.cookies.export(c.origins)
}

// Close closes every page of the context and ends the event stream.
func (c *Context) Close(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pages := c.pages
	c.pages = nil
	c.mu.Unlock()

	for _, p := range pages {
		p.shutdown()
	}
	c.cancel()
	c.wg.Wait()
	close(c.done)
	c.browser.removeContext(c)
	c.logger.Debugf("static:Context:Close", "bctxid:%s", c.id)
	return nil
}

func (c *Context) newRequest(
	method, u, resourceType string, navigation bool, body []byte, headers map[string]string,
) *common.RequestData {
	h := make(map[string]string, len(c.opts.ExtraHTTPHeaders)+len(headers))
	for k, v := range c.opts.ExtraHTTPHeaders {
		h[k] = v
	}
	for k, v := range headers {
		h[k] = v
	}
	return &common.RequestData{
		ID:           "req-" + strconv.FormatInt(c.reqSeq.Add(1), 10),
		URL:          u,
		Method:       method,
		Headers:      h,
		PostData:     body,
		ResourceType: resourceType,
		IsNavigation: navigation,
	}
}
