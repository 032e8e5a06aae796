// Package browsertest sets up an engine on the in-memory backend for
// tests.
package browsertest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/static"
	"github.com/liuxd6825/autowait/testutils"
	"github.com/liuxd6825/autowait/types"
)

// AppOrigin is served by the mux of a BrowserTest.
const AppOrigin = "http://app.test"

// BrowserTest is an engine wired to a static backend, with an HTTP test
// server and an in-process app origin.
type BrowserTest struct {
	Ctx     context.Context
	HTTPBin *httptest.Server
	Mux     *http.ServeMux
	Static  *static.Browser
	Browser *common.Browser
	Context *common.BrowserContext
	Page    *common.Page
	LogHook *testutils.SimpleLogrusHook
	Logger  *log.Logger
}

type config struct {
	engine       common.EngineOptions
	context      common.BrowserContextOptions
	static       []static.Option
	snapshotHook SnapshotHook
}

// SnapshotHook runs after a page backend returns a snapshot and before the
// engine uses it.
type SnapshotHook func(ctx context.Context, pb common.PageBackend)

// Option changes the setup of a BrowserTest.
type Option func(*config)

// WithTimeout sets the default action timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.engine.DefaultTimeout = types.NullDurationFrom(d) }
}

// WithExpectTimeout sets the default assertion timeout.
func WithExpectTimeout(d time.Duration) Option {
	return func(c *config) { c.engine.ExpectTimeout = types.NullDurationFrom(d) }
}

// WithStrict turns strict mode on or off.
func WithStrict(strict bool) Option {
	return func(c *config) { c.engine.Strict = null.BoolFrom(strict) }
}

// WithTestIDAttribute changes the attribute GetByTestID matches.
func WithTestIDAttribute(attr string) Option {
	return func(c *config) { c.engine.TestIDAttribute = null.StringFrom(attr) }
}

// WithContextOptions sets the options of the default context.
func WithContextOptions(opts common.BrowserContextOptions) Option {
	return func(c *config) { c.context = opts }
}

// WithStaticOptions passes options to the backend.
func WithStaticOptions(opts ...static.Option) Option {
	return func(c *config) { c.static = append(c.static, opts...) }
}

// WithSnapshotHook installs fn on every page backend.
func WithSnapshotHook(fn SnapshotHook) Option {
	return func(c *config) { c.snapshotHook = fn }
}

// New creates a browser, a context and a page on about:blank. Everything
// is closed when the test ends.
func New(tb testing.TB, opts ...Option) *BrowserTest {
	tb.Helper()

	cfg := &config{
		engine: common.EngineOptions{
			DefaultTimeout: types.NullDurationFrom(5 * time.Second),
			ExpectTimeout:  types.NullDurationFrom(2 * time.Second),
			TracesDir:      null.StringFrom(tb.TempDir()),
		},
	}
	for _, o := range opts {
		o(cfg)
	}

	hook := testutils.NewLogHook()
	lr := logrus.New()
	lr.SetOutput(io.Discard)
	lr.SetLevel(logrus.DebugLevel)
	lr.AddHook(hook)
	logger := log.New(lr, false, nil)

	srv := httptest.NewServer(httpbin.New().Handler())
	tb.Cleanup(srv.Close)

	mux := http.NewServeMux()
	sopts := append([]static.Option{
		static.WithLogger(logger),
		static.WithHandler(AppOrigin, mux),
	}, cfg.static...)
	sb := static.NewBrowser(sopts...)
	var backend common.BrowserBackend = sb
	if cfg.snapshotHook != nil {
		backend = hookedBrowser{BrowserBackend: sb, hook: cfg.snapshotHook}
	}
	b := common.NewBrowser(backend, cfg.engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	copts := cfg.context
	bctx, err := b.NewContext(ctx, &copts)
	require.NoError(tb, err)
	page, err := bctx.NewPage(ctx)
	require.NoError(tb, err)

	tb.Cleanup(func() {
		_ = b.Close(context.Background())
	})

	return &BrowserTest{
		Ctx:     ctx,
		HTTPBin: srv,
		Mux:     mux,
		Static:  sb,
		Browser: b,
		Context: bctx,
		Page:    page,
		LogHook: hook,
		Logger:  logger,
	}
}

// Backend returns the in-memory page behind p.
func (bt *BrowserTest) Backend(tb testing.TB, p *common.Page) *static.Page {
	tb.Helper()

	for _, c := range bt.Static.Contexts() {
		for _, sp := range c.Pages() {
			if sp.ID() == p.ID() {
				return sp
			}
		}
	}
	tb.Fatalf("no backend page for %s", p.ID())
	return nil
}

// SetContent replaces the content of the default page.
func (bt *BrowserTest) SetContent(tb testing.TB, markup string) *static.Page {
	tb.Helper()

	require.NoError(tb, bt.Page.SetContent(bt.Ctx, markup))
	return bt.Backend(tb, bt.Page)
}

// Serve registers markup as the page at path of AppOrigin.
func (bt *BrowserTest) Serve(path, markup string) {
	bt.Mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, markup)
	})
}

type hookedBrowser struct {
	common.BrowserBackend
	hook SnapshotHook
}

func (b hookedBrowser) NewContext(ctx context.Context, opts common.ContextBackendOptions) (common.ContextBackend, error) {
	cb, err := b.BrowserBackend.NewContext(ctx, opts)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return hookedContext{ContextBackend: cb, hook: b.hook}, nil
}

type hookedContext struct {
	common.ContextBackend
	hook SnapshotHook
}

func (c hookedContext) NewPage(ctx context.Context) (common.PageBackend, error) {
	pb, err := c.ContextBackend.NewPage(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return hookedPage{PageBackend: pb, hook: c.hook}, nil
}

type hookedPage struct {
	common.PageBackend
	hook SnapshotHook
}

func (p hookedPage) Snapshot(ctx context.Context) (common.Document, error) {
	doc, err := p.PageBackend.Snapshot(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	p.hook(ctx, p.PageBackend)
	return doc, nil
}
