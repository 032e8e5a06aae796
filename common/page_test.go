package common_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/static"
	"github.com/liuxd6825/autowait/storage"
	"github.com/liuxd6825/autowait/testutils/browsertest"
)

// appPage serves a home page and opens it, so that fetches resolve
// against the app origin.
func appPage(t *testing.T, bt *browsertest.BrowserTest) *static.Page {
	t.Helper()

	bt.Serve("/", `<title>Home</title><a id="next" href="/next">next</a>`)
	_, err := bt.Page.Goto(bt.Ctx, browsertest.AppOrigin+"/", nil)
	require.NoError(t, err)
	return bt.Backend(t, bt.Page)
}

func fulfillWith(body string) common.RouteHandler {
	return func(ctx context.Context, r *common.Route) error {
		return r.Fulfill(ctx, &common.FulfillOptions{Body: []byte(body), ContentType: "text/plain"})
	}
}

func handleText(mux *http.ServeMux, path, body string) {
	mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	})
}

func TestPageRouteInterceptsEveryMatch(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t)
	var reached atomic.Int32
	bt.Mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `<title>Home</title>`)
			return
		}
		reached.Add(1)
		_, _ = io.WriteString(w, "real")
	})
	_, err := bt.Page.Goto(bt.Ctx, browsertest.AppOrigin+"/", nil)
	require.NoError(t, err)
	sp := bt.Backend(t, bt.Page)

	var intercepted atomic.Int32
	require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", func(ctx context.Context, r *common.Route) error {
		intercepted.Add(1)
		return r.Fulfill(ctx, &common.FulfillOptions{Body: []byte("stub")})
	}, nil))

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/items", nil)
			if err != nil {
				return err
			}
			if string(resp.Body) != "stub" {
				return errors.New("unexpected body " + string(resp.Body))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 20, intercepted.Load())
	assert.Zero(t, reached.Load())

	resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/plain", nil)
	require.NoError(t, err)
	assert.Equal(t, "real", string(resp.Body))
	assert.EqualValues(t, 20, intercepted.Load())
	assert.EqualValues(t, 1, reached.Load())
}

func TestPageRouteOrder(t *testing.T) {
	t.Parallel()

	t.Run("first_registered_wins", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", fulfillWith("broad"), nil))
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/x", fulfillWith("narrow"), nil))

		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
		assert.Equal(t, "broad", string(resp.Body))
	})

	t.Run("page_before_context", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		require.NoError(t, bt.Context.Route(bt.Ctx, "**/api/**", fulfillWith("context"), nil))
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", fulfillWith("page"), nil))

		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
		assert.Equal(t, "page", string(resp.Body))
	})

	t.Run("fallback", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		require.NoError(t, bt.Context.Route(bt.Ctx, "**/api/**", fulfillWith("context"), nil))
		var seen atomic.Bool
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", func(_ context.Context, r *common.Route) error {
			seen.Store(true)
			return r.Fallback()
		}, nil))

		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
		assert.Equal(t, "context", string(resp.Body))
		assert.True(t, seen.Load())
	})

	t.Run("unresolved_continues", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		handleText(bt.Mux, "/api/x", "real")
		sp := appPage(t, bt)
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", func(context.Context, *common.Route) error {
			return nil
		}, nil))

		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
		assert.Equal(t, "real", string(resp.Body))
	})
}

func TestPageRouteLifetime(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t)
	handleText(bt.Mux, "/api/x", "real")
	sp := appPage(t, bt)

	fetch := func() string {
		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		require.NoError(t, err)
		return string(resp.Body)
	}

	require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/x", fulfillWith("once"), &common.RouteOptions{Times: 1}))
	assert.Equal(t, "once", fetch())
	assert.Equal(t, "real", fetch())

	require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/x", fulfillWith("stub"), nil))
	assert.Equal(t, "stub", fetch())
	require.NoError(t, bt.Page.Unroute(bt.Ctx, "**/api/x"))
	assert.Equal(t, "real", fetch())

	require.NoError(t, bt.Context.Route(bt.Ctx, "/\\/api\\//", fulfillWith("regex"), nil))
	assert.Equal(t, "regex", fetch())
	require.NoError(t, bt.Context.UnrouteAll(bt.Ctx))
	assert.Equal(t, "real", fetch())
}

func TestPageRouteAbortAndContinue(t *testing.T) {
	t.Parallel()

	t.Run("abort", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/*.png", func(ctx context.Context, r *common.Route) error {
			return r.Abort(ctx, "blockedbyclient")
		}, nil))

		var fetchErr error
		v, err := bt.Page.WaitForEvent(bt.Ctx, common.EventPageRequestFailed, nil, nil,
			func(ctx context.Context) error {
				_, fetchErr = sp.Fetch(ctx, http.MethodGet, "/logo.png", nil)
				return nil
			})
		require.NoError(t, err)
		assert.ErrorIs(t, fetchErr, static.ErrAborted)
		req, ok := v.(*common.Request)
		require.True(t, ok)
		assert.Equal(t, browsertest.AppOrigin+"/logo.png", req.URL())
		assert.Equal(t, "net::ERR_BLOCKED_BY_CLIENT", req.Failure())
	})

	t.Run("unknown_error_code", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		routeErr := make(chan error, 1)
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/api/**", func(ctx context.Context, r *common.Route) error {
			err := r.Abort(ctx, "nosuchcode")
			routeErr <- err
			return err
		}, nil))

		_, err := sp.Fetch(bt.Ctx, http.MethodGet, "/api/x", nil)
		assert.ErrorIs(t, err, static.ErrAborted, "a failing handler aborts the request")
		assert.ErrorContains(t, <-routeErr, "unknown error code")
	})

	t.Run("continue_with_headers", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := appPage(t, bt)
		require.NoError(t, bt.Page.Route(bt.Ctx, "**/headers", func(ctx context.Context, r *common.Route) error {
			return r.Continue(ctx, &common.ContinueOptions{Headers: map[string]string{"X-Autowait": "yes"}})
		}, nil))

		resp, err := sp.Fetch(bt.Ctx, http.MethodGet, bt.HTTPBin.URL+"/headers", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Contains(t, gjson.GetBytes(resp.Body, "headers.X-Autowait").String(), "yes")
	})
}

func TestPageEventWaits(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t)
	bt.Mux.HandleFunc("/api/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		b, _ := io.ReadAll(r.Body)
		_, _ = w.Write(b)
	})
	sp := appPage(t, bt)

	// a synchronous trigger must never outrun the listener
	for i := 0; i < 20; i++ {
		resp, err := bt.Page.WaitForResponse(bt.Ctx, "**/api/echo", nil, func(ctx context.Context) error {
			_, err := sp.Fetch(ctx, http.MethodPost, "/api/echo", []byte(`{"n":1}`))
			return err
		})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.EqualValues(t, http.StatusOK, resp.Status())
		assert.True(t, resp.Ok())
		v, err := resp.JSON()
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"n": float64(1)}, v)
		assert.Equal(t, http.MethodPost, resp.Request().Method())
	}

	req, err := bt.Page.WaitForRequest(bt.Ctx, func(r *common.Request) bool {
		return r.Method() == http.MethodPost
	}, nil, func(ctx context.Context) error {
		_, err := sp.Fetch(ctx, http.MethodGet, "/api/echo", nil)
		if err != nil {
			return err
		}
		_, err = sp.Fetch(ctx, http.MethodPost, "/api/echo", []byte("payload"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", req.PostData())
	assert.Equal(t, common.ResourceTypeFetch, req.ResourceType())
	assert.False(t, req.IsNavigationRequest())

	t.Run("timeout", func(t *testing.T) {
		start := time.Now()
		_, err := bt.Page.WaitForResponse(bt.Ctx, "**/never", &common.WaitForEventOptions{Timeout: 100 * time.Millisecond}, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrEventWaitTimeout)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("trigger_error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := bt.Page.WaitForResponse(bt.Ctx, "**/api/echo", nil, func(context.Context) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("page_closed", func(t *testing.T) {
		p, err := bt.Context.NewPage(bt.Ctx)
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() {
			_, err := p.WaitForEvent(bt.Ctx, common.EventPageDialog, nil, nil, nil)
			done <- err
		}()
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, p.Close(bt.Ctx))
		select {
		case err := <-done:
			assert.ErrorIs(t, err, common.ErrContextClosed)
		case <-time.After(5 * time.Second):
			t.Fatal("wait did not end when the page closed")
		}
	})
}

func TestPageDialogs(t *testing.T) {
	t.Parallel()

	t.Run("default_policy", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := bt.SetContent(t, `<p>x</p>`)

		res, err := sp.ShowDialog(bt.Ctx, common.DialogTypeAlert, "Hi", "")
		require.NoError(t, err)
		assert.True(t, res.Accepted)

		res, err = sp.ShowDialog(bt.Ctx, common.DialogTypeConfirm, "Sure?", "")
		require.NoError(t, err)
		assert.False(t, res.Accepted)

		res, err = sp.ShowDialog(bt.Ctx, common.DialogTypePrompt, "Name?", "Bob")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
		assert.Len(t, sp.Dialogs(), 3)
	})

	t.Run("handler", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := bt.SetContent(t, `<p>x</p>`)
		bt.Page.OnDialog(func(ctx context.Context, d *common.Dialog) error {
			return d.Accept(ctx, "Ada")
		})

		d, err := bt.Page.WaitForDialog(bt.Ctx, nil, func(ctx context.Context) error {
			res, err := sp.ShowDialog(ctx, common.DialogTypePrompt, "Name?", "Bob")
			if err != nil {
				return err
			}
			if !res.Accepted || res.PromptText != "Ada" {
				return errors.New("prompt was not answered")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, common.DialogTypePrompt, d.Type())
		assert.Equal(t, "Name?", d.Message())
		assert.Equal(t, "Bob", d.DefaultValue())
		assert.Same(t, bt.Page, d.Page())
		assert.ErrorIs(t, d.Dismiss(bt.Ctx), common.ErrDialogAlreadyHandled)

		bt.Page.OnDialog(nil)
		res, err := sp.ShowDialog(bt.Ctx, common.DialogTypeConfirm, "Sure?", "")
		require.NoError(t, err)
		assert.False(t, res.Accepted, "nil restores the default")
	})

	t.Run("unhandled_falls_back", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := bt.SetContent(t, `<p>x</p>`)
		bt.Page.OnDialog(func(context.Context, *common.Dialog) error {
			return errors.New("handler gave up")
		})

		res, err := sp.ShowDialog(bt.Ctx, common.DialogTypeAlert, "Hi", "")
		require.NoError(t, err)
		assert.True(t, res.Accepted)

		bt.Page.OnDialog(func(context.Context, *common.Dialog) error { return nil })
		res, err = sp.ShowDialog(bt.Ctx, common.DialogTypeConfirm, "Sure?", "")
		require.NoError(t, err)
		assert.False(t, res.Accepted)
	})

	t.Run("action_not_blocked", func(t *testing.T) {
		t.Parallel()

		bt := browsertest.New(t)
		sp := bt.SetContent(t, `<button>Delete</button>`)
		require.NoError(t, sp.OnAction("button", func(ctx context.Context, p *static.Page, _ common.InputAction) {
			_, _ = p.ShowDialog(ctx, common.DialogTypeConfirm, "Delete?", "")
		}))

		l, err := bt.Page.Locator("button", nil)
		require.NoError(t, err)
		require.NoError(t, l.Click(bt.Ctx, clickOpts(2*time.Second)))
		require.Eventually(t, func() bool { return len(sp.Dialogs()) == 1 }, 2*time.Second, 10*time.Millisecond)
		assert.False(t, sp.Dialogs()[0].Accepted)
	})
}

func TestPagePopup(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t)
	bt.Serve("/popup", `<title>Popup</title><p id="msg">hello</p>`)
	sp := appPage(t, bt)

	popup, err := bt.Page.WaitForPopup(bt.Ctx, nil, func(ctx context.Context) error {
		_, err := sp.OpenPopup(ctx, "/popup")
		return err
	})
	require.NoError(t, err)
	assert.Same(t, bt.Page, popup.Opener())
	assert.Len(t, bt.Context.Pages(), 2)

	require.NoError(t, popup.WaitForURL(bt.Ctx, "**/popup", nil))
	l, err := popup.Locator("#msg", nil)
	require.NoError(t, err)
	text, err := l.TextContent(bt.Ctx, readOpts(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	require.NoError(t, popup.Close(bt.Ctx))
	assert.True(t, popup.IsClosed())
	assert.Len(t, bt.Context.Pages(), 1)
}

func TestPageNavigation(t *testing.T) {
	t.Parallel()

	bt := browsertest.New(t, browsertest.WithContextOptions(common.BrowserContextOptions{
		BaseURL: browsertest.AppOrigin,
	}))
	bt.Serve("/", `<title>Home</title><a id="next" href="/next">next</a>`)
	bt.Serve("/next", `<title>Next</title>`)

	resp, err := bt.Page.Goto(bt.Ctx, "/", nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.EqualValues(t, http.StatusOK, resp.Status())
	assert.True(t, resp.Request().IsNavigationRequest())
	title, err := bt.Page.Title(bt.Ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	link, err := bt.Page.Locator("#next", nil)
	require.NoError(t, err)
	resp, err = bt.Page.WaitForNavigation(bt.Ctx, &common.PageWaitForNavigationOptions{URL: "**/next"},
		func(ctx context.Context) error { return link.Click(ctx, nil) })
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, browsertest.AppOrigin+"/next", resp.URL())
	assert.Equal(t, browsertest.AppOrigin+"/next", bt.Page.URL())

	require.NoError(t, bt.Page.WaitForURL(bt.Ctx, "**/next", nil), "already there")
	err = bt.Page.WaitForURL(bt.Ctx, "**/elsewhere", &common.WaitForEventOptions{Timeout: 100 * time.Millisecond})
	assert.ErrorIs(t, err, common.ErrEventWaitTimeout)

	t.Run("route_stubs_navigation", func(t *testing.T) {
		require.NoError(t, bt.Page.Route(bt.Ctx, "/stub", fulfillWith("<title>Stub</title>"), nil))
		resp, err := bt.Page.Goto(bt.Ctx, "/stub", nil)
		require.NoError(t, err)
		assert.EqualValues(t, http.StatusOK, resp.Status())
		title, err := bt.Page.Title(bt.Ctx)
		require.NoError(t, err)
		assert.Equal(t, "Stub", title)
	})
}

func TestContextStorageState(t *testing.T) {
	t.Parallel()

	persister := &storage.FilePersister{Fs: afero.NewMemMapFs()}
	bt := browsertest.New(t, browsertest.WithContextOptions(common.BrowserContextOptions{
		Persister: persister,
	}))
	bt.Mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "42", Path: "/"})
		_, _ = io.WriteString(w, `<title>Welcome</title>`)
	})
	bt.Mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		names := make([]string, 0, len(r.Cookies()))
		for _, c := range r.Cookies() {
			names = append(names, c.Name+"="+c.Value)
		}
		_, _ = io.WriteString(w, strings.Join(names, ";"))
	})

	_, err := bt.Page.Goto(bt.Ctx, browsertest.AppOrigin+"/login", nil)
	require.NoError(t, err)

	state, err := bt.Context.StorageState(bt.Ctx, &common.StorageStateOptions{Path: "/state/auth.json"})
	require.NoError(t, err)
	assert.Equal(t, "sid", gjson.GetBytes(state, "cookies.0.name").String())
	assert.Equal(t, "42", gjson.GetBytes(state, "cookies.0.value").String())

	saved, err := afero.ReadFile(persister.Fs, "/state/auth.json")
	require.NoError(t, err)
	assert.JSONEq(t, string(state), string(saved))

	restored, err := bt.Browser.NewContext(bt.Ctx, &common.BrowserContextOptions{
		StorageStatePath: "/state/auth.json",
		Persister:        persister,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = restored.Close(context.Background()) })

	p, err := restored.NewPage(bt.Ctx)
	require.NoError(t, err)
	resp, err := p.Goto(bt.Ctx, browsertest.AppOrigin+"/me", nil)
	require.NoError(t, err)
	body, err := resp.Text()
	require.NoError(t, err)
	assert.Equal(t, "sid=42", body)

	_, err = bt.Browser.NewContext(bt.Ctx, &common.BrowserContextOptions{StorageState: []byte(`[]`)})
	assert.Error(t, err, "state must be a JSON object")

	require.NoError(t, restored.Close(bt.Ctx))
	_, err = restored.StorageState(bt.Ctx, nil)
	assert.ErrorIs(t, err, common.ErrContextClosed)
}

func TestContextTracing(t *testing.T) {
	t.Parallel()

	persister := &storage.FilePersister{Fs: afero.NewMemMapFs()}
	bt := browsertest.New(t, browsertest.WithContextOptions(common.BrowserContextOptions{
		Persister:     persister,
		TraceMetadata: map[string]string{"suite": "checkout"},
	}))
	bt.Serve("/", `<title>Home</title><button>Buy</button>`)
	tracing := bt.Context.Tracing()

	err := tracing.Run(bt.Ctx,
		&common.TracingStartOptions{Name: "checkout", Title: "Checkout", Snapshots: true},
		&common.TracingStopOptions{Path: "/traces/checkout.zip"},
		func(ctx context.Context) error {
			assert.True(t, tracing.IsRecording())
			if _, err := bt.Page.Goto(ctx, browsertest.AppOrigin+"/", nil); err != nil {
				return err
			}
			l, err := bt.Page.Locator("button", nil)
			if err != nil {
				return err
			}
			return l.Click(ctx, nil)
		})
	require.NoError(t, err)
	assert.False(t, tracing.IsRecording())

	raw, err := afero.ReadFile(persister.Fs, "/traces/checkout.zip")
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	files := map[string][]byte{}
	var snapshots int
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		files[f.Name] = b
		if strings.HasPrefix(f.Name, "snapshots/") {
			snapshots++
		}
	}
	for _, name := range []string{"meta.json", "trace.json", "network.json", "events.json"} {
		require.Contains(t, files, name)
	}
	assert.Equal(t, "Checkout", gjson.GetBytes(files["meta.json"], "title").String())

	spans := gjson.GetBytes(files["trace.json"], "#.name").Array()
	var names []string
	for _, s := range spans {
		names = append(names, s.String())
	}
	assert.Contains(t, names, "page.goto")
	assert.Contains(t, names, "locator.click")
	click := gjson.GetBytes(files["trace.json"], `#(name=="locator.click")`)
	assert.Equal(t, "button", click.Get("attributes.locator\\.selector").String())
	assert.Equal(t, "checkout", click.Get("attributes.suite").String())

	assert.Contains(t, gjson.GetBytes(files["network.json"], "#.url").String(), browsertest.AppOrigin+"/")
	assert.Positive(t, snapshots)

	t.Run("stop_without_start", func(t *testing.T) {
		_, err := tracing.Stop(bt.Ctx, nil)
		assert.Error(t, err)
	})

	t.Run("stopped_on_error", func(t *testing.T) {
		boom := errors.New("boom")
		err := tracing.Run(bt.Ctx, nil, &common.TracingStopOptions{Path: "/traces/failed.zip"},
			func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, tracing.IsRecording())
		ok, err := afero.Exists(persister.Fs, "/traces/failed.zip")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
