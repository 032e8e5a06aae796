package static

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/autowait/common"
)

func TestNavigateEvents(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<title>Home</title><a href="/next">next</a>`))
	mux.Handle("/next", htmlHandler(`<title>Next</title>`))
	c, p := newTestPage(t, WithHandler(testOrigin, mux))
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, testOrigin+"/"))

	var types []common.BackendEventType
	for len(types) < 4 {
		ev := <-c.Events()
		types = append(types, ev.Type)
		if ev.Type == common.BackendRequest {
			assert.True(t, ev.Request.IsNavigation)
			assert.Equal(t, "document", ev.Request.ResourceType)
		}
	}
	assert.Equal(t, []common.BackendEventType{
		common.BackendRequest, common.BackendResponse, common.BackendRequestSettled, common.BackendNavigated,
	}, types)
	assert.Equal(t, "Home", snapshot(t, p).Title())

	require.NoError(t, dispatch(t, p, "a", common.InputAction{Kind: common.InputClick}))
	ev := nextEvent(t, c, common.BackendNavigated)
	assert.Equal(t, testOrigin+"/next", ev.URL)
	assert.Equal(t, "Next", snapshot(t, p).Title())
}

func TestNavigateSpecialURLs(t *testing.T) {
	t.Parallel()

	c, p := newTestPage(t)
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, "data:text/html,<title>Data%20page</title>"))
	assert.Equal(t, "Data page", snapshot(t, p).Title())
	assert.Equal(t, common.BackendNavigated, nextEvent(t, c, common.BackendNavigated).Type)

	require.NoError(t, p.Navigate(ctx, "data:text/html;base64,PHRpdGxlPkI2NDwvdGl0bGU+"))
	assert.Equal(t, "B64", snapshot(t, p).Title())

	require.NoError(t, p.Navigate(ctx, "about:blank"))
	assert.Equal(t, "about:blank", p.URL())
}

func TestFormSubmit(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<form action="/search" method="post">
		<input name="q"><input type="checkbox" name="c" checked><button>Go</button></form>`))
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		got <- r.Method + " " + r.PostForm.Encode()
		_, _ = w.Write([]byte(`<title>Results</title>`))
	})
	c, p := newTestPage(t, WithHandler(testOrigin, mux))

	require.NoError(t, p.Navigate(context.Background(), testOrigin+"/"))
	require.NoError(t, dispatch(t, p, "input[name=q]", common.InputAction{Kind: common.InputFill, Text: "go lang"}))
	require.NoError(t, dispatch(t, p, "input[name=q]", common.InputAction{Kind: common.InputPress, Key: "Enter"}))

	assert.Equal(t, "POST c=on&q=go+lang", <-got)
	for {
		if ev := nextEvent(t, c, common.BackendNavigated); strings.HasSuffix(ev.URL, "/search") {
			break
		}
	}
}

func TestCookiesAndStorageState(t *testing.T) {
	t.Parallel()

	seen := make(chan string, 2)
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "42", Path: "/"})
		_, _ = w.Write([]byte(`ok`))
	})
	mux.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		var names []string
		for _, c := range r.Cookies() {
			names = append(names, c.Name+"="+c.Value)
		}
		seen <- strings.Join(names, ";")
		_, _ = w.Write([]byte(`me`))
	})

	state := `{"cookies":[{"name":"pre","value":"1","domain":"app.test","path":"/"}],` +
		`"origins":[{"origin":"http://app.test","localStorage":[{"name":"k","value":"v"}]}]}`
	c := newTestContext(t, common.ContextBackendOptions{StorageState: []byte(state)}, WithHandler(testOrigin, mux))
	pb, err := c.NewPage(context.Background())
	require.NoError(t, err)
	p := pb.(*Page) //nolint:forcetypeassert

	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, testOrigin+"/login"))
	_, err = p.Fetch(ctx, http.MethodGet, "/me", nil)
	require.NoError(t, err)
	assert.Equal(t, "pre=1;sid=42", <-seen)

	out, err := c.StorageState(ctx)
	require.NoError(t, err)
	names := gjson.GetBytes(out, "cookies.#.name").Array()
	require.Len(t, names, 2)
	assert.Equal(t, "sid", names[1].String())
	assert.Equal(t, "v", gjson.GetBytes(out, "origins.0.localStorage.0.value").String())
}

func TestInterception(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<title>Real</title>`))
	c, p := newTestPage(t, WithHandler(testOrigin, mux))
	ctx := context.Background()
	require.NoError(t, c.SetRequestInterception(ctx, true))

	navigate := func(u string) <-chan error {
		done := make(chan error, 1)
		go func() { done <- p.Navigate(ctx, u) }()
		return done
	}

	t.Run("fulfill", func(t *testing.T) {
		done := navigate(testOrigin + "/")
		ev := nextEvent(t, c, common.BackendRequestPaused)
		require.NoError(t, ev.Route.Fulfill(ctx, common.FulfillOptions{Body: []byte(`<title>Stub</title>`)}))
		assert.Error(t, ev.Route.Continue(ctx, common.ContinueOptions{}), "a route is resolved once")
		require.NoError(t, <-done)
		assert.Equal(t, "Stub", snapshot(t, p).Title())
	})
	t.Run("continue", func(t *testing.T) {
		done := navigate(testOrigin + "/")
		ev := nextEvent(t, c, common.BackendRequestPaused)
		require.NoError(t, ev.Route.Continue(ctx, common.ContinueOptions{}))
		require.NoError(t, <-done)
		assert.Equal(t, "Real", snapshot(t, p).Title())
	})
	t.Run("abort", func(t *testing.T) {
		done := navigate(testOrigin + "/")
		ev := nextEvent(t, c, common.BackendRequestPaused)
		require.NoError(t, ev.Route.Abort(ctx, network.ErrorReasonConnectionRefused))
		assert.ErrorIs(t, <-done, ErrAborted)
		failed := nextEvent(t, c, common.BackendRequestFailed)
		assert.Equal(t, "net::ERR_CONNECTION_REFUSED", failed.Failure)
	})
}

func TestTransportWithHTTPBin(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(httpbin.New().Handler())
	t.Cleanup(srv.Close)

	c, p := newTestPage(t, WithTransport(srv.Client().Transport))
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, srv.URL+"/html"))
	ids, err := snapshot(t, p).QueryCSS(snapshot(t, p).Root(), "h1")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	resp, err := p.Fetch(ctx, http.MethodGet, "/status/404", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)

	ev := nextEvent(t, c, common.BackendResponse)
	assert.Equal(t, http.StatusOK, ev.Response.Status)
}

func TestDialog(t *testing.T) {
	t.Parallel()

	c, p := newTestPage(t)
	ctx := context.Background()

	type result struct {
		res DialogResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := p.ShowDialog(ctx, cdppage.DialogTypePrompt, "Name?", "anon")
		done <- result{res, err}
	}()

	ev := nextEvent(t, c, common.BackendDialog)
	assert.Equal(t, "Name?", ev.Dialog.Message)
	assert.Equal(t, "anon", ev.Dialog.DefaultValue)
	require.NoError(t, ev.Resolver.Accept(ctx, "bob"))
	assert.Error(t, ev.Resolver.Dismiss(ctx))

	r := <-done
	require.NoError(t, r.err)
	assert.True(t, r.res.Accepted)
	assert.Equal(t, "bob", r.res.PromptText)
	assert.Len(t, p.Dialogs(), 1)
}

func TestPopupAndClose(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<a href="/pop" target="_blank">pop</a>`))
	mux.Handle("/pop", htmlHandler(`<title>Popup</title>`))
	c, p := newTestPage(t, WithHandler(testOrigin, mux))
	ctx := context.Background()

	require.NoError(t, p.Navigate(ctx, testOrigin+"/"))
	require.NoError(t, dispatch(t, p, "a", common.InputAction{Kind: common.InputClick}))

	ev := nextEvent(t, c, common.BackendPageCreated)
	assert.Equal(t, p.ID(), ev.OpenerID)
	popup, ok := ev.Page.(*Page)
	require.True(t, ok)
	assert.Same(t, p, popup.Opener())
	for {
		if nav := nextEvent(t, c, common.BackendNavigated); nav.PageID == popup.ID() {
			break
		}
	}

	require.NoError(t, popup.Close(ctx))
	assert.Equal(t, popup.ID(), nextEvent(t, c, common.BackendPageClosed).PageID)
	_, err := popup.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrPageClosed)

	require.NoError(t, c.Close(ctx))
	for range c.Events() { //nolint:revive
	}
	_, err = c.NewPage(ctx)
	assert.True(t, errors.Is(err, ErrPageClosed))
}

func TestFetchWithoutBody(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<title>Home</title>`))
	mux.HandleFunc("/api/peek", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		_, _ = w.Write([]byte(r.Method + ":" + string(body)))
	})
	_, p := newTestPage(t, WithHandler(testOrigin, mux))
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, testOrigin+"/"))

	resp, err := p.Fetch(ctx, http.MethodGet, "/api/peek", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "GET:", string(resp.Body))

	resp, err = p.Fetch(ctx, http.MethodPost, "/api/peek", []byte("x=1"))
	require.NoError(t, err)
	assert.Equal(t, "POST:x=1", string(resp.Body))
}

func TestOpenPopupRelativeURL(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.Handle("/", htmlHandler(`<title>Home</title>`))
	mux.Handle("/popup", htmlHandler(`<title>Popup</title>`))
	c, p := newTestPage(t, WithHandler(testOrigin, mux))
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, testOrigin+"/"))

	popup, err := p.OpenPopup(ctx, "/popup")
	require.NoError(t, err)
	for {
		if nav := nextEvent(t, c, common.BackendNavigated); nav.PageID == popup.ID() {
			assert.Equal(t, testOrigin+"/popup", nav.URL)
			break
		}
	}
	assert.Equal(t, testOrigin+"/popup", popup.URL())
	assert.Equal(t, "Popup", snapshot(t, popup).Title())
}

func TestErrorText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "net::ERR_FAILED", errorText(""))
	assert.Equal(t, "net::ERR_ABORTED", errorText(network.ErrorReasonAborted))
	assert.Equal(t, "net::ERR_NAME_NOT_RESOLVED", errorText(network.ErrorReasonNameNotResolved))
}
