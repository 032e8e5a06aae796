package common

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/log"
)

// recordingResolver remembers how a paused request was resolved.
type recordingResolver struct {
	mu       sync.Mutex
	calls    []string
	fulfill  FulfillOptions
	cont     ContinueOptions
	abortMsg network.ErrorReason
}

func (r *recordingResolver) Fulfill(_ context.Context, opts FulfillOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "fulfill")
	r.fulfill = opts
	return nil
}

func (r *recordingResolver) Continue(_ context.Context, opts ContinueOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "continue")
	r.cont = opts
	return nil
}

func (r *recordingResolver) Abort(_ context.Context, reason network.ErrorReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "abort")
	r.abortMsg = reason
	return nil
}

func testRequest(t *testing.T, url string) *Request {
	t.Helper()

	req, err := newRequest(nil, &RequestData{ID: "req-1", URL: url, Headers: map[string]string{"X-Test": "1"}})
	require.NoError(t, err)
	return req
}

func TestHandleRoute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	logger := log.NewNullLogger()
	tag := func(name string, seen *[]string, then func(ctx context.Context, r *Route) error) RouteHandler {
		return func(ctx context.Context, r *Route) error {
			*seen = append(*seen, name)
			if then == nil {
				return nil
			}
			return then(ctx, r)
		}
	}
	fulfill := func(ctx context.Context, r *Route) error {
		return r.Fulfill(ctx, &FulfillOptions{Body: []byte("stub")})
	}
	fallback := func(_ context.Context, r *Route) error { return r.Fallback() }

	t.Run("unmatched_passes_through", func(t *testing.T) {
		t.Parallel()

		var table routeTable
		var seen []string
		require.NoError(t, table.add("**/api/**", "", tag("api", &seen, fulfill), nil))

		res := &recordingResolver{}
		require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/index.html"), &table))
		assert.Empty(t, seen)
		assert.Equal(t, []string{"continue"}, res.calls)
		assert.Equal(t, ContinueOptions{}, res.cont)
	})

	t.Run("first_registered_wins", func(t *testing.T) {
		t.Parallel()

		var table routeTable
		var seen []string
		require.NoError(t, table.add("**/api/**", "", tag("first", &seen, fulfill), nil))
		require.NoError(t, table.add("**/*.json", "", tag("second", &seen, fulfill), nil))

		res := &recordingResolver{}
		require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/api/x.json"), &table))
		assert.Equal(t, []string{"first"}, seen)
		assert.Equal(t, []string{"fulfill"}, res.calls)
		assert.Equal(t, int64(200), res.fulfill.Status)
	})

	t.Run("page_before_context", func(t *testing.T) {
		t.Parallel()

		var page, bctx routeTable
		var seen []string
		require.NoError(t, bctx.add("**", "", tag("context", &seen, fulfill), nil))
		require.NoError(t, page.add("**", "", tag("page", &seen, fallback), nil))

		res := &recordingResolver{}
		require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/"), &page, &bctx))
		assert.Equal(t, []string{"page", "context"}, seen)
		assert.Equal(t, []string{"fulfill"}, res.calls)
	})

	t.Run("unresolved_handler_continues", func(t *testing.T) {
		t.Parallel()

		var table routeTable
		var seen []string
		require.NoError(t, table.add("**", "", tag("observe", &seen, nil), nil))

		res := &recordingResolver{}
		require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/"), &table))
		assert.Equal(t, []string{"continue"}, res.calls)
	})

	t.Run("handler_error_aborts", func(t *testing.T) {
		t.Parallel()

		var table routeTable
		require.NoError(t, table.add("**", "", func(context.Context, *Route) error {
			return errors.New("boom")
		}, nil))

		res := &recordingResolver{}
		require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/"), &table))
		assert.Equal(t, []string{"abort"}, res.calls)
		assert.Equal(t, network.ErrorReasonFailed, res.abortMsg)
	})

	t.Run("times", func(t *testing.T) {
		t.Parallel()

		var table routeTable
		var seen []string
		require.NoError(t, table.add("**", "", tag("once", &seen, fulfill), &RouteOptions{Times: 1}))

		for range 2 {
			res := &recordingResolver{}
			require.NoError(t, handleRoute(ctx, logger, res, testRequest(t, "http://a.test/"), &table))
		}
		assert.Equal(t, []string{"once"}, seen)
		assert.True(t, table.empty())
	})
}

func TestRouteResolvedOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res := &recordingResolver{}
	r := newRoute(log.NewNullLogger(), res, testRequest(t, "http://a.test/"))

	require.NoError(t, r.Continue(ctx, &ContinueOptions{Method: "POST"}))
	assert.ErrorIs(t, r.Fulfill(ctx, nil), ErrRouteAlreadyHandled)
	assert.ErrorIs(t, r.Abort(ctx, ""), ErrRouteAlreadyHandled)
	assert.ErrorIs(t, r.Fallback(), ErrRouteAlreadyHandled)
	assert.Equal(t, []string{"continue"}, res.calls)
	assert.Equal(t, "POST", res.cont.Method)

	r = newRoute(log.NewNullLogger(), res, testRequest(t, "http://a.test/"))
	assert.Error(t, r.Abort(ctx, "nosuchcode"))
	require.NoError(t, r.Abort(ctx, "timedout"))
	assert.Equal(t, network.ErrorReasonTimedOut, res.abortMsg)
}

func TestRouteTableRemove(t *testing.T) {
	t.Parallel()

	var table routeTable
	noop := func(context.Context, *Route) error { return nil }
	require.NoError(t, table.add("**/a", "", noop, nil))
	require.NoError(t, table.add("**/b", "", noop, nil))
	require.NoError(t, table.add("**/a", "", noop, nil))

	assert.False(t, table.remove("**/a"))
	assert.Len(t, table.matching("http://x.test/b"), 1)
	assert.Empty(t, table.matching("http://x.test/a"))
	assert.True(t, table.remove("**/b"))

	assert.Error(t, table.add("**", "", nil, nil))
	assert.Error(t, table.add(3.14, "", noop, nil))
}

func TestRequestAccessors(t *testing.T) {
	t.Parallel()

	req := testRequest(t, "http://a.test/x?q=1")
	assert.Equal(t, "http://a.test/x?q=1", req.URL())
	assert.Equal(t, "GET", req.Method())
	assert.Equal(t, ResourceTypeOther, req.ResourceType())
	v, ok := req.HeaderValue("x-test")
	assert.True(t, ok)
	assert.Equal(t, "1", v)
	assert.Nil(t, req.Response())

	_, err := newRequest(nil, &RequestData{URL: "http://a b/%zz"})
	assert.Error(t, err)
}
