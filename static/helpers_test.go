package static

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/autowait/common"
)

const testOrigin = "http://app.test"

func newTestContext(t *testing.T, opts common.ContextBackendOptions, bopts ...Option) *Context {
	t.Helper()

	b := NewBrowser(bopts...)
	bc, err := b.NewContext(context.Background(), opts)
	require.NoError(t, err)
	c, ok := bc.(*Context)
	require.True(t, ok)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func newTestPage(t *testing.T, bopts ...Option) (*Context, *Page) {
	t.Helper()

	c := newTestContext(t, common.ContextBackendOptions{}, bopts...)
	pb, err := c.NewPage(context.Background())
	require.NoError(t, err)
	p, ok := pb.(*Page)
	require.True(t, ok)
	return c, p
}

func setContent(t *testing.T, p *Page, markup string) common.Document {
	t.Helper()

	require.NoError(t, p.SetContent(context.Background(), markup))
	return snapshot(t, p)
}

func snapshot(t *testing.T, p *Page) common.Document {
	t.Helper()

	doc, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	return doc
}

func queryOne(t *testing.T, doc common.Document, sel string) common.NodeID {
	t.Helper()

	ids, err := doc.QueryCSS(doc.Root(), sel)
	require.NoError(t, err)
	require.Len(t, ids, 1, "selector %q", sel)
	return ids[0]
}

func nodeOf(t *testing.T, p *Page, sel string) common.NodeInfo {
	t.Helper()

	doc := snapshot(t, p)
	n, ok := doc.Node(queryOne(t, doc, sel))
	require.True(t, ok)
	return n
}

func dispatch(t *testing.T, p *Page, sel string, action common.InputAction) error {
	t.Helper()

	doc := snapshot(t, p)
	return p.Dispatch(context.Background(), queryOne(t, doc, sel), action)
}

// nextEvent skips events until one of type typ arrives.
func nextEvent(t *testing.T, c *Context, typ common.BackendEventType) common.BackendEvent {
	t.Helper()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "event stream closed while waiting for %s", typ)
			if ev.Type == typ {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func htmlHandler(markup string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(markup))
	}
}
