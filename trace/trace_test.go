package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracer(tp, map[string]string{"run": "smoke"}), rec
}

func TestTracerAPICallUnderNavigation(t *testing.T) {
	t.Parallel()

	tr, rec := newRecordingTracer(t)
	ctx := context.Background()

	_, nav := tr.TraceNavigation(ctx, "page-1", "https://example.com/")
	_, call := tr.TraceAPICall(ctx, "page-1", "locator.click")
	call.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "locator.click", ended[0].Name())
	assert.Equal(t, nav.SpanContext().SpanID(), ended[0].Parent().SpanID())
	assert.Contains(t, ended[0].Attributes(), attribute.String("run", "smoke"))

	tr.EndPage("page-1")
	require.Len(t, rec.Ended(), 2)
	assert.Equal(t, "navigation", rec.Ended()[1].Name())
}

func TestTracerEventWithoutNavigationIsNoop(t *testing.T) {
	t.Parallel()

	tr, rec := newRecordingTracer(t)
	_, span := tr.TraceEvent(context.Background(), "page-2", "dialog")
	assert.IsType(t, NoopSpan{}, span)
	span.End()
	assert.Empty(t, rec.Ended())
}

func TestTracerSetProvider(t *testing.T) {
	t.Parallel()

	tr := NewTracer(nil, nil)
	_, span := tr.TraceAPICall(context.Background(), "p", "locator.fill")
	assert.False(t, span.IsRecording())

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	tr.SetProvider(tp)
	_, span = tr.TraceAPICall(context.Background(), "p", "locator.fill")
	assert.True(t, span.IsRecording())

	err := RecordErrorf(span, "filling %q: %w", "#q", errors.New("timeout"))
	span.End()
	require.EqualError(t, err, `filling "#q": timeout`)
	require.Len(t, rec.Ended(), 1)
	assert.Equal(t, codes.Error, rec.Ended()[0].Status().Code)

	tr.SetProvider(nil)
	_, span = tr.TraceAPICall(context.Background(), "p", "locator.fill")
	assert.False(t, span.IsRecording())
}
