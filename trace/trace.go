// Package trace provides tracing instrumentation for locator actions, page
// navigations and page events.
package trace

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "autowait"

// liveSpan is the navigation span of a page. API calls and events that
// happen on the page are recorded as its children.
type liveSpan struct {
	ctx  context.Context
	span trace.Span
}

// Tracer generates spans for API calls, navigations and page events. Its
// provider can be swapped at runtime, which is how tracing is started and
// stopped on a live browser context.
type Tracer struct {
	mu       sync.RWMutex
	tracer   trace.Tracer
	metadata []attribute.KeyValue

	liveSpans map[string]*liveSpan
}

// NewTracer creates a new Tracer from the given TracerProvider. A nil
// provider yields a Tracer that records nothing.
func NewTracer(tp trace.TracerProvider, metadata map[string]string, options ...trace.TracerOption) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{
		tracer:    tp.Tracer(tracerName, options...),
		metadata:  buildMetadataAttributes(metadata),
		liveSpans: make(map[string]*liveSpan),
	}
}

// SetProvider replaces the underlying provider. Live navigation spans of the
// previous provider are ended.
func (t *Tracer) SetProvider(tp trace.TracerProvider) {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ls := range t.liveSpans {
		ls.span.End()
		delete(t.liveSpans, id)
	}
	t.tracer = tp.Tracer(tracerName)
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.start(ctx, spanName, opts...)
}

func (t *Tracer) start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	return t.tracer.Start(ctx, spanName, opts...)
}

// TraceAPICall starts a span for an API call on the given page. The span is
// a child of the page's navigation span if there is one. It is the caller's
// responsibility to end the span.
func (t *Tracer) TraceAPICall(
	ctx context.Context, pageID string, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ls := t.liveSpans[pageID]; ls != nil {
		return t.start(ls.ctx, spanName, opts...)
	}
	return t.start(ctx, spanName, opts...)
}

// TraceNavigation records a new navigation span for pageID, ending the
// previous one. The span stays open until the next navigation or until the
// provider is replaced.
func (t *Tracer) TraceNavigation(
	ctx context.Context, pageID string, url string,
) (context.Context, trace.Span) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ls := t.liveSpans[pageID]
	if ls != nil {
		ls.span.End()
	} else {
		ls = &liveSpan{}
	}
	ls.ctx, ls.span = t.start(ctx, "navigation", trace.WithAttributes(attribute.String("navigation.url", url)))
	t.liveSpans[pageID] = ls

	return ls.ctx, ls.span
}

// TraceEvent creates a span for a page event under the page's navigation
// span. Events on pages that never navigated get a NoopSpan.
func (t *Tracer) TraceEvent(
	ctx context.Context, pageID string, eventName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ls := t.liveSpans[pageID]
	if ls == nil {
		return ctx, NoopSpan{}
	}
	return t.start(ls.ctx, eventName, opts...)
}

// EndPage ends the navigation span of a closed page.
func (t *Tracer) EndPage(pageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ls := t.liveSpans[pageID]; ls != nil {
		ls.span.End()
		delete(t.liveSpans, pageID)
	}
}

// RecordErrorf formats an error, records it on the span and returns it.
func RecordErrorf(span trace.Span, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)

	return err
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	meta := make([]attribute.KeyValue, 0, len(metadata))
	for mk, mv := range metadata {
		meta = append(meta, attribute.String(mk, mv))
	}

	return meta
}

// NoopSpan represents a noop span.
type NoopSpan struct {
	trace.Span
}

// SpanContext returns a void span context.
func (NoopSpan) SpanContext() trace.SpanContext { return trace.SpanContext{} }

// IsRecording returns false.
func (NoopSpan) IsRecording() bool { return false }

// SetStatus is noop.
func (NoopSpan) SetStatus(codes.Code, string) {}

// SetAttributes is noop.
func (NoopSpan) SetAttributes(...attribute.KeyValue) {}

// End is noop.
func (NoopSpan) End(...trace.SpanEndOption) {}

// RecordError is noop.
func (NoopSpan) RecordError(error, ...trace.EventOption) {}

// AddEvent is noop.
func (NoopSpan) AddEvent(string, ...trace.EventOption) {}

// SetName is noop.
func (NoopSpan) SetName(string) {}

// TracerProvider returns a noop tracer provider.
func (NoopSpan) TracerProvider() trace.TracerProvider { return noop.NewTracerProvider() }
