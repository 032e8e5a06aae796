package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/storage"
	"github.com/liuxd6825/autowait/trace"
)

// TracingStartOptions are options for Tracing.Start.
type TracingStartOptions struct {
	// Name is the file name of the archive, without extension.
	Name  string
	Title string
	// Snapshots records the page HTML after every action.
	Snapshots bool
}

// TracingStopOptions are options for Tracing.Stop.
type TracingStopOptions struct {
	// Path of the archive. Defaults to <TracesDir>/<Name>.zip.
	Path string
}

type traceSpan struct {
	Name       string            `json:"name"`
	TraceID    string            `json:"traceId"`
	SpanID     string            `json:"spanId"`
	ParentID   string            `json:"parentId,omitempty"`
	Start      time.Time         `json:"start"`
	End        time.Time         `json:"end"`
	DurationMs float64           `json:"durationMs"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type traceNetworkEntry struct {
	Time    time.Time `json:"time"`
	PageID  string    `json:"pageId"`
	Kind    string    `json:"kind"`
	Method  string    `json:"method,omitempty"`
	URL     string    `json:"url"`
	Status  int64     `json:"status,omitempty"`
	Failure string    `json:"failure,omitempty"`
}

type traceEventEntry struct {
	Time    time.Time `json:"time"`
	PageID  string    `json:"pageId"`
	Type    string    `json:"type"`
	Details string    `json:"details,omitempty"`
}

type traceSnapshot struct {
	name string
	html string
}

type traceMeta struct {
	Title   string    `json:"title,omitempty"`
	Started time.Time `json:"started"`
	Stopped time.Time `json:"stopped"`
}

// Tracing records the API calls, network traffic and events of a browser
// context between Start and Stop, and writes them to a zip archive.
type Tracing struct {
	logger    *log.Logger
	tracer    *trace.Tracer
	persister storage.Persister
	dir       string

	mu        sync.Mutex
	recording bool
	opts      TracingStartOptions
	started   time.Time
	provider  *sdktrace.TracerProvider
	recorder  *tracetest.SpanRecorder
	network   []traceNetworkEntry
	events    []traceEventEntry
	snapshots []traceSnapshot
}

func newTracing(logger *log.Logger, tracer *trace.Tracer, persister storage.Persister, dir string) *Tracing {
	if dir == "" {
		dir = DefaultTracesDir
	}
	return &Tracing{
		logger:    logger,
		tracer:    tracer,
		persister: persister,
		dir:       dir,
	}
}

// Start starts recording.
func (t *Tracing) Start(_ context.Context, opts *TracingStartOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.recording {
		return errors.New("tracing has already been started")
	}
	if opts == nil {
		opts = &TracingStartOptions{}
	}
	t.logger.Debugf("Tracing:Start", "opts:%+v", opts)

	t.opts = *opts
	if t.opts.Name == "" {
		t.opts.Name = "trace-" + uuid.NewString()
	}
	t.recorder = tracetest.NewSpanRecorder()
	t.provider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(t.recorder))
	t.tracer.SetProvider(t.provider)
	t.started = time.Now()
	t.recording = true
	t.network, t.events, t.snapshots = nil, nil, nil

	return nil
}

// Stop stops recording and persists the archive. It returns the path the
// archive was written to.
func (t *Tracing) Stop(ctx context.Context, opts *TracingStopOptions) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.recording {
		return "", errors.New("tracing has not been started")
	}
	t.recording = false
	t.logger.Debugf("Tracing:Stop", "name:%q", t.opts.Name)

	// Swapping the provider ends the live navigation spans, so they're
	// recorded before the provider shuts down.
	t.tracer.SetProvider(nil)
	spans := t.recorder.Ended()
	if err := t.provider.Shutdown(ctx); err != nil {
		t.logger.Warnf("Tracing:Stop", "shutting down tracer provider: %v", err)
	}

	path := filepath.Join(t.dir, t.opts.Name+".zip")
	if opts != nil && opts.Path != "" {
		path = opts.Path
	}

	archive, err := t.archive(spans, time.Now())
	if err != nil {
		return "", fmt.Errorf("building trace archive: %w", err)
	}
	if err := t.persister.Persist(ctx, path, bytes.NewReader(archive)); err != nil {
		return "", fmt.Errorf("persisting trace archive to %q: %w", path, err)
	}

	return path, nil
}

// Run starts tracing, calls fn and always stops tracing afterwards, even if
// fn fails or panics.
func (t *Tracing) Run(
	ctx context.Context, start *TracingStartOptions, stop *TracingStopOptions, fn func(context.Context) error,
) (err error) {
	if err := t.Start(ctx, start); err != nil {
		return err
	}
	defer func() {
		if _, serr := t.Stop(ctx, stop); serr != nil {
			err = errors.Join(err, serr)
		}
	}()

	return fn(ctx)
}

// IsRecording reports whether tracing is started.
func (t *Tracing) IsRecording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording
}

func (t *Tracing) recordNetwork(e traceNetworkEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.recording {
		return
	}
	e.Time = time.Now()
	t.network = append(t.network, e)
}

func (t *Tracing) recordEvent(pageID, typ, details string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.recording {
		return
	}
	t.events = append(t.events, traceEventEntry{Time: time.Now(), PageID: pageID, Type: typ, Details: details})
}

func (t *Tracing) wantsSnapshots() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording && t.opts.Snapshots
}

func (t *Tracing) recordSnapshot(name, html string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.recording || !t.opts.Snapshots {
		return
	}
	t.snapshots = append(t.snapshots, traceSnapshot{
		name: fmt.Sprintf("%04d-%s.html", len(t.snapshots), name),
		html: html,
	})
}

func (t *Tracing) archive(spans []sdktrace.ReadOnlySpan, stopped time.Time) ([]byte, error) {
	entries := make([]traceSpan, 0, len(spans))
	for _, s := range spans {
		e := traceSpan{
			Name:       s.Name(),
			TraceID:    s.SpanContext().TraceID().String(),
			SpanID:     s.SpanContext().SpanID().String(),
			Start:      s.StartTime(),
			End:        s.EndTime(),
			DurationMs: float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
			Error:      s.Status().Description,
		}
		if p := s.Parent(); p.IsValid() {
			e.ParentID = p.SpanID().String()
		}
		if attrs := s.Attributes(); len(attrs) > 0 {
			e.Attributes = make(map[string]string, len(attrs))
			for _, a := range attrs {
				e.Attributes[string(a.Key)] = a.Value.Emit()
			}
		}
		entries = append(entries, e)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := []struct {
		name string
		v    any
	}{
		{"meta.json", traceMeta{Title: t.opts.Title, Started: t.started, Stopped: stopped}},
		{"trace.json", entries},
		{"network.json", nonNil(t.network)},
		{"events.json", nonNil(t.events)},
	}
	for _, f := range files {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(f.v); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", f.name, err)
		}
	}
	for _, s := range t.snapshots {
		w, err := zw.Create("snapshots/" + s.name)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		if _, err := w.Write([]byte(s.html)); err != nil {
			return nil, err //nolint:wrapcheck
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err //nolint:wrapcheck
	}

	return buf.Bytes(), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
