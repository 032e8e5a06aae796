package scenario

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liuxd6825/autowait/common"
	"github.com/liuxd6825/autowait/env"
	"github.com/liuxd6825/autowait/errext"
	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/static"
	"github.com/liuxd6825/autowait/storage"
)

// Options configure Run.
type Options struct {
	Logger *log.Logger
	// Lookup reads the AUTOWAIT_* engine options. Defaults to the process
	// environment.
	Lookup env.LookupFunc
	// Static are extra options of the in-memory backend.
	Static []static.Option
	// Persister stores traces and storage state.
	Persister storage.Persister
}

// StepError is the failure of a step.
type StepError struct {
	Path  string
	Index int
	Line  int
	Type  StepType
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s:%d: step %d (%s): %v", e.Path, e.Line, e.Index+1, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrEvalFalse is returned when an eval predicate isn't truthy.
var ErrEvalFalse = errors.New("eval is false")

type runner struct {
	sc             *Scenario
	logger         *log.Logger
	page           *common.Page
	bctx           *common.BrowserContext
	eval           *Evaluator
	defaultTimeout time.Duration
	tracePaths     []string
}

// Run executes the steps of sc on a new page. The steps after a failed one
// are skipped. The returned error is the first step failure and carries an
// exit code.
func Run(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNullLogger()
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = env.Lookup
	}

	engineOpts, err := common.ConsolidateEngineOptions(lookup, sc.Engine)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}

	sopts := []static.Option{static.WithLogger(logger)}
	if len(sc.Pages) > 0 {
		sopts = append(sopts, static.WithHandler(sc.Origin, pagesHandler(sc.Pages)))
	}
	b := common.NewBrowser(static.NewBrowser(append(sopts, opts.Static...)...), engineOpts, logger)
	defer func() {
		if err := b.Close(context.Background()); err != nil {
			logger.Warnf("Scenario:Run", "closing browser: %v", err)
		}
	}()

	bctx, err := b.NewContext(ctx, &common.BrowserContextOptions{
		BaseURL:          sc.BaseURL,
		StorageStatePath: sc.StorageStatePath,
		Persister:        opts.Persister,
		TraceMetadata:    map[string]string{"scenario": sc.Name},
	})
	if err != nil {
		return nil, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	r := &runner{
		sc:             sc,
		logger:         logger,
		page:           page,
		bctx:           bctx,
		eval:           NewEvaluator(logger),
		defaultTimeout: engineOpts.DefaultTimeout.TimeDuration(),
	}
	return r.run(ctx)
}

func (r *runner) run(ctx context.Context) (*Result, error) {
	res := &Result{Name: r.sc.Name, Path: r.sc.Path}
	start := time.Now()

	var firstErr error
	for i, s := range r.sc.Steps {
		if firstErr != nil {
			res.Steps = append(res.Steps, StepResult{
				Index: i, Type: s.Type(), Line: s.Base().Line, Status: StatusSkipped,
			})
			continue
		}
		sr, err := r.runStep(ctx, i, s)
		if err != nil {
			firstErr = &StepError{Path: r.sc.Path, Index: i, Line: sr.Line, Type: sr.Type, Err: err}
		}
		res.Steps = append(res.Steps, sr)
	}

	if r.bctx.Tracing().IsRecording() {
		p, err := r.bctx.Tracing().Stop(ctx, nil)
		if err != nil {
			r.logger.Warnf("Scenario:Run", "stopping trace: %v", err)
		} else {
			r.tracePaths = append(r.tracePaths, p)
		}
	}

	res.TracePaths = r.tracePaths
	res.Duration = time.Since(start)
	res.tally()
	return res, errext.WithExitCodeIfNone(firstErr, exitcodes.ScenarioFailed)
}

func (r *runner) runStep(ctx context.Context, i int, s Step) (StepResult, error) {
	base := s.Base()
	sr := StepResult{Index: i, Type: s.Type(), Line: base.Line}
	r.logger.Debugf("Scenario:Step", "index:%d type:%s line:%d", i, sr.Type, sr.Line)

	start := time.Now()
	value, err := r.exec(ctx, s)
	if err == nil {
		value["url"] = r.page.URL()
		err = r.check(base, value)
	}
	sr.Duration = time.Since(start)
	sr.Value = value

	if err != nil {
		sr.Status, sr.Error = StatusFailed, err.Error()
		r.logger.Debugf("Scenario:Step", "index:%d type:%s err:%v", i, sr.Type, err)
		return sr, err
	}
	sr.Status = StatusPassed
	return sr, nil
}

func (r *runner) check(base *BaseStep, value map[string]any) error {
	if base.Eval != "" {
		ok, err := r.eval.Check(base.Eval, value)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrEvalFalse, base.Eval)
		}
	}
	if base.As != "" {
		return r.eval.Set(base.As, value)
	}
	return nil
}

func (r *runner) locator(selector string) (*common.Locator, error) {
	l, err := r.page.Locator(selector, nil)
	if err != nil {
		return nil, fmt.Errorf("creating locator: %w", err)
	}
	return l, nil
}

//nolint:cyclop,funlen
func (r *runner) exec(ctx context.Context, s Step) (map[string]any, error) {
	value := map[string]any{}
	timeout := s.Base().Timeout.TimeDuration()
	base := common.LocatorBaseOptions{Timeout: timeout}

	switch s := s.(type) {
	case *GotoStep:
		resp, err := r.page.Goto(ctx, s.URL, &common.PageGotoOptions{Timeout: timeout})
		if err != nil {
			return value, err //nolint:wrapcheck
		}
		value["response"] = responseValue(resp)

	case *SetContentStep:
		return value, r.page.SetContent(ctx, s.HTML) //nolint:wrapcheck

	case *ClickStep:
		l, err := r.locator(s.Selector)
		if err != nil {
			return value, err
		}
		base.Force = s.Force
		return value, l.Click(ctx, &common.LocatorClickOptions{ //nolint:wrapcheck
			LocatorBasePointerOptions: common.LocatorBasePointerOptions{LocatorBaseOptions: base, Trial: s.Trial},
		})

	case *FillStep:
		l, err := r.locator(s.Selector)
		if err != nil {
			return value, err
		}
		return value, l.Fill(ctx, s.Value, &common.LocatorFillOptions{LocatorBaseOptions: base}) //nolint:wrapcheck

	case *PressStep:
		l, err := r.locator(s.Selector)
		if err != nil {
			return value, err
		}
		return value, l.Press(ctx, s.Key, &common.LocatorPressOptions{LocatorBaseOptions: base}) //nolint:wrapcheck

	case *CheckStep:
		l, err := r.locator(s.Selector)
		if err != nil {
			return value, err
		}
		checked := s.Checked == nil || *s.Checked
		value["checked"] = checked
		return value, l.SetChecked(ctx, checked, &common.LocatorCheckOptions{ //nolint:wrapcheck
			LocatorBasePointerOptions: common.LocatorBasePointerOptions{LocatorBaseOptions: base},
		})

	case *SelectStep:
		l, err := r.locator(s.Selector)
		if err != nil {
			return value, err
		}
		var options []common.SelectOption
		for _, v := range s.Values {
			options = append(options, common.SelectOption{Value: &v})
		}
		for _, lbl := range s.Labels {
			options = append(options, common.SelectOption{Label: &lbl})
		}
		selected, err := l.SelectOption(ctx, options, &common.LocatorSelectOptionOptions{LocatorBaseOptions: base})
		if err != nil {
			return value, err //nolint:wrapcheck
		}
		value["selected"] = selected

	case *ExpectStep:
		return value, r.expect(ctx, s, timeout)

	case *WaitForResponseStep:
		return r.waitForResponse(ctx, s, timeout)

	case *RouteStep:
		return value, r.route(ctx, s)

	case *DialogStep:
		r.page.OnDialog(dialogHandler(s))

	case *TraceStep:
		return r.trace(ctx, s)

	default:
		return value, fmt.Errorf("unsupported step %s", s.Type())
	}
	return value, nil
}

//nolint:cyclop
func (r *runner) expect(ctx context.Context, s *ExpectStep, timeout time.Duration) error {
	opts := &common.ExpectOptions{Timeout: timeout}

	if s.Selector == "" {
		a := common.ExpectPage(r.page, opts)
		if s.Not {
			a = a.Not()
		}
		if s.Assertion == "toHaveTitle" {
			return a.ToHaveTitle(ctx, s.Expected) //nolint:wrapcheck
		}
		return a.ToHaveURL(ctx, s.Expected) //nolint:wrapcheck
	}

	l, err := r.locator(s.Selector)
	if err != nil {
		return err
	}
	a := common.Expect(l, opts)
	if s.Not {
		a = a.Not()
	}
	switch s.Assertion {
	case "toBeVisible":
		return a.ToBeVisible(ctx) //nolint:wrapcheck
	case "toBeHidden":
		return a.ToBeHidden(ctx) //nolint:wrapcheck
	case "toBeEnabled":
		return a.ToBeEnabled(ctx) //nolint:wrapcheck
	case "toBeDisabled":
		return a.ToBeDisabled(ctx) //nolint:wrapcheck
	case "toBeChecked":
		return a.ToBeChecked(ctx) //nolint:wrapcheck
	case "toBeEditable":
		return a.ToBeEditable(ctx) //nolint:wrapcheck
	case "toHaveText":
		return a.ToHaveText(ctx, s.Expected) //nolint:wrapcheck
	case "toContainText":
		return a.ToContainText(ctx, s.Expected) //nolint:wrapcheck
	case "toHaveValue":
		return a.ToHaveValue(ctx, s.Expected) //nolint:wrapcheck
	case "toHaveAttribute":
		return a.ToHaveAttribute(ctx, s.Attribute, s.Expected) //nolint:wrapcheck
	case "toHaveCount":
		return a.ToHaveCount(ctx, s.Count) //nolint:wrapcheck
	}
	return fmt.Errorf("unsupported assertion %s", s.Assertion)
}

func (r *runner) waitForResponse(
	ctx context.Context, s *WaitForResponseStep, timeout time.Duration,
) (map[string]any, error) {
	value := map[string]any{}
	if timeout == 0 {
		timeout = r.defaultTimeout
	}
	var trigger func(context.Context) error
	if s.Trigger != nil {
		trigger = func(ctx context.Context) error {
			_, err := r.exec(ctx, s.Trigger)
			return err
		}
	}

	resp, err := r.page.WaitForResponse(ctx, s.URL, &common.WaitForEventOptions{Timeout: timeout}, trigger)
	if err != nil {
		return value, err //nolint:wrapcheck
	}
	value["response"] = responseValue(resp)
	if s.Status != 0 && resp.Status() != int64(s.Status) {
		return value, fmt.Errorf("response %s has status %d, expected %d", resp.URL(), resp.Status(), s.Status)
	}
	return value, nil
}

func (r *runner) route(ctx context.Context, s *RouteStep) error {
	if s.Unroute {
		if s.Context {
			return r.bctx.Unroute(ctx, s.URL) //nolint:wrapcheck
		}
		return r.page.Unroute(ctx, s.URL) //nolint:wrapcheck
	}

	handler, err := routeHandler(s)
	if err != nil {
		return err
	}
	opts := &common.RouteOptions{Times: s.Times}
	if s.Context {
		return r.bctx.Route(ctx, s.URL, handler, opts) //nolint:wrapcheck
	}
	return r.page.Route(ctx, s.URL, handler, opts) //nolint:wrapcheck
}

func routeHandler(s *RouteStep) (common.RouteHandler, error) {
	switch {
	case s.Abort != "":
		code := s.Abort
		return func(ctx context.Context, route *common.Route) error {
			return route.Abort(ctx, code) //nolint:wrapcheck
		}, nil

	case s.Continue != nil:
		opts := &common.ContinueOptions{Method: s.Continue.Method, Headers: s.Continue.Headers}
		return func(ctx context.Context, route *common.Route) error {
			return route.Continue(ctx, opts) //nolint:wrapcheck
		}, nil
	}

	f := s.Fulfill
	body := []byte(f.Body)
	contentType := f.ContentType
	if f.JSON != nil {
		b, err := json.Marshal(f.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding route body of %q: %w", s.URL, err)
		}
		body = b
		if contentType == "" {
			contentType = "application/json"
		}
	}
	return func(ctx context.Context, route *common.Route) error {
		return route.Fulfill(ctx, &common.FulfillOptions{ //nolint:wrapcheck
			Status:      f.Status,
			Body:        body,
			ContentType: contentType,
			Headers:     f.Headers,
		})
	}, nil
}

func dialogHandler(s *DialogStep) common.DialogHandler {
	switch s.Action {
	case "accept":
		text := s.PromptText
		return func(ctx context.Context, d *common.Dialog) error {
			return d.Accept(ctx, text) //nolint:wrapcheck
		}
	case "dismiss":
		return func(ctx context.Context, d *common.Dialog) error {
			return d.Dismiss(ctx) //nolint:wrapcheck
		}
	default:
		return nil
	}
}

func (r *runner) trace(ctx context.Context, s *TraceStep) (map[string]any, error) {
	value := map[string]any{}
	tr := r.bctx.Tracing()
	if s.Action == "start" {
		title := s.Title
		if title == "" {
			title = r.sc.Name
		}
		return value, tr.Start(ctx, &common.TracingStartOptions{ //nolint:wrapcheck
			Name:      s.Name,
			Title:     title,
			Snapshots: s.Snapshots,
		})
	}

	p, err := tr.Stop(ctx, &common.TracingStopOptions{Path: s.Path})
	if err != nil {
		return value, err //nolint:wrapcheck
	}
	r.tracePaths = append(r.tracePaths, p)
	value["path"] = p
	return value, nil
}

// responseValue is the view of a response given to eval predicates.
func responseValue(resp *common.Response) map[string]any {
	if resp == nil {
		return nil
	}
	v := map[string]any{
		"url":        resp.URL(),
		"status":     resp.Status(),
		"statusText": resp.StatusText(),
		"ok":         resp.Ok(),
		"headers":    resp.Headers(),
	}
	if text, err := resp.Text(); err == nil {
		v["text"] = text
	}
	if ct, _ := resp.HeaderValue("content-type"); strings.Contains(ct, "json") {
		if j, err := resp.JSON(); err == nil {
			v["json"] = j
		}
	}
	return v
}

// pagesHandler serves the inline pages of a scenario.
func pagesHandler(pages map[string]string) http.Handler {
	mux := http.NewServeMux()
	for path, markup := range pages {
		markup := markup
		mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			if req.URL.Path != path {
				http.NotFound(w, req)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = io.WriteString(w, markup)
		})
	}
	return mux
}
