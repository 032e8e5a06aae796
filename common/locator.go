package common

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/liuxd6825/autowait/jsregex"
	"github.com/liuxd6825/autowait/log"
	"github.com/liuxd6825/autowait/trace"
)

// Strict mode:
// Actions and reads fail with a StrictModeError if more than one element
// matches the locator's selector. Count, All and the All* reads don't.

// Locator represents a way to find element(s) on the page at any moment.
// It holds no element reference: every call resolves the selector again
// against the current document.
type Locator struct {
	selector string
	parsed   *Selector

	page *Page
	log  *log.Logger

	// err is set when a builder produced an unusable selector. Every call
	// then returns it without waiting.
	err error
}

func newLocator(p *Page, selector string, opts *LocatorOptions) (*Locator, error) {
	selector, err := applyLocatorOptions(selector, opts)
	if err != nil {
		return nil, err
	}
	parsed, err := NewSelector(selector)
	if err != nil {
		return nil, err
	}
	return &Locator{
		selector: selector,
		parsed:   parsed,
		page:     p,
		log:      p.logger,
	}, nil
}

// mustLocator is used by builders whose selectors are generated. A parse
// failure is kept on the Locator and reported by its first call.
func mustLocator(p *Page, selector string) *Locator {
	l, err := newLocator(p, selector, nil)
	if err != nil {
		return &Locator{selector: selector, page: p, log: p.logger, err: err}
	}
	return l
}

func applyLocatorOptions(selector string, opts *LocatorOptions) (string, error) {
	if opts == nil {
		return selector, nil
	}
	if opts.HasText != "" {
		selector += " >> " + engineIHasText + "=" + textBody(opts.HasText)
	}
	if opts.HasNotText != "" {
		selector += " >> " + engineIHasNotTxt + "=" + textBody(opts.HasNotText)
	}
	for _, has := range []struct {
		engine string
		inner  *Locator
	}{{engineIHas, opts.Has}, {engineIHasNot, opts.HasNot}} {
		if has.inner == nil {
			continue
		}
		if has.inner.err != nil {
			return "", has.inner.err
		}
		selector += " >> " + has.engine + "=" + strconv.Quote(has.inner.selector)
	}
	return selector, nil
}

func textBody(text string) string {
	if _, _, ok := jsregex.Parse(text); ok {
		return text
	}
	return strconv.Quote(text)
}

func (l *Locator) chain(selector string) *Locator {
	if l.err != nil {
		return l
	}
	return mustLocator(l.page, l.selector+" >> "+selector)
}

// String returns the selector of the locator.
func (l *Locator) String() string { return l.selector }

// Page returns the page the locator belongs to.
func (l *Locator) Page() *Page { return l.page }

// Locator narrows the locator to the matches of selector inside it.
func (l *Locator) Locator(selector string, opts *LocatorOptions) (*Locator, error) {
	l.log.Debugf("Locator:Locator", "sel:%q subsel:%q opts:%+v", l.selector, selector, opts)

	if l.err != nil {
		return nil, l.err
	}
	return newLocator(l.page, l.selector+" >> "+selector, opts)
}

// Filter narrows the locator by text, descendants or visibility.
func (l *Locator) Filter(opts *LocatorFilterOptions) *Locator {
	l.log.Debugf("Locator:Filter", "sel:%q opts:%+v", l.selector, opts)

	if l.err != nil || opts == nil {
		return l
	}
	selector, err := applyLocatorOptions(l.selector, &opts.LocatorOptions)
	if err != nil {
		return &Locator{selector: l.selector, page: l.page, log: l.log, err: err}
	}
	if opts.Visible != nil {
		selector += " >> " + engineVisible + "=" + strconv.FormatBool(*opts.Visible)
	}
	return mustLocator(l.page, selector)
}

// First returns a locator to the first matching element.
func (l *Locator) First() *Locator {
	return l.Nth(0)
}

// Last returns a locator to the last matching element.
func (l *Locator) Last() *Locator {
	return l.Nth(-1)
}

// Nth returns a locator to the n-th matching element, zero-based. Negative
// values count from the end. Out of range yields no match, not an error.
func (l *Locator) Nth(nth int) *Locator {
	return l.chain(engineNth + "=" + strconv.Itoa(nth))
}

// Or returns a locator matching either locator, in document order.
func (l *Locator) Or(other *Locator) *Locator {
	if other.err != nil {
		return other
	}
	return l.chain(engineIOr + "=" + strconv.Quote(other.selector))
}

// And returns a locator matching elements matched by both locators.
func (l *Locator) And(other *Locator) *Locator {
	if other.err != nil {
		return other
	}
	return l.chain(engineIAnd + "=" + strconv.Quote(other.selector))
}

// GetByRole narrows the locator by ARIA role.
func (l *Locator) GetByRole(role string, opts *GetByRoleOptions) *Locator {
	return l.chain(buildRoleSelector(role, opts))
}

// GetByText narrows the locator by text.
func (l *Locator) GetByText(text string, opts *GetByTextOptions) *Locator {
	return l.chain(buildTextSelector(text, opts))
}

// GetByLabel narrows the locator by label.
func (l *Locator) GetByLabel(text string, opts *GetByTextOptions) *Locator {
	return l.chain(buildLabelSelector(text, opts))
}

// GetByPlaceholder narrows the locator by placeholder.
func (l *Locator) GetByPlaceholder(text string, opts *GetByTextOptions) *Locator {
	return l.chain(buildAttributeSelector("placeholder", text, opts))
}

// GetByAltText narrows the locator by alt text.
func (l *Locator) GetByAltText(text string, opts *GetByTextOptions) *Locator {
	return l.chain(buildAttributeSelector("alt", text, opts))
}

// GetByTitle narrows the locator by title.
func (l *Locator) GetByTitle(text string, opts *GetByTextOptions) *Locator {
	return l.chain(buildAttributeSelector("title", text, opts))
}

// GetByTestID narrows the locator by test id.
func (l *Locator) GetByTestID(id string) *Locator {
	return l.chain(buildTestIDSelector(l.page.browserCtx.engineOpts.testIDAttribute(), id))
}

// ContentFrame returns a frame locator for the iframe this locator points to.
func (l *Locator) ContentFrame() *FrameLocator {
	return &FrameLocator{page: l.page, selector: l.selector, err: l.err}
}

// FrameLocator returns a frame locator for the iframe matched by selector
// inside the locator.
func (l *Locator) FrameLocator(selector string) (*FrameLocator, error) {
	if l.err != nil {
		return nil, l.err
	}
	full := l.selector + " >> " + selector
	if _, err := NewSelector(full); err != nil {
		return nil, err
	}
	return &FrameLocator{page: l.page, selector: full}, nil
}

func (l *Locator) traceAPICall(ctx context.Context, name string) oteltrace.Span {
	_, span := l.page.tracer.TraceAPICall(ctx, l.page.ID(), name,
		oteltrace.WithAttributes(attribute.String("locator.selector", l.selector)))
	return span
}

// act waits until the element satisfies the action's conditions and then
// calls perform. Trial runs skip perform.
func (l *Locator) act(
	ctx context.Context, op string, action Action, base LocatorBaseOptions, trial bool,
	perform func(ctx context.Context, doc Document, id NodeID, box Rect) error,
) error {
	if l.err != nil {
		return l.err
	}
	conds := action.Conditions()
	if base.Force {
		conds = attachedConditions
	}
	task := elementTask{
		op:       op,
		selector: l.parsed,
		conds:    conds,
		timeout:  resolveTimeout(base.Timeout, l.page.timeoutSettings.timeout()),
		strict:   l.page.browserCtx.engineOpts.strict(),
		perform:  perform,
	}
	if trial {
		task.perform = nil
	}
	if err := l.page.runElementTask(ctx, task); err != nil {
		return err
	}
	if !trial {
		l.page.afterAction(ctx, op)
	}
	return nil
}

// read waits for the element to be attached and then calls fn on the same
// snapshot.
func (l *Locator) read(ctx context.Context, op string, timeout time.Duration, fn func(doc Document, n NodeInfo) error) error {
	if l.err != nil {
		return l.err
	}
	return l.page.runElementTask(ctx, elementTask{
		op:       op,
		selector: l.parsed,
		conds:    attachedConditions,
		timeout:  resolveTimeout(timeout, l.page.timeoutSettings.timeout()),
		strict:   l.page.browserCtx.engineOpts.strict(),
		readOnly: true,
		perform: func(_ context.Context, doc Document, id NodeID, _ Rect) error {
			n, ok := doc.Node(id)
			if !ok {
				return ErrNodeNotFound
			}
			return fn(doc, n)
		},
	})
}

func (l *Locator) dispatch(ctx context.Context, id NodeID, action InputAction) error {
	return l.page.backend.Dispatch(ctx, id, action) //nolint:wrapcheck
}

func point(box Rect, pos *Position) (float64, float64) {
	if pos != nil {
		return box.X + pos.X, box.Y + pos.Y
	}
	return box.Center()
}

// Click clicks on the element once it is actionable.
func (l *Locator) Click(ctx context.Context, opts *LocatorClickOptions) error {
	l.log.Debugf("Locator:Click", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.click")
	defer span.End()

	if opts == nil {
		opts = &LocatorClickOptions{}
	}
	kind := InputClick
	if opts.ClickCount == 2 {
		kind = InputDblclick
	}
	err := l.act(ctx, "click", ActionClick, opts.LocatorBaseOptions, opts.Trial,
		func(ctx context.Context, _ Document, id NodeID, box Rect) error {
			x, y := point(box, opts.Position)
			return l.dispatch(ctx, id, InputAction{Kind: kind, X: x, Y: y, Modifiers: opts.Modifiers})
		})
	if err != nil {
		return trace.RecordErrorf(span, "clicking on %q: %w", l.selector, err)
	}
	return nil
}

// Dblclick double clicks on the element.
func (l *Locator) Dblclick(ctx context.Context, opts *LocatorDblclickOptions) error {
	l.log.Debugf("Locator:Dblclick", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.dblclick")
	defer span.End()

	if opts == nil {
		opts = &LocatorDblclickOptions{}
	}
	err := l.act(ctx, "dblclick", ActionDblclick, opts.LocatorBaseOptions, opts.Trial,
		func(ctx context.Context, _ Document, id NodeID, box Rect) error {
			x, y := point(box, opts.Position)
			return l.dispatch(ctx, id, InputAction{Kind: InputDblclick, X: x, Y: y, Modifiers: opts.Modifiers})
		})
	if err != nil {
		return trace.RecordErrorf(span, "double clicking on %q: %w", l.selector, err)
	}
	return nil
}

// Tap taps on the element.
func (l *Locator) Tap(ctx context.Context, opts *LocatorTapOptions) error {
	l.log.Debugf("Locator:Tap", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.tap")
	defer span.End()

	if opts == nil {
		opts = &LocatorTapOptions{}
	}
	err := l.act(ctx, "tap", ActionTap, opts.LocatorBaseOptions, opts.Trial,
		func(ctx context.Context, _ Document, id NodeID, box Rect) error {
			x, y := point(box, opts.Position)
			return l.dispatch(ctx, id, InputAction{Kind: InputTap, X: x, Y: y, Modifiers: opts.Modifiers})
		})
	if err != nil {
		return trace.RecordErrorf(span, "tapping on %q: %w", l.selector, err)
	}
	return nil
}

// Hover moves the pointer over the element.
func (l *Locator) Hover(ctx context.Context, opts *LocatorHoverOptions) error {
	l.log.Debugf("Locator:Hover", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.hover")
	defer span.End()

	if opts == nil {
		opts = &LocatorHoverOptions{}
	}
	err := l.act(ctx, "hover", ActionHover, opts.LocatorBaseOptions, opts.Trial,
		func(ctx context.Context, _ Document, id NodeID, box Rect) error {
			x, y := point(box, opts.Position)
			return l.dispatch(ctx, id, InputAction{Kind: InputHover, X: x, Y: y, Modifiers: opts.Modifiers})
		})
	if err != nil {
		return trace.RecordErrorf(span, "hovering on %q: %w", l.selector, err)
	}
	return nil
}

// Check checks a checkbox or radio button. It's a no-op if the element is
// already checked.
func (l *Locator) Check(ctx context.Context, opts *LocatorCheckOptions) error {
	return l.SetChecked(ctx, true, opts)
}

// Uncheck unchecks a checkbox. It's a no-op if the element is not checked.
func (l *Locator) Uncheck(ctx context.Context, opts *LocatorCheckOptions) error {
	return l.SetChecked(ctx, false, opts)
}

// SetChecked checks or unchecks the element.
func (l *Locator) SetChecked(ctx context.Context, checked bool, opts *LocatorCheckOptions) error {
	l.log.Debugf("Locator:SetChecked", "sel:%q checked:%t opts:%+v", l.selector, checked, opts)
	op, action, verb := "check", ActionCheck, "checking"
	if !checked {
		op, action, verb = "uncheck", ActionUncheck, "unchecking"
	}
	span := l.traceAPICall(ctx, "locator."+op)
	defer span.End()

	if opts == nil {
		opts = &LocatorCheckOptions{}
	}
	err := l.act(ctx, op, action, opts.LocatorBaseOptions, opts.Trial,
		func(ctx context.Context, doc Document, id NodeID, box Rect) error {
			n, _ := doc.Node(id)
			state, err := checkedState(doc, n)
			if err != nil {
				return err
			}
			if state == checked {
				return nil
			}
			x, y := point(box, opts.Position)
			if err := l.dispatch(ctx, id, InputAction{Kind: InputClick, X: x, Y: y}); err != nil {
				return err
			}
			after, err := l.page.backend.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("taking snapshot: %w", err)
			}
			an, ok := after.Node(id)
			if !ok {
				return ErrNodeNotFound
			}
			if state, err := checkedState(after, an); err != nil || state != checked {
				return errors.New("clicking the element did not change its state")
			}
			return nil
		})
	if err != nil {
		return trace.RecordErrorf(span, "%s %q: %w", verb, l.selector, err)
	}
	return nil
}

// checkedState reads the checked state of checkboxes, radios and elements
// with a checkable ARIA role.
func checkedState(doc Document, n NodeInfo) (bool, error) {
	if n.Tag == "input" {
		switch strings.ToLower(n.Attrs["type"]) {
		case "checkbox", "radio":
			return n.Checked, nil
		}
	}
	if v, ok := n.Attr("aria-checked"); ok {
		return v == "true", nil
	}
	for _, ax := range doc.AXTree(n.ID) {
		if ax.ID == n.ID && ax.Checked != "" {
			return ax.Checked == "true", nil
		}
	}
	return false, errors.New("not a checkbox or radio button")
}

// Fill sets the value of an input, textarea or contenteditable element.
func (l *Locator) Fill(ctx context.Context, value string, opts *LocatorFillOptions) error {
	l.log.Debugf("Locator:Fill", "sel:%q val:%q opts:%+v", l.selector, value, opts)
	span := l.traceAPICall(ctx, "locator.fill")
	defer span.End()

	if opts == nil {
		opts = &LocatorFillOptions{}
	}
	err := l.act(ctx, "fill", ActionFill, opts.LocatorBaseOptions, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputFill, Text: value})
		})
	if err != nil {
		return trace.RecordErrorf(span, "filling %q with %q: %w", l.selector, value, err)
	}
	return nil
}

// Clear empties an input field.
func (l *Locator) Clear(ctx context.Context, opts *LocatorFillOptions) error {
	l.log.Debugf("Locator:Clear", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.clear")
	defer span.End()

	if opts == nil {
		opts = &LocatorFillOptions{}
	}
	err := l.act(ctx, "clear", ActionClear, opts.LocatorBaseOptions, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputFill})
		})
	if err != nil {
		return trace.RecordErrorf(span, "clearing %q: %w", l.selector, err)
	}
	return nil
}

// Press focuses the element and presses a key or a combination such as
// "Control+A".
func (l *Locator) Press(ctx context.Context, key string, opts *LocatorPressOptions) error {
	l.log.Debugf("Locator:Press", "sel:%q key:%q opts:%+v", l.selector, key, opts)
	span := l.traceAPICall(ctx, "locator.press")
	defer span.End()

	if opts == nil {
		opts = &LocatorPressOptions{}
	}
	err := l.act(ctx, "press", ActionPress, opts.LocatorBaseOptions, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputPress, Key: key})
		})
	if err != nil {
		return trace.RecordErrorf(span, "pressing %q on %q: %w", key, l.selector, err)
	}
	return nil
}

// PressSequentially types text one key at a time, waiting opts.Delay
// between keys.
func (l *Locator) PressSequentially(ctx context.Context, text string, opts *LocatorTypeOptions) error {
	l.log.Debugf("Locator:PressSequentially", "sel:%q text:%q opts:%+v", l.selector, text, opts)
	span := l.traceAPICall(ctx, "locator.pressSequentially")
	defer span.End()

	if opts == nil {
		opts = &LocatorTypeOptions{}
	}
	err := l.act(ctx, "type", ActionType, opts.LocatorBaseOptions, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			if opts.Delay <= 0 {
				return l.dispatch(ctx, id, InputAction{Kind: InputType, Text: text})
			}
			for i, r := range text {
				if i > 0 {
					if err := sleep(ctx, opts.Delay); err != nil {
						return err
					}
				}
				if err := l.dispatch(ctx, id, InputAction{Kind: InputType, Text: string(r)}); err != nil {
					return err
				}
			}
			return nil
		})
	if err != nil {
		return trace.RecordErrorf(span, "typing %q into %q: %w", text, l.selector, err)
	}
	return nil
}

// SelectOption selects options of a <select> by value, label or index and
// returns the selected values. It waits for the options to exist.
func (l *Locator) SelectOption(ctx context.Context, values []SelectOption, opts *LocatorSelectOptionOptions) ([]string, error) {
	l.log.Debugf("Locator:SelectOption", "sel:%q values:%d opts:%+v", l.selector, len(values), opts)
	span := l.traceAPICall(ctx, "locator.selectOption")
	defer span.End()

	if opts == nil {
		opts = &LocatorSelectOptionOptions{}
	}
	var selected []string
	err := l.act(ctx, "selectOption", ActionSelectOption, opts.LocatorBaseOptions, false,
		func(ctx context.Context, doc Document, id NodeID, _ Rect) error {
			n, _ := doc.Node(id)
			if n.Tag != "select" {
				return errors.New("element is not a <select> element")
			}
			vals, err := matchOptions(doc, id, values)
			if err != nil {
				return err
			}
			if err := l.dispatch(ctx, id, InputAction{Kind: InputSelectOption, Values: vals}); err != nil {
				return err
			}
			selected = vals
			return nil
		})
	if err != nil {
		return nil, trace.RecordErrorf(span, "selecting options in %q: %w", l.selector, err)
	}
	return selected, nil
}

// matchOptions returns the values of the options picked by wanted. A
// missing option is reported as a missing node so the wait goes on.
func matchOptions(doc Document, selectID NodeID, wanted []SelectOption) ([]string, error) {
	type option struct{ value, label string }
	var options []option
	for _, id := range doc.Elements(selectID) {
		n, ok := doc.Node(id)
		if !ok || n.Tag != "option" {
			continue
		}
		label := normalizeWhiteSpace(n.Text)
		if v, ok := n.Attr("label"); ok {
			label = v
		}
		value, ok := n.Attr("value")
		if !ok {
			value = label
		}
		options = append(options, option{value: value, label: label})
	}

	out := make([]string, 0, len(wanted))
	for _, w := range wanted {
		idx := slices.IndexFunc(options, func(o option) bool {
			return (w.Value == nil || o.value == *w.Value) && (w.Label == nil || o.label == *w.Label)
		})
		if w.Index != nil {
			idx = -1
			if i := *w.Index; i >= 0 && i < len(options) {
				idx = i
			}
		}
		if idx < 0 || (w.Value == nil && w.Label == nil && w.Index == nil) {
			return nil, fmt.Errorf("option %s: %w", describeOption(w), ErrNodeNotFound)
		}
		out = append(out, options[idx].value)
	}
	return out, nil
}

func describeOption(o SelectOption) string {
	switch {
	case o.Value != nil:
		return fmt.Sprintf("value=%q", *o.Value)
	case o.Label != nil:
		return fmt.Sprintf("label=%q", *o.Label)
	case o.Index != nil:
		return fmt.Sprintf("index=%d", *o.Index)
	}
	return "{}"
}

// SetInputFiles sets the files of an <input type=file>.
func (l *Locator) SetInputFiles(ctx context.Context, files []InputFile, opts *LocatorSetInputFilesOptions) error {
	l.log.Debugf("Locator:SetInputFiles", "sel:%q files:%d opts:%+v", l.selector, len(files), opts)
	span := l.traceAPICall(ctx, "locator.setInputFiles")
	defer span.End()

	if opts == nil {
		opts = &LocatorSetInputFilesOptions{}
	}
	err := l.act(ctx, "setInputFiles", ActionSetInputFiles, opts.LocatorBaseOptions, false,
		func(ctx context.Context, doc Document, id NodeID, _ Rect) error {
			n, _ := doc.Node(id)
			if n.Tag != "input" || !strings.EqualFold(n.Attrs["type"], "file") {
				return errors.New("element is not an <input type=file> element")
			}
			if _, multiple := n.Attr("multiple"); !multiple && len(files) > 1 {
				return errors.New("non-multiple file input can only accept a single file")
			}
			return l.dispatch(ctx, id, InputAction{Kind: InputSetInputFiles, Files: files})
		})
	if err != nil {
		return trace.RecordErrorf(span, "setting input files on %q: %w", l.selector, err)
	}
	return nil
}

// Focus focuses the element.
func (l *Locator) Focus(ctx context.Context, opts *LocatorReadOptions) error {
	l.log.Debugf("Locator:Focus", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.focus")
	defer span.End()

	err := l.act(ctx, "focus", ActionFocus, LocatorBaseOptions{Timeout: readTimeout(opts)}, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputFocus})
		})
	if err != nil {
		return trace.RecordErrorf(span, "focusing %q: %w", l.selector, err)
	}
	return nil
}

// ScrollIntoViewIfNeeded scrolls the element into view once it is stable.
func (l *Locator) ScrollIntoViewIfNeeded(ctx context.Context, opts *LocatorReadOptions) error {
	l.log.Debugf("Locator:ScrollIntoViewIfNeeded", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.scrollIntoViewIfNeeded")
	defer span.End()

	err := l.act(ctx, "scrollIntoViewIfNeeded", ActionScroll, LocatorBaseOptions{Timeout: readTimeout(opts)}, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputScroll})
		})
	if err != nil {
		return trace.RecordErrorf(span, "scrolling %q into view: %w", l.selector, err)
	}
	return nil
}

// DispatchEvent dispatches a DOM event of type typ on the element,
// regardless of its actionability.
func (l *Locator) DispatchEvent(ctx context.Context, typ string, opts *LocatorReadOptions) error {
	l.log.Debugf("Locator:DispatchEvent", "sel:%q typ:%q opts:%+v", l.selector, typ, opts)
	span := l.traceAPICall(ctx, "locator.dispatchEvent")
	defer span.End()

	err := l.act(ctx, "dispatchEvent", ActionDispatchEvent, LocatorBaseOptions{Timeout: readTimeout(opts)}, false,
		func(ctx context.Context, _ Document, id NodeID, _ Rect) error {
			return l.dispatch(ctx, id, InputAction{Kind: InputDispatchEvent, EventType: typ})
		})
	if err != nil {
		return trace.RecordErrorf(span, "dispatching event %q to %q: %w", typ, l.selector, err)
	}
	return nil
}

func readTimeout(opts *LocatorReadOptions) time.Duration {
	if opts == nil {
		return 0
	}
	return opts.Timeout
}

// InnerText returns the rendered text of the element.
func (l *Locator) InnerText(ctx context.Context, opts *LocatorReadOptions) (string, error) {
	l.log.Debugf("Locator:InnerText", "sel:%q opts:%+v", l.selector, opts)

	var text string
	err := l.read(ctx, "innerText", readTimeout(opts), func(_ Document, n NodeInfo) error {
		text = n.InnerText
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("getting inner text of %q: %w", l.selector, err)
	}
	return text, nil
}

// InnerHTML returns the inner HTML of the element.
func (l *Locator) InnerHTML(ctx context.Context, opts *LocatorReadOptions) (string, error) {
	l.log.Debugf("Locator:InnerHTML", "sel:%q opts:%+v", l.selector, opts)

	var html string
	err := l.read(ctx, "innerHTML", readTimeout(opts), func(_ Document, n NodeInfo) error {
		html = n.HTML
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("getting inner HTML of %q: %w", l.selector, err)
	}
	return html, nil
}

// TextContent returns the textContent of the element.
func (l *Locator) TextContent(ctx context.Context, opts *LocatorReadOptions) (string, error) {
	l.log.Debugf("Locator:TextContent", "sel:%q opts:%+v", l.selector, opts)

	var text string
	err := l.read(ctx, "textContent", readTimeout(opts), func(_ Document, n NodeInfo) error {
		text = n.Text
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("getting text content of %q: %w", l.selector, err)
	}
	return text, nil
}

// GetAttribute returns the value of an attribute and whether it is set.
func (l *Locator) GetAttribute(ctx context.Context, name string, opts *LocatorReadOptions) (string, bool, error) {
	l.log.Debugf("Locator:GetAttribute", "sel:%q name:%q opts:%+v", l.selector, name, opts)

	var (
		value string
		ok    bool
	)
	err := l.read(ctx, "getAttribute", readTimeout(opts), func(_ Document, n NodeInfo) error {
		value, ok = n.Attr(name)
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("getting attribute %q of %q: %w", name, l.selector, err)
	}
	return value, ok, nil
}

// InputValue returns the value of an input, textarea or select element.
func (l *Locator) InputValue(ctx context.Context, opts *LocatorReadOptions) (string, error) {
	l.log.Debugf("Locator:InputValue", "sel:%q opts:%+v", l.selector, opts)

	var value string
	err := l.read(ctx, "inputValue", readTimeout(opts), func(_ Document, n NodeInfo) error {
		switch n.Tag {
		case "input", "textarea", "select":
			value = n.Value
			return nil
		}
		return errors.New("element is not an <input>, <textarea> or <select> element")
	})
	if err != nil {
		return "", fmt.Errorf("getting input value of %q: %w", l.selector, err)
	}
	return value, nil
}

// IsChecked reports whether a checkbox or radio button is checked.
func (l *Locator) IsChecked(ctx context.Context, opts *LocatorReadOptions) (bool, error) {
	l.log.Debugf("Locator:IsChecked", "sel:%q opts:%+v", l.selector, opts)

	var checked bool
	err := l.read(ctx, "isChecked", readTimeout(opts), func(doc Document, n NodeInfo) (err error) {
		checked, err = checkedState(doc, n)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("checking state of %q: %w", l.selector, err)
	}
	return checked, nil
}

// IsEnabled reports whether the element is enabled.
func (l *Locator) IsEnabled(ctx context.Context, opts *LocatorReadOptions) (bool, error) {
	l.log.Debugf("Locator:IsEnabled", "sel:%q opts:%+v", l.selector, opts)

	var enabled bool
	err := l.read(ctx, "isEnabled", readTimeout(opts), func(doc Document, n NodeInfo) error {
		enabled = isEnabled(doc, n)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking if %q is enabled: %w", l.selector, err)
	}
	return enabled, nil
}

// IsDisabled reports whether the element is disabled.
func (l *Locator) IsDisabled(ctx context.Context, opts *LocatorReadOptions) (bool, error) {
	enabled, err := l.IsEnabled(ctx, opts)
	return !enabled, err
}

// IsEditable reports whether the element is editable.
func (l *Locator) IsEditable(ctx context.Context, opts *LocatorReadOptions) (bool, error) {
	l.log.Debugf("Locator:IsEditable", "sel:%q opts:%+v", l.selector, opts)

	var editable bool
	err := l.read(ctx, "isEditable", readTimeout(opts), func(doc Document, n NodeInfo) error {
		editable = isEditable(doc, n)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking if %q is editable: %w", l.selector, err)
	}
	return editable, nil
}

// BoundingBox returns the element's box, or nil if it isn't rendered.
func (l *Locator) BoundingBox(ctx context.Context, opts *LocatorReadOptions) (*Rect, error) {
	l.log.Debugf("Locator:BoundingBox", "sel:%q opts:%+v", l.selector, opts)

	var box *Rect
	err := l.read(ctx, "boundingBox", readTimeout(opts), func(doc Document, n NodeInfo) error {
		if r, ok := doc.BoundingBox(n.ID); ok && !n.Hidden {
			box = &r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting bounding box of %q: %w", l.selector, err)
	}
	return box, nil
}

// WaitFor waits until the element reaches opts.State, visible by default.
func (l *Locator) WaitFor(ctx context.Context, opts *LocatorWaitForOptions) error {
	l.log.Debugf("Locator:WaitFor", "sel:%q opts:%+v", l.selector, opts)
	span := l.traceAPICall(ctx, "locator.waitFor")
	defer span.End()

	if opts == nil {
		opts = &LocatorWaitForOptions{}
	}
	o := *opts
	if err := o.validate(); err != nil {
		return trace.RecordErrorf(span, "waiting for %q: %w", l.selector, err)
	}
	if l.err != nil {
		return l.err
	}

	strict := l.page.browserCtx.engineOpts.strict()
	w := newWaitTask("waitFor "+string(o.State), l.selector,
		resolveTimeout(o.Timeout, l.page.timeoutSettings.timeout()),
		l.page.browserCtx.engineOpts.pollInterval(), l.page.closedCh, l.log)
	err := w.run(ctx, func(ctx context.Context, _ int) (bool, []Condition, error) {
		doc, ids, err := l.page.resolveOnce(ctx, l.parsed)
		if err != nil {
			return false, nil, err
		}
		if len(ids) > 1 && strict && (o.State == StateAttached || o.State == StateVisible) {
			return false, nil, &StrictModeError{Selector: l.selector, Count: len(ids)}
		}
		switch o.State {
		case StateAttached:
			return len(ids) > 0, []Condition{ConditionAttached}, nil
		case StateDetached:
			return len(ids) == 0, nil, nil
		case StateVisible:
			return len(ids) > 0 && isVisible(doc, ids[0]), []Condition{ConditionVisible}, nil
		default:
			for _, id := range ids {
				if isVisible(doc, id) {
					return false, nil, nil
				}
			}
			return true, nil, nil
		}
	})
	if err != nil {
		return trace.RecordErrorf(span, "waiting for %q to be %s: %w", l.selector, o.State, err)
	}
	return nil
}

// Count returns the number of matching elements right now. It never waits.
func (l *Locator) Count(ctx context.Context) (int, error) {
	l.log.Debugf("Locator:Count", "sel:%q", l.selector)

	_, ids, err := l.resolveNow(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting elements in %q: %w", l.selector, err)
	}
	return len(ids), nil
}

// All returns a locator for each element matching right now.
func (l *Locator) All(ctx context.Context) ([]*Locator, error) {
	l.log.Debugf("Locator:All", "sel:%q", l.selector)

	count, err := l.Count(ctx)
	if err != nil {
		return nil, err
	}
	locators := make([]*Locator, count)
	for i := 0; i < count; i++ {
		locators[i] = l.Nth(i)
	}
	return locators, nil
}

// AllInnerTexts returns the rendered text of every matching element. It
// never waits.
func (l *Locator) AllInnerTexts(ctx context.Context) ([]string, error) {
	l.log.Debugf("Locator:AllInnerTexts", "sel:%q", l.selector)

	doc, ids, err := l.resolveNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting inner texts of %q: %w", l.selector, err)
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		n, _ := doc.Node(id)
		texts = append(texts, n.InnerText)
	}
	return texts, nil
}

// AllTextContents returns the textContent of every matching element. It
// never waits.
func (l *Locator) AllTextContents(ctx context.Context) ([]string, error) {
	l.log.Debugf("Locator:AllTextContents", "sel:%q", l.selector)

	doc, ids, err := l.resolveNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting text contents of %q: %w", l.selector, err)
	}
	texts := make([]string, 0, len(ids))
	for _, id := range ids {
		n, _ := doc.Node(id)
		texts = append(texts, n.Text)
	}
	return texts, nil
}

// IsVisible reports whether the element is visible right now. A missing
// element is not visible. It never waits.
func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	l.log.Debugf("Locator:IsVisible", "sel:%q", l.selector)

	doc, ids, err := l.resolveNow(ctx)
	if err != nil {
		return false, fmt.Errorf("checking if %q is visible: %w", l.selector, err)
	}
	if len(ids) > 1 && l.page.browserCtx.engineOpts.strict() {
		return false, fmt.Errorf("checking if %q is visible: %w", l.selector,
			&StrictModeError{Selector: l.selector, Count: len(ids)})
	}
	return len(ids) > 0 && isVisible(doc, ids[0]), nil
}

// IsHidden is the opposite of IsVisible.
func (l *Locator) IsHidden(ctx context.Context) (bool, error) {
	visible, err := l.IsVisible(ctx)
	return !visible, err
}

// ElementReport describes a matched element and whether it's actionable.
type ElementReport struct {
	Tag       string
	InnerText string
	// HTML is the inner HTML of the element.
	HTML  string
	Check CheckResult
}

// Inspect checks every matching element against the conditions of action.
// Stability needs two snapshots, so it samples the page twice one poll
// interval apart. It never waits for elements to appear.
func (l *Locator) Inspect(ctx context.Context, action Action) ([]ElementReport, error) {
	l.log.Debugf("Locator:Inspect", "sel:%q action:%s", l.selector, action)

	checker := NewChecker()
	doc, ids, err := l.resolveNow(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting %q: %w", l.selector, err)
	}
	for _, id := range ids {
		checker.Check(doc, id, action)
	}
	if err := sleep(ctx, l.page.browserCtx.engineOpts.pollInterval()); err != nil {
		return nil, fmt.Errorf("inspecting %q: %w", l.selector, err)
	}
	if doc, err = l.page.snapshot(ctx); err != nil {
		return nil, fmt.Errorf("inspecting %q: %w", l.selector, err)
	}

	reports := make([]ElementReport, 0, len(ids))
	for _, id := range ids {
		n, _ := doc.Node(id)
		reports = append(reports, ElementReport{
			Tag:       n.Tag,
			InnerText: n.InnerText,
			HTML:      n.HTML,
			Check:     checker.Check(doc, id, action),
		})
	}
	return reports, nil
}

func (l *Locator) resolveNow(ctx context.Context) (Document, []NodeID, error) {
	if l.err != nil {
		return nil, nil, l.err
	}
	return l.page.resolveOnce(ctx, l.parsed)
}

// resolveOnce resolves sel against a single fresh snapshot.
func (p *Page) resolveOnce(ctx context.Context, sel *Selector) (Document, []NodeID, error) {
	doc, err := p.snapshot(ctx)
	if err != nil {
		return nil, nil, err
	}
	ids, err := newResolver(doc).resolve(sel, doc.Root())
	if err != nil {
		return nil, nil, err
	}
	return doc, ids, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck
	}
}
