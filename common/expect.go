package common

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/jsregex"
)

// ExpectOptions are options of a single assertion.
type ExpectOptions struct {
	// Timeout overrides the expect timeout of the page.
	Timeout time.Duration `json:"timeout"`
}

// AssertionError is returned when an assertion doesn't pass before its
// timeout. It wraps the TimeoutError of the underlying wait.
type AssertionError struct {
	Assertion string
	Subject   string
	Expected  string
	Actual    string
	Negated   bool
	Err       error
}

func (e *AssertionError) Error() string {
	not := ""
	if e.Negated {
		not = "not."
	}
	return fmt.Sprintf("expect(%s).%s%s(%s) failed, actual %s: %v", e.Subject, not, e.Assertion, e.Expected, e.Actual, e.Err)
}

// Unwrap returns the error of the wait.
func (e *AssertionError) Unwrap() error { return e.Err }

// ExitCode implements errext.HasExitCode.
func (e *AssertionError) ExitCode() exitcodes.ExitCode { return exitcodes.ScenarioFailed }

// LocatorAssertions are retrying assertions on a locator.
type LocatorAssertions struct {
	l       *Locator
	timeout time.Duration
	not     bool
}

// Expect returns the assertions of l.
func Expect(l *Locator, opts *ExpectOptions) *LocatorAssertions {
	a := &LocatorAssertions{l: l}
	if opts != nil {
		a.timeout = opts.Timeout
	}
	return a
}

// Not returns the negated assertions.
func (a *LocatorAssertions) Not() *LocatorAssertions {
	n := *a
	n.not = !a.not
	return &n
}

// observation is what a single poll of an assertion saw.
type observation struct {
	pass   bool
	actual string
	// waiting keeps the assertion failing regardless of negation, such as
	// while the element an assertion reads doesn't exist yet.
	waiting bool
}

// assert polls observe on fresh snapshots until its result, negated if
// needed, passes.
func (a *LocatorAssertions) assert(
	ctx context.Context, name, expected string, observe func(doc Document, ids []NodeID) (observation, error),
) error {
	l := a.l
	l.log.Debugf("Expect:"+name, "sel:%q not:%t expected:%s", l.selector, a.not, expected)
	if l.err != nil {
		return l.err
	}

	var last observation
	timeout := resolveTimeout(a.timeout, l.page.timeoutSettings.expectTimeout())
	w := newWaitTask(name, l.selector, timeout, l.page.browserCtx.engineOpts.pollInterval(), l.page.closedCh, l.log)
	err := w.run(ctx, func(ctx context.Context, _ int) (bool, []Condition, error) {
		doc, ids, err := l.page.resolveOnce(ctx, l.parsed)
		if err != nil {
			return false, nil, err
		}
		obs, err := observe(doc, ids)
		if err != nil {
			return false, nil, err
		}
		last = obs
		return !obs.waiting && obs.pass != a.not, nil, nil
	})
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		return err
	}
	return &AssertionError{
		Assertion: name,
		Subject:   l.selector,
		Expected:  expected,
		Actual:    last.actual,
		Negated:   a.not,
		Err:       err,
	}
}

// single is the observation wrapper of assertions on one element.
func (a *LocatorAssertions) single(
	ids []NodeID, doc Document, fn func(n NodeInfo) (observation, error),
) (observation, error) {
	if len(ids) == 0 {
		return observation{actual: "<element not found>", waiting: true}, nil
	}
	if len(ids) > 1 && a.l.page.browserCtx.engineOpts.strict() {
		return observation{}, &StrictModeError{Selector: a.l.selector, Count: len(ids)}
	}
	n, ok := doc.Node(ids[0])
	if !ok {
		return observation{actual: "<element not found>", waiting: true}, nil
	}
	return fn(n)
}

// ToBeVisible asserts the element is visible.
func (a *LocatorAssertions) ToBeVisible(ctx context.Context) error {
	return a.assert(ctx, "toBeVisible", "", func(doc Document, ids []NodeID) (observation, error) {
		if len(ids) > 1 && a.l.page.browserCtx.engineOpts.strict() {
			return observation{}, &StrictModeError{Selector: a.l.selector, Count: len(ids)}
		}
		visible := len(ids) > 0 && isVisible(doc, ids[0])
		return observation{pass: visible, actual: visibility(visible)}, nil
	})
}

// ToBeHidden asserts the element is hidden or missing.
func (a *LocatorAssertions) ToBeHidden(ctx context.Context) error {
	return a.assert(ctx, "toBeHidden", "", func(doc Document, ids []NodeID) (observation, error) {
		if len(ids) > 1 && a.l.page.browserCtx.engineOpts.strict() {
			return observation{}, &StrictModeError{Selector: a.l.selector, Count: len(ids)}
		}
		visible := len(ids) > 0 && isVisible(doc, ids[0])
		return observation{pass: !visible, actual: visibility(visible)}, nil
	})
}

func visibility(visible bool) string {
	if visible {
		return "visible"
	}
	return "hidden"
}

// ToBeEnabled asserts the element is enabled.
func (a *LocatorAssertions) ToBeEnabled(ctx context.Context) error {
	return a.assert(ctx, "toBeEnabled", "", func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			enabled := isEnabled(doc, n)
			return observation{pass: enabled, actual: strconv.FormatBool(enabled)}, nil
		})
	})
}

// ToBeDisabled asserts the element is disabled.
func (a *LocatorAssertions) ToBeDisabled(ctx context.Context) error {
	return a.assert(ctx, "toBeDisabled", "", func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			enabled := isEnabled(doc, n)
			return observation{pass: !enabled, actual: strconv.FormatBool(!enabled)}, nil
		})
	})
}

// ToBeEditable asserts the element is editable.
func (a *LocatorAssertions) ToBeEditable(ctx context.Context) error {
	return a.assert(ctx, "toBeEditable", "", func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			editable := isEditable(doc, n)
			return observation{pass: editable, actual: strconv.FormatBool(editable)}, nil
		})
	})
}

// ToBeChecked asserts a checkbox or radio button is checked.
func (a *LocatorAssertions) ToBeChecked(ctx context.Context) error {
	return a.assert(ctx, "toBeChecked", "", func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			checked, err := checkedState(doc, n)
			if err != nil {
				return observation{}, err
			}
			return observation{pass: checked, actual: strconv.FormatBool(checked)}, nil
		})
	})
}

// ToHaveText asserts the element's whitespace-normalized text equals
// expected, or matches it when expected is a "/re/flags" literal.
func (a *LocatorAssertions) ToHaveText(ctx context.Context, expected string) error {
	m, err := expectedText(expected, false)
	if err != nil {
		return err
	}
	return a.assertText(ctx, "toHaveText", expected, m)
}

// ToContainText asserts the element's text contains expected.
func (a *LocatorAssertions) ToContainText(ctx context.Context, expected string) error {
	m, err := expectedText(expected, true)
	if err != nil {
		return err
	}
	return a.assertText(ctx, "toContainText", expected, m)
}

func (a *LocatorAssertions) assertText(ctx context.Context, name, expected string, m *textMatcher) error {
	return a.assert(ctx, name, strconv.Quote(expected), func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			text := normalizeWhiteSpace(n.InnerText)
			return observation{pass: m.match(text), actual: strconv.Quote(text)}, nil
		})
	})
}

// ToHaveValue asserts the value of an input, textarea or select.
func (a *LocatorAssertions) ToHaveValue(ctx context.Context, expected string) error {
	m, err := expectedText(expected, false)
	if err != nil {
		return err
	}
	return a.assert(ctx, "toHaveValue", strconv.Quote(expected), func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			switch n.Tag {
			case "input", "textarea", "select":
			default:
				return observation{}, errors.New("element is not an <input>, <textarea> or <select> element")
			}
			return observation{pass: m.matchRaw(n.Value), actual: strconv.Quote(n.Value)}, nil
		})
	})
}

// ToHaveAttribute asserts the element has attribute name with a value
// equal to, or matching, expected.
func (a *LocatorAssertions) ToHaveAttribute(ctx context.Context, name, expected string) error {
	m, err := expectedText(expected, false)
	if err != nil {
		return err
	}
	desc := fmt.Sprintf("%q, %q", name, expected)
	return a.assert(ctx, "toHaveAttribute", desc, func(doc Document, ids []NodeID) (observation, error) {
		return a.single(ids, doc, func(n NodeInfo) (observation, error) {
			v, ok := n.Attr(name)
			if !ok {
				return observation{actual: "<no attribute>"}, nil
			}
			return observation{pass: m.matchRaw(v), actual: strconv.Quote(v)}, nil
		})
	})
}

// ToHaveCount asserts the number of matching elements.
func (a *LocatorAssertions) ToHaveCount(ctx context.Context, count int) error {
	return a.assert(ctx, "toHaveCount", strconv.Itoa(count), func(_ Document, ids []NodeID) (observation, error) {
		return observation{pass: len(ids) == count, actual: strconv.Itoa(len(ids))}, nil
	})
}

// expectedText builds the matcher of an expected string. Strings match the
// whole normalized text, or a part of it when substring is set.
func expectedText(expected string, substring bool) (*textMatcher, error) {
	if _, _, ok := jsregex.Parse(expected); ok {
		return parseTextMatcher(expected, hasTextDefaults)
	}
	if substring {
		return parseTextMatcher(strconv.Quote(expected), hasTextDefaults)
	}
	return parseTextMatcher(strconv.Quote(expected)+"s", hasTextDefaults)
}

// matchRaw matches text that hasn't been normalized, such as form values.
func (m *textMatcher) matchRaw(text string) bool {
	return m.match(normalizeWhiteSpace(text))
}

// PageAssertions are retrying assertions on a page.
type PageAssertions struct {
	p       *Page
	timeout time.Duration
	not     bool
}

// ExpectPage returns the assertions of p.
func ExpectPage(p *Page, opts *ExpectOptions) *PageAssertions {
	a := &PageAssertions{p: p}
	if opts != nil {
		a.timeout = opts.Timeout
	}
	return a
}

// Not returns the negated assertions.
func (a *PageAssertions) Not() *PageAssertions {
	n := *a
	n.not = !a.not
	return &n
}

func (a *PageAssertions) assert(ctx context.Context, name, expected string, observe func(ctx context.Context) (bool, string, error)) error {
	p := a.p
	p.logger.Debugf("Expect:"+name, "pid:%s not:%t expected:%s", p.ID(), a.not, expected)

	var actual string
	timeout := resolveTimeout(a.timeout, p.timeoutSettings.expectTimeout())
	w := newWaitTask(name, "", timeout, p.browserCtx.engineOpts.pollInterval(), p.closedCh, p.logger)
	err := w.run(ctx, func(ctx context.Context, _ int) (bool, []Condition, error) {
		pass, got, err := observe(ctx)
		if err != nil {
			return false, nil, err
		}
		actual = got
		return pass != a.not, nil, nil
	})
	if err == nil {
		return nil
	}
	var te *TimeoutError
	if !errors.As(err, &te) {
		return err
	}
	return &AssertionError{
		Assertion: name,
		Subject:   "page",
		Expected:  expected,
		Actual:    actual,
		Negated:   a.not,
		Err:       err,
	}
}

// ToHaveURL asserts the page URL matches pattern, a glob, a "/re/flags"
// literal, a *regexp.Regexp or a predicate.
func (a *PageAssertions) ToHaveURL(ctx context.Context, pattern any) error {
	matcher, err := newURLMatcher(pattern, a.p.browserCtx.opts.BaseURL)
	if err != nil {
		return fmt.Errorf("asserting url: %w", err)
	}
	return a.assert(ctx, "toHaveURL", fmt.Sprintf("%v", pattern), func(context.Context) (bool, string, error) {
		url := a.p.URL()
		return matcher(url), strconv.Quote(url), nil
	})
}

// ToHaveTitle asserts the document title equals expected, or matches it
// when expected is a "/re/flags" literal.
func (a *PageAssertions) ToHaveTitle(ctx context.Context, expected string) error {
	m, err := expectedText(expected, false)
	if err != nil {
		return err
	}
	return a.assert(ctx, "toHaveTitle", strconv.Quote(expected), func(ctx context.Context) (bool, string, error) {
		doc, err := a.p.snapshot(ctx)
		if err != nil {
			return false, "", err
		}
		return m.matchRaw(doc.Title()), strconv.Quote(doc.Title()), nil
	})
}
