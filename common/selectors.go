/**
 * Copyright (c) Microsoft Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"
)

// Matches `name:body`, a query engine name and selector for that engine.
var reQueryEngine = regexp.MustCompile(`^[a-zA-Z_0-9-+:*]+$`)

// Matches start of XPath query.
var reXPathSelector = regexp.MustCompile(`^\(*//`)

// Matches the text selectors of the form text=<value>
var reTextSelector = regexp.MustCompile(`^\s*text\s*=\s*(.*)$`)

// partKind decides how the resolver applies a part to the current set.
type partKind int

const (
	// query parts search below every element of the current set.
	partQuery partKind = iota
	// filter parts keep or drop elements of the current set.
	partFilter
	// index parts pick a single element of the current set.
	partIndex
	// combine parts merge the set with another selector's matches.
	partCombine
	// control parts substitute the roots, e.g. entering a frame.
	partControl
)

// engine names
const (
	engineCSS        = "css"
	engineXPath      = "xpath"
	engineText       = "text"
	engineRole       = "role"
	engineNth        = "nth"
	engineVisible    = "visible"
	engineID         = "id"
	engineInternal   = "internal:"
	engineITText     = "internal:text"
	engineIRole      = "internal:role"
	engineILabel     = "internal:label"
	engineIAttr      = "internal:attr"
	engineITestID    = "internal:testid"
	engineIHasText   = "internal:has-text"
	engineIHasNotTxt = "internal:has-not-text"
	engineIHas       = "internal:has"
	engineIHasNot    = "internal:has-not"
	engineIOr        = "internal:or"
	engineIAnd       = "internal:and"
	engineIControl   = "internal:control"
)

const (
	controlEnterFrame  = "enter-frame"
	controlEnterShadow = "enter-shadow"
)

// SelectorPart is a single `engine=body` step of a selector chain.
type SelectorPart struct {
	Name string `json:"name"`
	Body string `json:"body"`

	kind    partKind
	css     *cssQuery
	xpath   string
	text    *textMatcher
	role    *roleQuery
	attr    *attrQuery
	nested  *Selector
	negate  bool
	index   int
	visible bool
	control string
}

// Selector is a parsed selector: an immutable chain of parts.
type Selector struct {
	Selector string          `json:"selector"`
	Parts    []*SelectorPart `json:"parts"`

	// By default chained queries resolve to elements matched by the last selector,
	// but a selector can be prefixed with `*` to capture elements resolved by
	// an intermediate selector.
	Capture *int `json:"capture"`
}

// NewSelector parses and validates a selector. Any problem is reported as a
// *SelectorError wrapping ErrSelectorSyntax.
func NewSelector(selector string) (*Selector, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, &SelectorError{Selector: selector, Err: errors.New("provided selector is empty")}
	}

	s := Selector{
		Selector: selector,
		Parts:    make([]*SelectorPart, 0, 1),
	}
	if err := s.parse(); err != nil {
		return nil, &SelectorError{Selector: selector, Err: err}
	}
	for _, p := range s.Parts {
		if err := p.compile(); err != nil {
			return nil, &SelectorError{Selector: selector, Part: p.Name + "=" + p.Body, Err: err}
		}
	}
	return &s, nil
}

func (s *Selector) String() string { return s.Selector }

func (s *Selector) appendPart(p *SelectorPart, capture bool) error {
	s.Parts = append(s.Parts, p)
	if capture {
		if s.Capture != nil {
			return errors.New("only one of the selectors can capture using * modifier")
		}
		s.Capture = new(int)
		*s.Capture = (len(s.Parts) - 1)
	}
	return nil
}

// parse splits the selector into parts, separated by `>>`, and identifies
// the query engine for each part.
//
//nolint:cyclop,funlen
func (s *Selector) parse() error {
	parsePart := func(part string) (*SelectorPart, bool) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}

		before, after, ok := strings.Cut(part, "=")
		var name, body string

		switch {
		case ok && reQueryEngine.MatchString(strings.TrimSpace(before)):
			name = strings.TrimSpace(before)
			body = strings.TrimSpace(after)
		case len(part) > 1 && part[0] == '"' && part[len(part)-1] == '"':
			name = engineText
			body = part
		case len(part) > 1 && part[0] == '\'' && part[len(part)-1] == '\'':
			name = engineText
			body = part
		case reXPathSelector.MatchString(part) || strings.HasPrefix(part, ".."):
			name = engineXPath
			body = part
		default:
			name = engineCSS
			body = part
		}

		capture := false
		if strings.HasPrefix(name, "*") {
			capture = true
			name = name[1:]
		}

		return &SelectorPart{Name: name, Body: body}, capture
	}

	var (
		start, index int
		quote        rune
	)

	appendPart := func(start, end int) error {
		p, capture := parsePart(s.Selector[start:end])
		// Skip empty segments between `>>`.
		if p == nil {
			return nil
		}
		return s.appendPart(p, capture)
	}

	if !strings.Contains(s.Selector, ">>") {
		return appendPart(0, len(s.Selector))
	}

	shouldIgnoreTextSelectorQuote := func(start, end int) bool {
		prefix := s.Selector[start:end]
		if match := reTextSelector.FindStringSubmatch(prefix); match != nil && match[1] != "" {
			return true
		}
		return false
	}

	for index < len(s.Selector) {
		c := rune(s.Selector[index])
		switch {
		case c == '\\' && index+1 < len(s.Selector):
			index += 2
		case c == quote:
			quote = 0
			index++
		case quote == 0 && (c == '"' || c == '\'' || c == '`') && !shouldIgnoreTextSelectorQuote(start, index):
			quote = c
			index++
		case quote == 0 && c == '>' && index+1 < len(s.Selector) && s.Selector[index+1] == '>':
			if err := appendPart(start, index); err != nil {
				return err
			}
			index += 2
			start = index
		default:
			index++
		}
	}
	if quote != 0 {
		return fmt.Errorf("unterminated %c quote", quote)
	}

	return appendPart(start, index)
}

// compile validates the body of the part and stores its parsed form.
//
//nolint:cyclop,funlen
func (p *SelectorPart) compile() (err error) {
	switch p.Name {
	case engineCSS:
		p.kind = partQuery
		p.css, err = parseCSSQuery(p.Body)
	case engineXPath:
		p.kind = partQuery
		p.xpath = p.Body
		if _, err = xpath.Compile(relativeXPath(p.Body, false)); err != nil {
			err = fmt.Errorf("invalid xpath: %w", err)
		}
	case engineText:
		p.kind = partQuery
		p.text, err = parseTextMatcher(p.Body, textEngineDefaults)
	case engineITText:
		p.kind = partQuery
		p.text, err = parseTextMatcher(p.Body, nameDefaults)
	case engineRole, engineIRole:
		p.kind = partQuery
		p.role, err = parseRoleQuery(p.Body)
	case engineILabel:
		p.kind = partQuery
		p.text, err = parseTextMatcher(p.Body, nameDefaults)
	case engineIAttr, engineITestID:
		p.kind = partQuery
		p.attr, err = parseAttrQuery(p.Body)
	case engineID, "data-testid", "data-test-id", "data-test":
		p.kind = partQuery
		var m *textMatcher
		m, err = parseTextMatcher(p.Body, attrDefaults)
		p.attr = &attrQuery{name: p.Name, value: m}
	case engineIHasText, engineIHasNotTxt:
		p.kind = partFilter
		p.negate = p.Name == engineIHasNotTxt
		p.text, err = parseTextMatcher(p.Body, hasTextDefaults)
	case engineIHas, engineIHasNot, engineIOr, engineIAnd:
		p.kind = partFilter
		if p.Name == engineIOr || p.Name == engineIAnd {
			p.kind = partCombine
		}
		p.negate = p.Name == engineIHasNot
		p.nested, err = parseNestedSelector(p.Body)
	case engineNth:
		p.kind = partIndex
		p.index, err = strconv.Atoi(strings.TrimSpace(p.Body))
		if err != nil {
			err = fmt.Errorf("nth expects an integer, got %q", p.Body)
		}
	case engineVisible:
		p.kind = partFilter
		p.visible, err = strconv.ParseBool(strings.TrimSpace(p.Body))
		if err != nil {
			err = fmt.Errorf("visible expects true or false, got %q", p.Body)
		}
	case engineIControl:
		p.kind = partControl
		p.control = strings.TrimSpace(p.Body)
		if p.control != controlEnterFrame && p.control != controlEnterShadow {
			err = fmt.Errorf("unknown control %q", p.Body)
		}
	default:
		err = fmt.Errorf("unknown engine %q", p.Name)
	}

	return err
}

func parseNestedSelector(body string) (*Selector, error) {
	body = strings.TrimSpace(body)
	if body == "" || (body[0] != '"' && body[0] != '\'') {
		return nil, fmt.Errorf("nested selector must be quoted, got %q", body)
	}
	inner, err := unquote(body)
	if err != nil {
		return nil, err
	}
	sel, err := NewSelector(inner)
	if err != nil {
		return nil, err
	}
	return sel, nil
}

// relativeXPath makes absolute expressions relative to a non-document root.
func relativeXPath(expr string, documentRoot bool) string {
	if !documentRoot && strings.HasPrefix(expr, "/") {
		return "." + expr
	}
	return expr
}

// cssQuery is a CSS selector with the supported text and visibility pseudo
// classes split off.
type cssQuery struct {
	expr    string
	hasText []*textMatcher
	text    []*textMatcher
	visible bool
}

var reCSSExtension = regexp.MustCompile(`:(has-text|text|visible)(\(\s*("(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*')\s*\))?`)

// parseCSSQuery extracts :has-text(), :text() and :visible, which are only
// supported on the last compound selector, and validates what remains with
// cascadia.
func parseCSSQuery(body string) (*cssQuery, error) {
	body = strings.TrimSpace(body)
	q := &cssQuery{}
	locs := reCSSExtension.FindAllStringSubmatchIndex(body, -1)
	if len(locs) == 0 {
		q.expr = body
	} else {
		var sb strings.Builder
		last := 0
		for _, loc := range locs {
			sb.WriteString(body[last:loc[0]])
			last = loc[1]
			if rest := body[loc[1]:]; strings.ContainsAny(stripExtensions(rest), " >+~,") {
				return nil, fmt.Errorf("pseudo-class %q is only supported on the last compound selector", body[loc[0]:loc[1]])
			}
			name := body[loc[2]:loc[3]]
			var arg string
			if loc[6] >= 0 {
				arg = body[loc[6]:loc[7]]
			}
			switch name {
			case "visible":
				if arg != "" {
					return nil, errors.New(":visible takes no argument")
				}
				q.visible = true
			case "has-text", "text":
				if arg == "" {
					return nil, fmt.Errorf(":%s requires a quoted argument", name)
				}
				defaults := hasTextDefaults
				if name == "text" {
					defaults = nameDefaults
				}
				m, err := parseTextMatcher(arg, defaults)
				if err != nil {
					return nil, err
				}
				if name == "text" {
					q.text = append(q.text, m)
				} else {
					q.hasText = append(q.hasText, m)
				}
			}
		}
		sb.WriteString(body[last:])
		// An extension standing alone after a combinator applies to any
		// element, e.g. "div :visible" is "div *:visible".
		raw := strings.TrimLeftFunc(sb.String(), unicode.IsSpace)
		q.expr = strings.TrimRightFunc(raw, unicode.IsSpace)
		switch {
		case q.expr == "":
			q.expr = "*"
		case len(q.expr) < len(raw), strings.HasSuffix(q.expr, ">"),
			strings.HasSuffix(q.expr, "+"), strings.HasSuffix(q.expr, "~"):
			q.expr += " *"
		}
	}

	if _, err := cascadia.ParseGroup(q.expr); err != nil {
		return nil, fmt.Errorf("invalid css: %w", err)
	}
	return q, nil
}

func stripExtensions(s string) string {
	return reCSSExtension.ReplaceAllString(s, "")
}

// roleQuery is the parsed body of a role selector, e.g.
// `button[name="Search"i][level=2][include-hidden]`.
type roleQuery struct {
	role          string
	name          *textMatcher
	level         int
	checked       string
	pressed       string
	expanded      string
	selected      *bool
	disabled      *bool
	includeHidden bool
}

var reRoleName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*`)

//nolint:cyclop
func parseRoleQuery(body string) (*roleQuery, error) {
	body = strings.TrimSpace(body)
	role := reRoleName.FindString(body)
	if role == "" {
		return nil, fmt.Errorf("role selector must start with a role name, got %q", body)
	}
	q := &roleQuery{role: strings.ToLower(role)}

	attrs, err := splitAttributes(body[len(role):])
	if err != nil {
		return nil, err
	}
	for _, a := range attrs {
		switch a.name {
		case "name":
			if !a.hasValue {
				return nil, errors.New("role attribute name requires a value")
			}
			if q.name, err = parseTextMatcher(a.value, nameDefaults); err != nil {
				return nil, err
			}
		case "level":
			if q.level, err = strconv.Atoi(a.value); err != nil || q.level < 1 {
				return nil, fmt.Errorf("level must be a positive integer, got %q", a.value)
			}
		case "checked", "pressed":
			v := strings.Trim(a.value, `"'`)
			if !a.hasValue {
				v = "true"
			}
			if v != "true" && v != "false" && v != "mixed" {
				return nil, fmt.Errorf("%s must be true, false or mixed, got %q", a.name, v)
			}
			if a.name == "checked" {
				q.checked = v
			} else {
				q.pressed = v
			}
		case "expanded", "selected", "disabled", "include-hidden":
			v := true
			if a.hasValue {
				if v, err = strconv.ParseBool(strings.Trim(a.value, `"'`)); err != nil {
					return nil, fmt.Errorf("%s must be true or false, got %q", a.name, a.value)
				}
			}
			switch a.name {
			case "expanded":
				q.expanded = strconv.FormatBool(v)
			case "selected":
				q.selected = &v
			case "disabled":
				q.disabled = &v
			default:
				q.includeHidden = v
			}
		case "exact":
			// name matching is decided by the quote suffix
		default:
			return nil, fmt.Errorf("unknown role attribute %q", a.name)
		}
	}

	return q, nil
}

// attrQuery matches an attribute value: `[data-testid="login"s]`.
type attrQuery struct {
	name  string
	value *textMatcher
}

func parseAttrQuery(body string) (*attrQuery, error) {
	attrs, err := splitAttributes(strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if len(attrs) != 1 || !attrs[0].hasValue {
		return nil, fmt.Errorf("expected a single [name=value] attribute, got %q", body)
	}
	m, err := parseTextMatcher(attrs[0].value, attrDefaults)
	if err != nil {
		return nil, err
	}
	return &attrQuery{name: attrs[0].name, value: m}, nil
}

type bracketAttr struct {
	name     string
	value    string
	hasValue bool
}

// splitAttributes parses a sequence of `[name]` and `[name=value]` brackets.
// Values may be quoted (with an optional i/s suffix) or regex literals.
func splitAttributes(s string) ([]bracketAttr, error) {
	var attrs []bracketAttr
	for {
		s = strings.TrimSpace(s)
		if s == "" {
			return attrs, nil
		}
		if s[0] != '[' {
			return nil, fmt.Errorf("expected '[' at %q", s)
		}
		end := closingBracket(s)
		if end < 0 {
			return nil, fmt.Errorf("unterminated attribute %q", s)
		}
		inner := strings.TrimSpace(s[1:end])
		s = s[end+1:]

		name, value, hasValue := strings.Cut(inner, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("empty attribute name in %q", inner)
		}
		attrs = append(attrs, bracketAttr{name: name, value: strings.TrimSpace(value), hasValue: hasValue})
	}
}

func closingBracket(s string) int {
	var quote byte
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\':
			i++
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}
