package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/liuxd6825/autowait/jsregex"
)

type matchMode int

const (
	matchSubstring matchMode = iota
	matchExact
	matchRegex
)

// textMatcher matches normalized text. Its source form is one of:
//
//	foo      unquoted; mode decided by the engine
//	"foo"    quoted; mode decided by the engine
//	"foo"i   case-insensitive substring
//	"foo"s   case-sensitive exact match
//	/fo+/i   ECMAScript regular expression
type textMatcher struct {
	mode          matchMode
	caseSensitive bool
	needle        string
	pattern       string
	flags         string
}

// textDefaults are the modes used for bodies without an explicit suffix.
type textDefaults struct {
	unquotedMode          matchMode
	unquotedCaseSensitive bool
	quotedMode            matchMode
	quotedCaseSensitive   bool
}

var (
	// text=foo is a case-insensitive substring, text="foo" an exact match.
	textEngineDefaults = textDefaults{
		unquotedMode: matchSubstring, quotedMode: matchExact, quotedCaseSensitive: true,
	}
	// internal:has-text is case-sensitive unless told otherwise.
	hasTextDefaults = textDefaults{
		unquotedMode: matchSubstring, unquotedCaseSensitive: true,
		quotedMode: matchSubstring, quotedCaseSensitive: true,
	}
	// attribute values without a suffix must match exactly.
	attrDefaults = textDefaults{
		unquotedMode: matchExact, unquotedCaseSensitive: true,
		quotedMode: matchExact, quotedCaseSensitive: true,
	}
	// accessible names and labels are case-insensitive substrings.
	nameDefaults = textDefaults{
		unquotedMode: matchSubstring, quotedMode: matchSubstring,
	}
)

func parseTextMatcher(body string, defaults textDefaults) (*textMatcher, error) {
	body = strings.TrimSpace(body)
	if pattern, flags, ok := jsregex.Parse(body); ok {
		if err := jsregex.Compile(pattern, flags); err != nil {
			return nil, err //nolint:wrapcheck
		}
		return &textMatcher{mode: matchRegex, pattern: pattern, flags: flags}, nil
	}

	if len(body) >= 2 && (body[0] == '"' || body[0] == '\'') {
		q := body[0]
		end := closingQuote(body, q)
		if end < 0 {
			return nil, fmt.Errorf("unterminated string %s", body)
		}
		text, err := unquote(body[:end+1])
		if err != nil {
			return nil, err
		}
		m := &textMatcher{
			mode:          defaults.quotedMode,
			caseSensitive: defaults.quotedCaseSensitive,
			needle:        text,
		}
		switch suffix := body[end+1:]; suffix {
		case "":
		case "i", "I":
			m.mode, m.caseSensitive = matchSubstring, false
		case "s", "S":
			m.mode, m.caseSensitive = matchExact, true
		default:
			return nil, fmt.Errorf("unexpected %q after quoted text", suffix)
		}
		m.needle = normalizeWhiteSpace(m.needle)
		if !m.caseSensitive {
			m.needle = strings.ToLower(m.needle)
		}
		return m, nil
	}

	m := &textMatcher{
		mode:          defaults.unquotedMode,
		caseSensitive: defaults.unquotedCaseSensitive,
		needle:        normalizeWhiteSpace(body),
	}
	if !m.caseSensitive {
		m.needle = strings.ToLower(m.needle)
	}
	return m, nil
}

// match reports whether the already normalized text matches.
func (m *textMatcher) match(text string) bool {
	switch m.mode {
	case matchRegex:
		ok, err := jsregex.Match(m.pattern, m.flags, text)
		return err == nil && ok
	case matchExact:
		if !m.caseSensitive {
			return strings.ToLower(text) == m.needle
		}
		return text == m.needle
	default:
		if !m.caseSensitive {
			return strings.Contains(strings.ToLower(text), m.needle)
		}
		return strings.Contains(text, m.needle)
	}
}

func (m *textMatcher) String() string {
	switch m.mode {
	case matchRegex:
		return "/" + m.pattern + "/" + m.flags
	case matchExact:
		return strconv.Quote(m.needle) + "s"
	default:
		if m.caseSensitive {
			return strconv.Quote(m.needle)
		}
		return strconv.Quote(m.needle) + "i"
	}
}

// normalizeWhiteSpace collapses runs of white space and trims the result.
func normalizeWhiteSpace(s string) string {
	s = strings.ReplaceAll(s, "\u200b", "")
	return strings.Join(strings.Fields(s), " ")
}

// closingQuote returns the index of the quote closing the string that
// starts at s[0], honouring backslash escapes.
func closingQuote(s string, q byte) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case q:
			return i
		}
	}
	return -1
}

// unquote removes the quotes of a single or double quoted string and
// resolves its escapes.
func unquote(s string) (string, error) {
	if len(s) < 2 {
		return "", errors.New("invalid quoted string")
	}
	if s[0] == '\'' {
		inner := s[1 : len(s)-1]
		inner = strings.ReplaceAll(inner, `\'`, `'`)
		inner = strings.ReplaceAll(inner, `"`, `\"`)
		s = `"` + inner + `"`
	}
	u, err := strconv.Unquote(s)
	if err != nil {
		return "", fmt.Errorf("invalid quoted string %s: %w", s, err)
	}
	return u, nil
}

// quoteText quotes text for use in a selector body, with the suffix chosen
// by exact.
func quoteText(text string, exact bool) string {
	if exact {
		return strconv.Quote(text) + "s"
	}
	return strconv.Quote(text) + "i"
}
