// Package jsregex matches strings against ECMAScript regular expressions.
// Selector bodies and URL patterns are written with JavaScript regex syntax
// (lookarounds, named groups with `(?<x>)`, the `u` and `s` flags), which the
// Go regexp package can't express, so the expressions are evaluated by goja.
package jsregex

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// Matcher evaluates ECMAScript regular expressions. It is safe for
// concurrent use; calls are serialised on a single goja runtime.
type Matcher struct {
	mu    sync.Mutex
	rt    *goja.Runtime
	cache map[string]*goja.Object
}

// New returns a Matcher with its own runtime.
func New() *Matcher {
	return &Matcher{
		rt:    goja.New(),
		cache: make(map[string]*goja.Object),
	}
}

var defaultMatcher = New() //nolint:gochecknoglobals

// Match reports whether s matches pattern with the given flags using the
// package level Matcher.
func Match(pattern, flags, s string) (bool, error) {
	return defaultMatcher.Match(pattern, flags, s)
}

// Compile validates pattern and flags using the package level Matcher.
func Compile(pattern, flags string) error {
	return defaultMatcher.Compile(pattern, flags)
}

// Parse splits a regex literal such as `/^sub\/mit$/i` into its pattern and
// flags. ok is false if lit isn't a regex literal.
func Parse(lit string) (pattern, flags string, ok bool) {
	if len(lit) < 2 || lit[0] != '/' {
		return "", "", false
	}
	end := strings.LastIndexByte(lit, '/')
	if end == 0 {
		return "", "", false
	}
	flags = lit[end+1:]
	for _, f := range flags {
		if !strings.ContainsRune("dgimsuvy", f) {
			return "", "", false
		}
	}
	return lit[1:end], flags, true
}

// Compile validates the expression without matching anything.
func (m *Matcher) Compile(pattern, flags string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.regexp(pattern, flags)
	return err
}

// Match reports whether s matches the expression.
func (m *Matcher) Match(pattern, flags, s string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	re, err := m.regexp(pattern, flags)
	if err != nil {
		return false, err
	}
	test, ok := goja.AssertFunction(re.Get("test"))
	if !ok {
		return false, fmt.Errorf("regexp %q has no test method", pattern)
	}
	res, err := test(re, m.rt.ToValue(s))
	if err != nil {
		return false, fmt.Errorf("matching %q against /%s/%s: %w", s, pattern, flags, err)
	}
	return res.ToBoolean(), nil
}

// regexp must be called with mu held.
func (m *Matcher) regexp(pattern, flags string) (*goja.Object, error) {
	// global and sticky expressions keep state between calls
	flags = strings.NewReplacer("g", "", "y", "").Replace(flags)

	key := flags + "/" + pattern
	if re, ok := m.cache[key]; ok {
		return re, nil
	}
	re, err := m.rt.New(m.rt.Get("RegExp"), m.rt.ToValue(pattern), m.rt.ToValue(flags))
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression /%s/%s: %w", pattern, flags, err)
	}
	m.cache[key] = re
	return re, nil
}
