/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/autowait/jsregex"
)

// waitForEvent waits for the first event among events that satisfies
// predicate, while trigger runs. The handler is registered before trigger
// starts, so an event fired by trigger can't be missed. A zero timeout
// waits until ctx is done or closed is closed.
//
//nolint:cyclop
func waitForEvent(
	ctx context.Context, op string,
	emitter EventEmitter, closed <-chan struct{}, events []string,
	predicate func(data any) (bool, error), timeout time.Duration,
	trigger func(context.Context) error,
) (any, error) {
	evCtx, evCancel := context.WithCancel(ctx)
	defer evCancel()

	chEv := make(chan Event)
	emitter.on(evCtx, events, chEv)

	g, gctx := errgroup.WithContext(evCtx)
	if trigger != nil {
		g.Go(func() error { return trigger(gctx) })
	}

	var result any
	g.Go(func() error {
		var (
			start    = time.Now()
			deadline <-chan time.Time
		)
		if timeout > 0 {
			t := time.NewTimer(timeout)
			defer t.Stop()
			deadline = t.C
		}
		for {
			select {
			case ev := <-chEv:
				if predicate != nil {
					ok, err := predicate(ev.data)
					if err != nil {
						return fmt.Errorf("%s: evaluating predicate: %w", op, err)
					}
					if !ok {
						continue
					}
				}
				result = ev.data
				return nil
			case <-deadline:
				return &TimeoutError{
					Kind:    ErrEventWaitTimeout,
					Op:      op,
					Timeout: timeout,
					Elapsed: time.Since(start),
				}
			case <-closed:
				return contextClosedError(op)
			case <-gctx.Done():
				return fmt.Errorf("%s: %w", op, gctx.Err())
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err //nolint:wrapcheck
	}
	return result, nil
}

// URLMatcher reports whether a URL matches a pattern.
type URLMatcher func(url string) bool

// newURLMatcher builds a matcher from one of:
//
//	string             a glob such as "**/api/*.json", or "/re/flags"
//	*regexp.Regexp
//	func(string) bool
//
// An empty string matches every URL. Relative globs are resolved against
// baseURL.
func newURLMatcher(pattern any, baseURL string) (URLMatcher, error) {
	switch p := pattern.(type) {
	case nil:
		return func(string) bool { return true }, nil
	case URLMatcher:
		return p, nil
	case func(string) bool:
		return p, nil
	case *regexp.Regexp:
		return p.MatchString, nil
	case string:
		if p == "" {
			return func(string) bool { return true }, nil
		}
		if re, flags, ok := jsregex.Parse(p); ok {
			if err := jsregex.Compile(re, flags); err != nil {
				return nil, fmt.Errorf("compiling url pattern %q: %w", p, err)
			}
			return func(u string) bool {
				ok, err := jsregex.Match(re, flags, u)
				return err == nil && ok
			}, nil
		}
		re, err := regexp.Compile(globToRegex(resolveGlob(p, baseURL)))
		if err != nil {
			return nil, fmt.Errorf("compiling url glob %q: %w", p, err)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("unsupported url pattern type %T", pattern)
	}
}

func resolveGlob(glob, baseURL string) string {
	if baseURL == "" || strings.HasPrefix(glob, "*") || strings.Contains(glob, "://") {
		return glob
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return glob
	}
	ref, err := url.Parse(glob)
	if err != nil {
		return glob
	}
	return base.ResolveReference(ref).String()
}

// globToRegex converts a URL glob into an anchored regular expression:
// "**" matches anything, "*" anything but a slash, "?" a single character
// and "{a,b}" either alternative.
func globToRegex(glob string) string {
	var sb strings.Builder
	sb.WriteByte('^')

	inGroup := false
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '\\' && i+1 < len(glob):
			i++
			sb.WriteString(regexp.QuoteMeta(glob[i : i+1]))
		case c == '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				for i+1 < len(glob) && glob[i+1] == '*' {
					i++
				}
				sb.WriteString(".*")
			} else {
				sb.WriteString("[^/]*")
			}
		case c == '?':
			sb.WriteByte('.')
		case c == '{':
			inGroup = true
			sb.WriteByte('(')
		case c == '}' && inGroup:
			inGroup = false
			sb.WriteByte(')')
		case c == ',' && inGroup:
			sb.WriteByte('|')
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteByte('$')
	return sb.String()
}

// TrimQuotes removes surrounding single or double quotes from s.
// Unbalanced values are returned unchanged, e.g. `"'arg`.
func TrimQuotes(s string) string {
	if len(s) >= 2 {
		if c := s[len(s)-1]; s[0] == c && (c == '"' || c == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
