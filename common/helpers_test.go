package common

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern any
		base    string
		matches []string
		rejects []string
	}{
		{
			name: "nil", pattern: nil,
			matches: []string{"http://a.test/", "data:text/html,x"},
		},
		{
			name: "empty", pattern: "",
			matches: []string{"http://a.test/"},
		},
		{
			name: "double_star", pattern: "**/api/*.json",
			matches: []string{"http://a.test/api/users.json", "https://b.test/v1/api/x.json"},
			rejects: []string{"http://a.test/api/v1/users.json", "http://a.test/api/users.xml"},
		},
		{
			name: "braces", pattern: "**/*.{png,jpg}",
			matches: []string{"http://a.test/img/a.png", "http://a.test/b.jpg"},
			rejects: []string{"http://a.test/c.gif"},
		},
		{
			name: "question_mark", pattern: "http://a.test/p?",
			matches: []string{"http://a.test/p1"},
			rejects: []string{"http://a.test/p12"},
		},
		{
			name: "relative", pattern: "/login", base: "http://app.test/",
			matches: []string{"http://app.test/login"},
			rejects: []string{"http://other.test/login"},
		},
		{
			name: "js_regex", pattern: "/\\/users\\/\\d+$/",
			matches: []string{"http://a.test/users/42"},
			rejects: []string{"http://a.test/users/me"},
		},
		{
			name: "go_regexp", pattern: regexp.MustCompile(`\?page=\d`),
			matches: []string{"http://a.test/list?page=2"},
			rejects: []string{"http://a.test/list"},
		},
		{
			name: "func", pattern: func(u string) bool { return len(u) < 16 },
			matches: []string{"http://a.test/"},
			rejects: []string{"http://a.test/long/path"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := newURLMatcher(tt.pattern, tt.base)
			require.NoError(t, err)
			for _, u := range tt.matches {
				assert.True(t, m(u), u)
			}
			for _, u := range tt.rejects {
				assert.False(t, m(u), u)
			}
		})
	}

	_, err := newURLMatcher(42, "")
	assert.Error(t, err)
	_, err = newURLMatcher("/(/", "")
	assert.Error(t, err)
}

func TestGlobToRegex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `^.*/[^/]*\.js$`, globToRegex("**/*.js"))
	assert.Equal(t, `^a\*b$`, globToRegex(`a\*b`))
	assert.Equal(t, `^(a|b)$`, globToRegex("{a,b}"))
}

func TestTrimQuotes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "arg", TrimQuotes(`"arg"`))
	assert.Equal(t, "arg", TrimQuotes(`'arg'`))
	assert.Equal(t, `"'arg`, TrimQuotes(`"'arg`))
	assert.Equal(t, `"`, TrimQuotes(`"`))
}

func TestWaitForEvent(t *testing.T) {
	t.Parallel()

	t.Run("fired_by_trigger", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		v, err := waitForEvent(context.Background(), "waiting", &em, nil, []string{"ping"}, nil, time.Second,
			func(context.Context) error {
				// emitted synchronously, before waitForEvent has a chance to
				// look at the channel
				em.emit("ping", 1)
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	})

	t.Run("predicate", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		v, err := waitForEvent(context.Background(), "waiting", &em, nil, []string{"n"},
			func(data any) (bool, error) { return data.(int) > 2, nil }, //nolint:forcetypeassert
			time.Second,
			func(context.Context) error {
				for i := range 5 {
					em.emit("n", i)
				}
				return nil
			})
		require.NoError(t, err)
		assert.Equal(t, 3, v)
	})

	t.Run("predicate_error", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		boom := errors.New("boom")
		_, err := waitForEvent(context.Background(), "waiting", &em, nil, []string{"n"},
			func(any) (bool, error) { return false, boom }, time.Second,
			func(context.Context) error { em.emit("n", 0); return nil })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("trigger_error", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		boom := errors.New("boom")
		_, err := waitForEvent(context.Background(), "waiting", &em, nil, []string{"n"}, nil, 0,
			func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		start := time.Now()
		_, err := waitForEvent(context.Background(), "waiting for ping", &em, nil, []string{"ping"}, nil,
			100*time.Millisecond, nil)
		require.ErrorIs(t, err, ErrEventWaitTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

		var terr *TimeoutError
		require.ErrorAs(t, err, &terr)
		assert.Empty(t, terr.Unmet)
		assert.Equal(t, "waiting for ping", terr.Op)
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		closed := make(chan struct{})
		close(closed)
		_, err := waitForEvent(context.Background(), "waiting", &em, closed, []string{"ping"}, nil, 0, nil)
		assert.ErrorIs(t, err, ErrContextClosed)
	})

	t.Run("other_events_ignored", func(t *testing.T) {
		t.Parallel()

		var em BaseEventEmitter
		_, err := waitForEvent(context.Background(), "waiting", &em, nil, []string{"ping"}, nil,
			50*time.Millisecond, func(context.Context) error { em.emit("pong", 1); return nil })
		assert.ErrorIs(t, err, ErrEventWaitTimeout)
	})
}

func TestEventEmitterDropsDoneHandlers(t *testing.T) {
	t.Parallel()

	var em BaseEventEmitter
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan Event)
	em.onAll(ctx, ch)
	cancel()
	em.emit("x", nil)

	em.mu.Lock()
	defer em.mu.Unlock()
	assert.Empty(t, em.handlers)
}
