package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextMatcher(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		defaults textDefaults
		matches  []string
		rejects  []string
	}{
		{
			name: "text_unquoted", body: "log in", defaults: textEngineDefaults,
			matches: []string{"Log In", "please log in now"},
			rejects: []string{"login"},
		},
		{
			name: "text_quoted", body: `"Log in"`, defaults: textEngineDefaults,
			matches: []string{"Log in"},
			rejects: []string{"log in", "Log in now"},
		},
		{
			name: "has_text", body: "Save", defaults: hasTextDefaults,
			matches: []string{"Save all"},
			rejects: []string{"save all"},
		},
		{
			name: "attr", body: "login", defaults: attrDefaults,
			matches: []string{"login"},
			rejects: []string{"Login", "login-form"},
		},
		{
			name: "name", body: `"search"`, defaults: nameDefaults,
			matches: []string{"Search", "Site search"},
		},
		{
			name: "suffix_i", body: `"SAVE"i`, defaults: attrDefaults,
			matches: []string{"save draft"},
		},
		{
			name: "suffix_s", body: `"Save"s`, defaults: nameDefaults,
			matches: []string{"Save"},
			rejects: []string{"save", "Save all"},
		},
		{
			name: "single_quotes", body: `'it\'s'`, defaults: textEngineDefaults,
			matches: []string{"it's"},
		},
		{
			name: "white_space", body: `"  a   b "`, defaults: textEngineDefaults,
			matches: []string{"a b"},
		},
		{
			name: "regex", body: `/^item \d+$/i`, defaults: textEngineDefaults,
			matches: []string{"Item 12"},
			rejects: []string{"item x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := parseTextMatcher(tt.body, tt.defaults)
			require.NoError(t, err)
			for _, s := range tt.matches {
				assert.True(t, m.match(s), "%s should match %q", m, s)
			}
			for _, s := range tt.rejects {
				assert.False(t, m.match(s), "%s should not match %q", m, s)
			}
		})
	}
}

func TestTextMatcherErrors(t *testing.T) {
	t.Parallel()

	for _, body := range []string{`"open`, `"a"z`, `/[/`} {
		_, err := parseTextMatcher(body, textEngineDefaults)
		assert.Error(t, err, body)
	}
}

func TestNormalizeWhiteSpace(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a b c", normalizeWhiteSpace("\n a \t b\u200b  c  "))
	assert.Empty(t, normalizeWhiteSpace(" \n "))
}

func TestQuoteText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `"a\"b"s`, quoteText(`a"b`, true))
	assert.Equal(t, `"ab"i`, quoteText("ab", false))

	u, err := unquote(`'say "hi"'`)
	require.NoError(t, err)
	assert.Equal(t, `say "hi"`, u)
}
