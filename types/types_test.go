package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseExtendedDuration(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want time.Duration
	}{
		{"1500", 1500 * time.Millisecond},
		{"30s", 30 * time.Second},
		{"1d", 24 * time.Hour},
		{"1d2h", 26 * time.Hour},
		{"-1d2h", -26 * time.Hour},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()

			got, err := ParseExtendedDuration(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ParseExtendedDuration("1d-2h")
	require.Error(t, err)
	_, err = ParseExtendedDuration("soon")
	require.Error(t, err)
}

func TestNullDuration(t *testing.T) {
	t.Parallel()

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var v struct {
			A NullDuration `json:"a"`
			B NullDuration `json:"b"`
			C NullDuration `json:"c"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"a":"5s","b":250,"c":null}`), &v))
		assert.Equal(t, NullDurationFrom(5*time.Second), v.A)
		assert.Equal(t, NullDurationFrom(250*time.Millisecond), v.B)
		assert.False(t, v.C.Valid)
		assert.Equal(t, Duration(0), v.C.ValueOrZero())

		out, err := json.Marshal(v)
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":"5s","b":"250ms","c":null}`, string(out))
	})
	t.Run("yaml", func(t *testing.T) {
		t.Parallel()

		var v struct {
			Timeout NullDuration `yaml:"timeout"`
		}
		require.NoError(t, yaml.Unmarshal([]byte("timeout: 2s\n"), &v))
		assert.Equal(t, 2*time.Second, v.Timeout.TimeDuration())
		assert.True(t, v.Timeout.Valid)
	})
	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var d NullDuration
		require.NoError(t, d.UnmarshalText(nil))
		assert.False(t, d.Valid)
		require.Error(t, d.UnmarshalText([]byte("x")))
	})
}
