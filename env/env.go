// Package env wraps environment variable lookups so that they can be
// replaced in tests.
package env

import (
	"os"
	"strconv"
)

// LookupFunc defines a function to look up a key from the environment.
type LookupFunc func(key string) (string, bool)

// Lookup is the LookupFunc backed by the process environment.
func Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// ConstLookup returns a LookupFunc that serves values from a fixed map.
func ConstLookup(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

// IsHeadful reports whether AUTOWAIT_HEADFUL is set to a true value. The CLI
// uses it to decide whether to echo every resolved node.
func IsHeadful(envLookup LookupFunc) bool {
	v, ok := envLookup("AUTOWAIT_HEADFUL")
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
