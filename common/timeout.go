package common

import "time"

// TimeoutSettings holds the default timeouts of a browser context or page.
// Unset values fall back to the parent settings and then to the package
// defaults.
type TimeoutSettings struct {
	parent                   *TimeoutSettings
	defaultTimeout           *time.Duration
	defaultNavigationTimeout *time.Duration
	defaultExpectTimeout     *time.Duration
}

// NewTimeoutSettings creates a new timeout settings object.
func NewTimeoutSettings(parent *TimeoutSettings) *TimeoutSettings {
	return &TimeoutSettings{parent: parent}
}

func (t *TimeoutSettings) setDefaultTimeout(timeout time.Duration) {
	t.defaultTimeout = &timeout
}

func (t *TimeoutSettings) setDefaultNavigationTimeout(timeout time.Duration) {
	t.defaultNavigationTimeout = &timeout
}

func (t *TimeoutSettings) setDefaultExpectTimeout(timeout time.Duration) {
	t.defaultExpectTimeout = &timeout
}

func (t *TimeoutSettings) navigationTimeout() time.Duration {
	if t.defaultNavigationTimeout != nil {
		return *t.defaultNavigationTimeout
	}
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.navigationTimeout()
	}
	return DefaultTimeout
}

func (t *TimeoutSettings) timeout() time.Duration {
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.timeout()
	}
	return DefaultTimeout
}

func (t *TimeoutSettings) expectTimeout() time.Duration {
	if t.defaultExpectTimeout != nil {
		return *t.defaultExpectTimeout
	}
	if t.parent != nil {
		return t.parent.expectTimeout()
	}
	return DefaultExpectTimeout
}

// resolve picks the timeout of a single call: a positive value wins,
// NoTimeout disables it and zero falls back to def.
func resolveTimeout(given, def time.Duration) time.Duration {
	switch {
	case given > 0:
		return given
	case given < 0:
		return 0
	default:
		return def
	}
}
