package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeoutSettings(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		ts := NewTimeoutSettings(nil)
		assert.Equal(t, DefaultTimeout, ts.timeout())
		assert.Equal(t, DefaultTimeout, ts.navigationTimeout())
		assert.Equal(t, DefaultExpectTimeout, ts.expectTimeout())
	})

	t.Run("parent_fallback", func(t *testing.T) {
		t.Parallel()

		parent := NewTimeoutSettings(nil)
		parent.setDefaultTimeout(10 * time.Second)
		parent.setDefaultExpectTimeout(time.Second)
		child := NewTimeoutSettings(parent)

		assert.Equal(t, 10*time.Second, child.timeout())
		assert.Equal(t, 10*time.Second, child.navigationTimeout())
		assert.Equal(t, time.Second, child.expectTimeout())
	})

	t.Run("child_overrides", func(t *testing.T) {
		t.Parallel()

		parent := NewTimeoutSettings(nil)
		parent.setDefaultTimeout(10 * time.Second)
		child := NewTimeoutSettings(parent)
		child.setDefaultTimeout(2 * time.Second)
		child.setDefaultNavigationTimeout(3 * time.Second)

		assert.Equal(t, 2*time.Second, child.timeout())
		assert.Equal(t, 3*time.Second, child.navigationTimeout())
		assert.Equal(t, 10*time.Second, parent.timeout())
	})
}

func TestResolveTimeout(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5*time.Second, resolveTimeout(0, 5*time.Second))
	assert.Equal(t, time.Second, resolveTimeout(time.Second, 5*time.Second))
	assert.Equal(t, time.Duration(0), resolveTimeout(NoTimeout, 5*time.Second))
}
