// Package clock provides the Clock implementations used by the gateway:
// a real system clock for production and a mock clock for deterministic
// expiry/TTL tests, grounded on the reference node's
// infrastructure/clock package (system_clock.go, mock_clock.go).
package clock

import (
	"sync"
	"time"

	clockiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/clock"
)

// SystemClock returns the real wall clock.
type SystemClock struct{}

// NewSystemClock builds a Clock backed by time.Now.
func NewSystemClock() clockiface.Clock { return &SystemClock{} }

func (c *SystemClock) Now() time.Time { return time.Now() }

// MockClock is a settable clock for tests: scheduler ticks, token TTLs
// and intent expiry can all be exercised without real sleeps.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock builds a MockClock starting at the given instant.
func NewMockClock(initial time.Time) *MockClock {
	return &MockClock{now: initial}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the mock clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the mock clock to an absolute instant.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var _ clockiface.Clock = (*MockClock)(nil)
