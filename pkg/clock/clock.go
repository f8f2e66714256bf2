// Package clock provides a replaceable time source so deadline and SLA
// arithmetic can be exercised deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// NowFunc returns the current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }

// Func is the signature accepted by components that take an injectable clock.
type Func func() time.Time

// Or returns f when it is set and Now otherwise.
func Or(f Func) Func {
	if f != nil {
		return f
	}
	return Now
}

// Fixed returns a Func that always reports t.
func Fixed(t time.Time) Func {
	return func() time.Time { return t }
}

// Manual is a settable clock for tests.
type Manual struct {
	mu sync.Mutex
	t  time.Time
}

// NewManual creates a Manual clock reading t.
func NewManual(t time.Time) *Manual {
	return &Manual{t: t}
}

// Now returns the current reading.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.t = m.t.Add(d)
	m.mu.Unlock()
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.t = t
	m.mu.Unlock()
}
