// Package clock abstracts wall-clock reads so timer code can be driven by a
// mock clock in tests.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns the wall reading only. The monotonic clock stops while the
// host is suspended, so elapsed time across a sleep would be lost.
func (Real) Now() time.Time { return time.Now().Round(0) }

// Mock is a manually driven clock.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock returns a Mock set to start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t. t may be earlier than the current reading.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
