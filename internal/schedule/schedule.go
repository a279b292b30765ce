// Package schedule provides the one-shot callback schedulers that drive the
// timer's advancement and persistence loops.
//
// A loop re-arms itself by calling ScheduleNext from inside its callback, so
// a scheduler never fires the same callback twice on its own.
package schedule

import (
	"sync"
	"time"
)

// Handle cancels a scheduled callback. Cancel is safe to call more than once
// and after the callback has run.
type Handle interface {
	Cancel()
}

// Scheduler arranges for fn to run once at the next opportunity.
type Scheduler interface {
	ScheduleNext(fn func()) Handle
}

// Timer runs callbacks after a fixed interval on their own goroutine.
type Timer struct {
	interval time.Duration
}

// NewTimer returns a Timer firing interval after each ScheduleNext.
// Non-positive intervals fall back to DefaultFrameInterval.
func NewTimer(interval time.Duration) *Timer {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	return &Timer{interval: interval}
}

// Default intervals for the advancement and persistence loops.
const (
	DefaultFrameInterval   = 100 * time.Millisecond
	DefaultPersistInterval = time.Second
)

// Interval returns the configured delay.
func (t *Timer) Interval() time.Duration { return t.interval }

func (t *Timer) ScheduleNext(fn func()) Handle {
	return timerHandle{t: time.AfterFunc(t.interval, fn)}
}

type timerHandle struct {
	t *time.Timer
}

func (h timerHandle) Cancel() { h.t.Stop() }

// Manual queues callbacks until Step is called. It lets tests single-step
// loops without real delays.
type Manual struct {
	mu      sync.Mutex
	pending []*manualTask
}

type manualTask struct {
	mu        sync.Mutex
	fn        func()
	cancelled bool
}

func (t *manualTask) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

func (t *manualTask) live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelled
}

// NewManual returns an empty Manual scheduler.
func NewManual() *Manual { return &Manual{} }

func (m *Manual) ScheduleNext(fn func()) Handle {
	task := &manualTask{fn: fn}
	m.mu.Lock()
	m.pending = append(m.pending, task)
	m.mu.Unlock()
	return task
}

// Step runs every callback queued before the call and not cancelled since.
// Callbacks scheduled while stepping wait for the next Step. It returns the
// number of callbacks run.
func (m *Manual) Step() int {
	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	ran := 0
	for _, task := range batch {
		if !task.live() {
			continue
		}
		task.fn()
		ran++
	}
	return ran
}

// Pending reports how many live callbacks are queued.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, task := range m.pending {
		if task.live() {
			n++
		}
	}
	return n
}
