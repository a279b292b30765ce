// Package timer implements a countdown/stopwatch engine whose value is always
// derived from wall-clock deltas, so it stays correct when its loops stop
// firing while the host is suspended or hidden. Running timers are persisted
// to a key-value store and recovered by the next engine created for the same
// mode.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/manifest/internal/clock"
	"github.com/loykin/manifest/internal/history"
	"github.com/loykin/manifest/internal/metrics"
	"github.com/loykin/manifest/internal/schedule"
	"github.com/loykin/manifest/internal/store"
)

// Options configures an Engine. Only Mode is required.
type Options struct {
	// Namespace prefixes persisted keys. Defaults to DefaultNamespace.
	Namespace string
	// InstanceID pins the persistence key. When set, only the record under
	// that exact key is recovered. When empty a fresh id is generated and
	// the most recent unclaimed running record of the same mode is adopted.
	InstanceID string
	Mode       Mode
	// Initial is the value in seconds restored by Reset.
	Initial   float64
	AutoStart bool

	// Store keeps records across restarts. Defaults to an in-process map.
	Store store.KV
	Clock clock.Clock
	// Frames drives the advancement loop, Persist the periodic
	// persistence loop.
	Frames  schedule.Scheduler
	Persist schedule.Scheduler
	Logger  *slog.Logger
	Sinks   []history.Sink
	// OnComplete runs once per countdown completion, outside the engine lock.
	OnComplete func(State)
	// Claimed reports keys owned by other live engines; they are never
	// adopted during recovery.
	Claimed      func(key string) bool
	StoreTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Store == nil {
		o.Store = store.NewMemory()
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Frames == nil {
		o.Frames = schedule.NewTimer(schedule.DefaultFrameInterval)
	}
	if o.Persist == nil {
		o.Persist = schedule.NewTimer(schedule.DefaultPersistInterval)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
}

// Engine is a single resilient timer. All methods are safe for concurrent use.
type Engine struct {
	mu   sync.Mutex
	opts Options
	log  *slog.Logger
	mode Mode
	key  string

	value    float64 // accurate as of lastSync
	initial  float64
	running  bool
	paused   bool
	complete bool
	lastSync time.Time

	// gen is bumped whenever the loops are cancelled; callbacks carrying an
	// older generation are dropped.
	gen     uint64
	frame   schedule.Handle
	persist schedule.Handle

	subs     []chan Event
	pending  []Event // lifecycle events waiting for sinks
	finished *State  // completion waiting for OnComplete
	closed   bool
	gauged   bool
}

// New creates an engine, recovering a persisted record when one is
// compatible and purging stale records of the same mode.
func New(opts Options) (*Engine, error) {
	if !opts.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, opts.Mode)
	}
	if !validSeconds(opts.Initial) {
		return nil, fmt.Errorf("%w: %v", ErrNegativeInitial, opts.Initial)
	}
	opts.setDefaults()

	id := opts.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	e := &Engine{
		opts:    opts,
		mode:    opts.Mode,
		key:     Key(opts.Namespace, opts.Mode, id),
		value:   opts.Initial,
		initial: opts.Initial,
	}
	e.log = opts.Logger.With("timer", e.key)

	e.mu.Lock()
	now := e.now()
	e.lastSync = now
	if !e.recoverLocked(now) && opts.AutoStart {
		e.startLocked(now)
	}
	e.unlockAndFlush()
	return e, nil
}

// Key returns the persistence key. It may differ from the generated one
// when a record was adopted.
func (e *Engine) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// InstanceID returns the key without its namespace and mode prefix.
func (e *Engine) InstanceID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return strings.TrimPrefix(e.key, KeyPrefix(e.opts.Namespace, e.mode))
}

func (e *Engine) Mode() Mode { return e.mode }

// Start begins or resumes advancement. It is a no-op while running, and
// while a countdown is complete.
func (e *Engine) Start() {
	e.mu.Lock()
	e.startLocked(e.now())
	e.unlockAndFlush()
}

// Resume continues a paused timer. It does nothing otherwise.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.running && e.paused {
		e.startLocked(e.now())
	}
	e.unlockAndFlush()
}

// Pause freezes the value and cancels both loops. It does nothing unless
// the timer is running and not already paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.pauseLocked(e.now())
	e.unlockAndFlush()
}

// Reset restores the initial value, stops the timer and removes its record.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetLocked(e.now())
	e.unlockAndFlush()
}

// Value returns the current value in seconds. A countdown read at zero
// completes the timer.
func (e *Engine) Value() float64 {
	e.mu.Lock()
	now := e.now()
	v := e.currentLocked(now)
	if v == 0 && e.mode == Countdown && e.advancing() && !e.closed {
		e.rebaseLocked(now)
	}
	e.unlockAndFlush()
	return v
}

// State returns a snapshot with a freshly computed value.
func (e *Engine) State() State {
	e.mu.Lock()
	now := e.now()
	if e.mode == Countdown && e.advancing() && !e.closed && e.currentLocked(now) == 0 {
		e.rebaseLocked(now)
	}
	st := e.snapshotLocked(now)
	e.unlockAndFlush()
	return st
}

// Sync re-bases the value onto the current wall-clock reading.
func (e *Engine) Sync() {
	e.mu.Lock()
	if !e.closed {
		e.rebaseLocked(e.now())
	}
	e.unlockAndFlush()
}

// OnVisibilityRestored must be called by the host when its view becomes
// visible again, before the next read. It re-bases, re-arms the loops of a
// running timer and writes the record.
func (e *Engine) OnVisibilityRestored() {
	e.mu.Lock()
	if !e.closed && e.running {
		now := e.now()
		if !e.rebaseLocked(now) {
			if !e.paused {
				e.armLoopsLocked()
			}
			_ = e.persistLocked(now)
		}
	}
	e.unlockAndFlush()
}

// Close is the best-effort shutdown hook. It cancels the loops, re-bases and
// writes a final record so the next engine can recover the timer. The
// returned error reports a failed final write; the engine is closed either
// way. Further calls are no-ops.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	now := e.now()
	e.cancelLoopsLocked()
	var err error
	if !e.rebaseLocked(now) && e.running {
		err = e.persistLocked(now)
	}
	e.closeLocked()
	e.unlockAndFlush()
	return err
}

// Discard permanently unmounts the timer: loops are cancelled and the
// record removed, so nothing will recover it.
func (e *Engine) Discard() {
	e.mu.Lock()
	e.cancelLoopsLocked()
	_ = e.kvRemove(e.key)
	e.closeLocked()
	e.unlockAndFlush()
}

// Subscribe registers a channel receiving every event. Sends never block;
// a full channel drops the event. The channel is closed by Close or Discard.
func (e *Engine) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

// Unsubscribe closes and forgets a channel returned by Subscribe.
func (e *Engine) Unsubscribe(ch <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, c := range e.subs {
		if c == ch {
			close(c)
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

// now reads the clock at the millisecond resolution records are stored in,
// so a persisted LastSync is exactly the in-memory one.
func (e *Engine) now() time.Time { return e.opts.Clock.Now().Truncate(time.Millisecond) }

func (e *Engine) advancing() bool { return e.running && !e.paused }

func (e *Engine) startLocked(now time.Time) {
	if e.closed || e.complete || e.advancing() {
		return
	}
	typ := EventStart
	if e.paused {
		typ = EventResume
	} else {
		e.running = true
	}
	e.paused = false
	e.lastSync = now
	e.armLoopsLocked()
	_ = e.persistLocked(now)
	metrics.RecordTransition(string(e.mode), string(typ))
	e.emitLocked(typ, now)
	if e.mode == Countdown && e.value <= 0 {
		e.completeLocked(now)
	}
}

func (e *Engine) pauseLocked(now time.Time) {
	if e.closed || !e.advancing() {
		return
	}
	if e.rebaseLocked(now) {
		return
	}
	e.paused = true
	e.cancelLoopsLocked()
	_ = e.persistLocked(now)
	metrics.RecordTransition(string(e.mode), string(EventPause))
	e.emitLocked(EventPause, now)
}

func (e *Engine) resetLocked(now time.Time) {
	if e.closed {
		return
	}
	e.cancelLoopsLocked()
	e.value = e.initial
	e.running, e.paused, e.complete = false, false, false
	e.lastSync = now
	_ = e.kvRemove(e.key)
	metrics.RecordTransition(string(e.mode), string(EventReset))
	e.emitLocked(EventReset, now)
}

// currentLocked computes the value at now without moving the reference.
func (e *Engine) currentLocked(now time.Time) float64 {
	if !e.advancing() {
		return e.value
	}
	elapsed := elapsedSeconds(e.lastSync, now)
	if e.mode == Stopwatch {
		return e.value + elapsed
	}
	return math.Max(0, e.value-elapsed)
}

// rebaseLocked folds the time since lastSync into value and moves lastSync
// to now. It reports whether a countdown completed.
func (e *Engine) rebaseLocked(now time.Time) bool {
	if !e.advancing() {
		return false
	}
	e.value = e.currentLocked(now)
	e.lastSync = now
	if e.mode == Countdown && e.value <= 0 {
		e.completeLocked(now)
		return true
	}
	return false
}

// elapsedSeconds treats a clock stepped backwards as no time passing.
func elapsedSeconds(from, to time.Time) float64 {
	d := to.Sub(from)
	if d < 0 {
		return 0
	}
	return d.Seconds()
}

func (e *Engine) completeLocked(now time.Time) {
	e.value = 0
	e.running, e.paused, e.complete = false, false, true
	e.lastSync = now
	e.cancelLoopsLocked()
	_ = e.persistLocked(now)
	metrics.RecordTransition(string(e.mode), string(EventComplete))
	e.log.Info("countdown complete", "initial", e.initial)
	e.emitLocked(EventComplete, now)
	st := e.snapshotLocked(now)
	e.finished = &st
}

func (e *Engine) armLoopsLocked() {
	e.cancelLoopsLocked()
	gen := e.gen
	e.frame = e.opts.Frames.ScheduleNext(func() { e.frameTick(gen) })
	e.persist = e.opts.Persist.ScheduleNext(func() { e.persistTick(gen) })
}

func (e *Engine) cancelLoopsLocked() {
	e.gen++
	if e.frame != nil {
		e.frame.Cancel()
		e.frame = nil
	}
	if e.persist != nil {
		e.persist.Cancel()
		e.persist = nil
	}
}

// live reports whether a callback of generation gen may still act.
func (e *Engine) live(gen uint64) bool {
	return gen == e.gen && !e.closed && e.advancing()
}

func (e *Engine) frameTick(gen uint64) {
	e.mu.Lock()
	if e.live(gen) {
		now := e.now()
		if !e.rebaseLocked(now) {
			e.emitLocked(EventTick, now)
			e.frame = e.opts.Frames.ScheduleNext(func() { e.frameTick(gen) })
		}
	}
	e.unlockAndFlush()
}

func (e *Engine) persistTick(gen uint64) {
	e.mu.Lock()
	if e.live(gen) {
		now := e.now()
		if !e.rebaseLocked(now) {
			_ = e.persistLocked(now)
			e.persist = e.opts.Persist.ScheduleNext(func() { e.persistTick(gen) })
		}
	}
	e.unlockAndFlush()
}

// persistLocked writes the record while running or paused and removes it
// otherwise.
func (e *Engine) persistLocked(now time.Time) error {
	if !e.running && !e.paused {
		return e.kvRemove(e.key)
	}
	raw, err := e.recordLocked(now).Encode()
	if err != nil {
		metrics.IncStoreError("encode")
		e.log.Warn("timer record not persisted", "error", err)
		return err
	}
	return e.kvSet(e.key, raw)
}

func (e *Engine) recordLocked(now time.Time) Record {
	return Record{
		Value:     e.value,
		Running:   e.running,
		Paused:    e.paused,
		Mode:      e.mode,
		Initial:   e.initial,
		LastSync:  e.lastSync.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
}

func (e *Engine) snapshotLocked(now time.Time) State {
	return State{
		Key:      e.key,
		Mode:     e.mode,
		Value:    e.currentLocked(now),
		Initial:  e.initial,
		Running:  e.running,
		Paused:   e.paused,
		Complete: e.complete,
		LastSync: e.lastSync,
	}
}

// emitLocked notifies subscribers and queues lifecycle events for sinks.
func (e *Engine) emitLocked(typ EventType, now time.Time) {
	ev := Event{Type: typ, At: now, State: e.snapshotLocked(now)}
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	if typ != EventTick && len(e.opts.Sinks) > 0 {
		e.pending = append(e.pending, ev)
	}
}

func (e *Engine) closeLocked() {
	e.closed = true
	for _, ch := range e.subs {
		close(ch)
	}
	e.subs = nil
}

// unlockAndFlush releases the lock, then delivers queued sink events and
// the completion callback.
func (e *Engine) unlockAndFlush() {
	running := e.running && !e.closed
	if running != e.gauged {
		delta := 1
		if !running {
			delta = -1
		}
		metrics.AddRunning(string(e.mode), delta)
		e.gauged = running
	}
	pending := e.pending
	e.pending = nil
	finished := e.finished
	e.finished = nil
	e.mu.Unlock()

	for _, ev := range pending {
		e.sendHistory(ev)
	}
	if finished != nil && e.opts.OnComplete != nil {
		e.opts.OnComplete(*finished)
	}
}

func (e *Engine) sendHistory(ev Event) {
	he := history.Event{
		Type:       history.EventType(ev.Type),
		OccurredAt: ev.At.UTC(),
		Key:        ev.State.Key,
		Mode:       string(ev.State.Mode),
		Value:      ev.State.Value,
		Initial:    ev.State.Initial,
	}
	for _, s := range e.opts.Sinks {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.StoreTimeout)
		if err := s.Send(ctx, he); err != nil {
			e.log.Warn("history sink failed", "event", he.Type, "error", err)
		}
		cancel()
	}
}
