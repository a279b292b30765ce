package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/manifest/internal/metrics"
	"github.com/loykin/manifest/internal/store"
)

type candidate struct {
	key string
	rec Record
}

// recoverLocked scans the records of this engine's mode, removes the stale
// and malformed ones and adopts a running record if a compatible one exists.
// Store failures degrade to a fresh timer.
func (e *Engine) recoverLocked(now time.Time) bool {
	prefix := KeyPrefix(e.opts.Namespace, e.mode)
	keys, err := e.kvList(prefix)
	if err != nil {
		return false
	}

	var live []candidate
	var stale []string
	for _, k := range keys {
		raw, err := e.kvGet(k)
		if err != nil {
			// missing or unreadable: leave it for a later scan
			continue
		}
		rec, err := DecodeRecord(raw, e.mode)
		if err != nil {
			e.log.Warn("ignoring malformed timer record", "key", k, "error", err)
			stale = append(stale, k)
			continue
		}
		if !rec.Running {
			stale = append(stale, k)
			continue
		}
		live = append(live, candidate{key: k, rec: rec})
	}

	purged := 0
	for _, k := range stale {
		if e.kvRemove(k) == nil {
			purged++
		}
	}
	if purged > 0 {
		metrics.AddStaleRecords(string(e.mode), purged)
		e.log.Info("purged stale timer records", "count", purged)
	}

	pick := e.choose(live)
	if pick == nil {
		return false
	}
	e.adoptLocked(*pick, now)
	return true
}

// choose returns the record to adopt: the exact key for a pinned instance,
// else the most recently updated record not claimed by a live engine.
func (e *Engine) choose(live []candidate) *candidate {
	var pick *candidate
	for i := range live {
		c := &live[i]
		if e.opts.InstanceID != "" {
			if c.key == e.key {
				return c
			}
			continue
		}
		if e.opts.Claimed != nil && e.opts.Claimed(c.key) {
			continue
		}
		if pick == nil || c.rec.UpdatedAt > pick.rec.UpdatedAt {
			pick = c
		}
	}
	return pick
}

func (e *Engine) adoptLocked(c candidate, now time.Time) {
	r := c.rec
	e.key = c.key
	e.log = e.opts.Logger.With("timer", e.key)
	e.value = r.Value
	e.initial = r.Initial
	e.running = r.Running
	e.paused = r.Paused
	e.complete = false
	e.lastSync = r.LastSyncTime()

	gap := now.Sub(e.lastSync)
	if gap < 0 {
		gap = 0
	}
	metrics.RecordRecovery(string(e.mode), gap.Seconds())
	e.log.Info("timer recovered", "value", r.Value, "paused", r.Paused, "gap", gap)
	e.emitLocked(EventRecover, now)

	if e.rebaseLocked(now) {
		return
	}
	if !e.paused {
		e.armLoopsLocked()
	}
	_ = e.persistLocked(now)
}

func (e *Engine) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.opts.StoreTimeout)
}

// storeFailed logs and counts a store error. The engine carries on in
// memory.
func (e *Engine) storeFailed(op, key string, err error) error {
	metrics.IncStoreError(op)
	e.log.Warn("timer store unavailable", "op", op, "key", key, "error", err)
	return fmt.Errorf("store %s %s: %w", op, key, err)
}

func (e *Engine) kvGet(key string) (string, error) {
	ctx, cancel := e.storeCtx()
	defer cancel()
	v, err := e.opts.Store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	if err != nil {
		return "", e.storeFailed("get", key, err)
	}
	return v, nil
}

func (e *Engine) kvSet(key, value string) error {
	ctx, cancel := e.storeCtx()
	defer cancel()
	if err := e.opts.Store.Set(ctx, key, value); err != nil {
		return e.storeFailed("set", key, err)
	}
	return nil
}

func (e *Engine) kvRemove(key string) error {
	ctx, cancel := e.storeCtx()
	defer cancel()
	if err := e.opts.Store.Remove(ctx, key); err != nil {
		return e.storeFailed("remove", key, err)
	}
	return nil
}

func (e *Engine) kvList(prefix string) ([]string, error) {
	ctx, cancel := e.storeCtx()
	defer cancel()
	keys, err := e.opts.Store.ListKeys(ctx, prefix)
	if err != nil {
		return nil, e.storeFailed("list", prefix, err)
	}
	return keys, nil
}
