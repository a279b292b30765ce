package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/manifest"
)

// app holds what every command opens from the config: logger, store and
// history sinks.
type app struct {
	cfg     *manifest.Config
	log     *slog.Logger
	kv      manifest.Store
	sinks   []manifest.HistorySink
	closers []io.Closer
}

func openApp(flags GlobalFlags) (*app, error) {
	cfg, err := manifest.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if flags.StoreDSN != "" {
		cfg.Store.DSN = flags.StoreDSN
	}

	log, logCloser, err := manifest.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a := &app{cfg: cfg, log: log, closers: []io.Closer{logCloser}}

	kv, err := manifest.OpenStore(cfg.Store.DSN)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.kv = kv
	a.closers = append(a.closers, kv)

	if cfg.History.DSN != "" {
		sink, err := manifest.OpenHistory(cfg.History.DSN)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open history: %w", err)
		}
		a.sinks = append(a.sinks, sink)
		if c, ok := sink.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}
	return a, nil
}

func (a *app) newManager() *manifest.Manager {
	return manifest.NewManager(manifest.ManagerConfig{
		Namespace:       a.cfg.Timer.Namespace,
		Store:           a.kv,
		FrameInterval:   a.cfg.Timer.FrameInterval,
		PersistInterval: a.cfg.Timer.PersistInterval,
		StoreTimeout:    a.cfg.Timer.StoreTimeout,
		Logger:          a.log,
		Sinks:           a.sinks,
	})
}

// Close releases resources in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type action func(*manifest.Engine)

var (
	actionStart   action = (*manifest.Engine).Start
	actionPause   action = (*manifest.Engine).Pause
	actionResume  action = (*manifest.Engine).Resume
	actionReset   action = (*manifest.Engine).Reset
	actionStatus  action = func(*manifest.Engine) {}
	actionDiscard action = (*manifest.Engine).Discard
)

// openTimer recovers the timer named by flags into a fresh manager.
func (a *app) openTimer(flags TimerFlags) (*manifest.Manager, error) {
	mode, err := manifest.ParseMode(flags.Mode)
	if err != nil {
		return nil, err
	}
	mgr := a.newManager()
	if _, err := mgr.Create(manifest.Spec{ID: flags.ID, Mode: mode, Initial: flags.Initial}); err != nil {
		_ = mgr.Shutdown()
		return nil, err
	}
	return mgr, nil
}

// runAction applies act, prints the resulting status and writes the final
// record back to the store.
func (a *app) runAction(w io.Writer, flags TimerFlags, act action) error {
	mgr, err := a.openTimer(flags)
	if err != nil {
		return err
	}
	st, err := mgr.Do(flags.ID, act)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}
	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("persist timer %s: %w", flags.ID, err)
	}
	return printJSON(w, st)
}

// runWatch prints the timer status every interval until ctx is done, count
// lines were printed or the countdown completes.
func (a *app) runWatch(ctx context.Context, w io.Writer, flags WatchFlags) error {
	if flags.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", flags.Interval)
	}
	mgr, err := a.openTimer(flags.TimerFlags)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Shutdown() }()

	e, err := mgr.Get(flags.ID)
	if err != nil {
		return err
	}
	events := e.Subscribe(16)
	defer e.Unsubscribe(events)

	ticker := time.NewTicker(flags.Interval)
	defer ticker.Stop()

	printed := 0
	emit := func() (complete bool, err error) {
		st, err := mgr.Status(flags.ID)
		if err != nil {
			return false, err
		}
		printed++
		return st.Complete, printJSONLine(w, st)
	}
	if done, err := emit(); done || err != nil {
		return err
	}
	for flags.Count <= 0 || printed < flags.Count {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type == manifest.EventComplete {
				_, err := emit()
				return err
			}
		case <-ticker.C:
			if done, err := emit(); done || err != nil {
				return err
			}
		}
	}
	return nil
}

type listEntry struct {
	Key string `json:"key"`
	manifest.Record
}

// runList prints every decodable record under the namespace. Malformed
// records are skipped; the next engine of their mode removes them.
func (a *app) runList(ctx context.Context, w io.Writer, modeFilter string) error {
	modes := []manifest.Mode{manifest.Countdown, manifest.Stopwatch}
	if modeFilter != "" {
		m, err := manifest.ParseMode(modeFilter)
		if err != nil {
			return err
		}
		modes = []manifest.Mode{m}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timer.StoreTimeout)
	defer cancel()

	entries := []listEntry{}
	for _, m := range modes {
		keys, err := a.kv.ListKeys(ctx, manifest.KeyPrefix(a.cfg.Timer.Namespace, m))
		if err != nil {
			return fmt.Errorf("list %s records: %w", m, err)
		}
		for _, k := range keys {
			raw, err := a.kv.Get(ctx, k)
			if err != nil {
				a.log.Warn("record unreadable", "key", k, "error", err)
				continue
			}
			rec, err := manifest.DecodeRecord(raw, m)
			if err != nil {
				a.log.Warn("record skipped", "key", k, "error", err)
				continue
			}
			entries = append(entries, listEntry{Key: k, Record: rec})
		}
	}
	return printJSON(w, entries)
}
