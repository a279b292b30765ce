package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/loykin/manifest"
	"github.com/loykin/manifest/pkg/client"
)

func newAPIClient(apiURL string, timeout time.Duration) *client.Client {
	return client.New(client.Config{BaseURL: apiURL, Timeout: timeout})
}

// runRemoteAction applies the named action through a running server. start
// creates the timer when the server does not know it yet.
func runRemoteAction(ctx context.Context, w io.Writer, f TimerFlags, name string) error {
	mode, err := manifest.ParseMode(f.Mode)
	if err != nil {
		return err
	}
	c := newAPIClient(f.APIUrl, f.APITimeout)

	var st client.Status
	switch name {
	case "status":
		st, err = c.Get(ctx, f.ID)
	case "start":
		st, err = c.Start(ctx, f.ID)
		if errors.Is(err, client.ErrNotFound) {
			st, err = c.Create(ctx, client.Spec{ID: f.ID, Mode: string(mode), Initial: f.Initial, AutoStart: true})
		}
	case "pause":
		st, err = c.Pause(ctx, f.ID)
	case "resume":
		st, err = c.Resume(ctx, f.ID)
	case "reset":
		st, err = c.Reset(ctx, f.ID)
	case "discard":
		if st, err = c.Get(ctx, f.ID); err == nil {
			err = c.Remove(ctx, f.ID)
		}
	default:
		return fmt.Errorf("unsupported remote action %q", name)
	}
	if err != nil {
		return err
	}
	return printJSON(w, st)
}

// runRemoteWatch streams the timer from a running server, one JSON line per
// message.
func runRemoteWatch(ctx context.Context, w io.Writer, f WatchFlags) error {
	if f.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", f.Interval)
	}
	c := newAPIClient(f.APIUrl, f.APITimeout)

	printed := 0
	var writeErr error
	err := c.Watch(ctx, f.ID, f.Interval, func(m client.WatchMessage) bool {
		if m.Data == nil {
			return false
		}
		st := *m.Data
		st.ID = f.ID
		if writeErr = printJSONLine(w, st); writeErr != nil {
			return false
		}
		printed++
		if st.Complete {
			return false
		}
		return f.Count <= 0 || printed < f.Count
	})
	return errors.Join(err, writeErr)
}

func runRemoteList(ctx context.Context, w io.Writer, f ListFlags) error {
	var want manifest.Mode
	if f.Mode != "" {
		m, err := manifest.ParseMode(f.Mode)
		if err != nil {
			return err
		}
		want = m
	}
	all, err := newAPIClient(f.APIUrl, f.APITimeout).List(ctx, f.Match)
	if err != nil {
		return err
	}
	out := make([]client.Status, 0, len(all))
	for _, st := range all {
		if want == "" || st.Mode == string(want) {
			out = append(out, st)
		}
	}
	return printJSON(w, out)
}
