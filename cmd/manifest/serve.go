package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/loykin/manifest"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	// onListen receives the bound API address once the listener is open.
	onListen func(addr string)
}

// runServe serves the timer API until ctx is done, then stops accepting
// requests and writes a final record for every live timer.
func runServe(ctx context.Context, a *app, opts serveOptions) error {
	if err := manifest.RegisterMetricsDefault(); err != nil {
		a.log.Warn("metrics not registered", "error", err)
	}

	mgr := a.newManager()
	for _, te := range a.cfg.Timers {
		mode, err := manifest.ParseMode(te.Mode)
		if err != nil {
			_ = mgr.Shutdown()
			return fmt.Errorf("timer %s: %w", te.ID, err)
		}
		st, err := mgr.Create(manifest.Spec{ID: te.ID, Mode: mode, Initial: te.Initial, AutoStart: te.AutoStart})
		if err != nil {
			_ = mgr.Shutdown()
			return fmt.Errorf("create timer %s: %w", te.ID, err)
		}
		a.log.Info("timer ready", "id", st.ID, "mode", st.Mode, "value", st.Value, "running", st.Running)
	}

	srv, err := manifest.NewTLSServer(a.cfg.Server, mgr, a.log)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		_ = mgr.Shutdown()
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	var metricsSrv *http.Server
	if a.cfg.Metrics.Listen != "" {
		metricsSrv = manifest.NewMetricsServer(a.cfg.Metrics.Listen)
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	addr := ln.Addr().String()
	a.log.Info("serving timer API", "addr", addr, "base_path", a.cfg.Server.BasePath,
		"tls", srv.TLSConfig != nil, "timers", len(a.cfg.Timers))
	if opts.onListen != nil {
		opts.onListen(addr)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	a.log.Info("shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shCtx)
	}
	return errors.Join(runErr, mgr.Shutdown())
}
