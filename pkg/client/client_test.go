package client

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mng "github.com/loykin/manifest/internal/manager"
	"github.com/loykin/manifest/internal/server"
	"github.com/loykin/manifest/internal/store"
	itls "github.com/loykin/manifest/internal/tls"
)

func newAPI(t *testing.T) (*mng.Manager, http.Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mgr := mng.New(mng.Config{
		Store:           store.NewMemory(),
		FrameInterval:   10 * time.Millisecond,
		PersistInterval: 50 * time.Millisecond,
	})
	t.Cleanup(func() { _ = mgr.Shutdown() })
	return mgr, server.NewRouter(mgr, "/api", slog.Default()).Handler()
}

func newClient(t *testing.T) (*Client, *mng.Manager) {
	t.Helper()
	mgr, h := newAPI(t)
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return New(Config{BaseURL: ts.URL + "/api/", Timeout: 5 * time.Second}), mgr
}

func TestClientLifecycle(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	st, err := c.Create(ctx, Spec{ID: "tea", Mode: "countdown", Initial: 180})
	require.NoError(t, err)
	assert.Equal(t, "tea", st.ID)
	assert.Equal(t, 180.0, st.Value)
	assert.False(t, st.Running)

	st, err = c.Start(ctx, "tea")
	require.NoError(t, err)
	assert.True(t, st.Running)

	st, err = c.Pause(ctx, "tea")
	require.NoError(t, err)
	assert.True(t, st.Paused)
	frozen := st.Value

	st, err = c.Sync(ctx, "tea")
	require.NoError(t, err)
	assert.Equal(t, frozen, st.Value)

	st, err = c.Resume(ctx, "tea")
	require.NoError(t, err)
	assert.False(t, st.Paused)

	st, err = c.Reset(ctx, "tea")
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 180.0, st.Value)

	require.NoError(t, c.VisibilityRestored(ctx))

	got, err := c.Get(ctx, "tea")
	require.NoError(t, err)
	assert.Equal(t, "countdown", got.Mode)

	require.NoError(t, c.Remove(ctx, "tea"))
	_, err = c.Get(ctx, "tea")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientErrors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.Create(ctx, Spec{ID: "x", Mode: "stopwatch"})
	require.NoError(t, err)
	_, err = c.Create(ctx, Spec{ID: "x", Mode: "stopwatch"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.Create(ctx, Spec{ID: "y", Mode: "hourglass"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid timer mode")

	_, err = c.Start(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond}).IsReachable(ctx))
}

func TestClientListMatch(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	for _, id := range []string{"tea-green", "tea-black", "egg"} {
		_, err := c.Create(ctx, Spec{ID: id, Mode: "countdown", Initial: 60})
		require.NoError(t, err)
	}

	all, err := c.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	teas, err := c.List(ctx, "tea-*")
	require.NoError(t, err)
	require.Len(t, teas, 2)
	for _, st := range teas {
		assert.Contains(t, []string{"tea-green", "tea-black"}, st.ID)
	}
}

func TestClientWatch(t *testing.T) {
	c, _ := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Create(ctx, Spec{ID: "egg", Mode: "countdown", Initial: 0.2, AutoStart: true})
	require.NoError(t, err)

	var types []string
	var last WatchMessage
	err = c.Watch(ctx, "egg", 50*time.Millisecond, func(m WatchMessage) bool {
		types = append(types, m.Type)
		last = m
		return m.Type != "complete"
	})
	require.NoError(t, err)
	require.NotEmpty(t, types)
	assert.Equal(t, "state", types[0])
	assert.Equal(t, "complete", last.Type)
	require.NotNil(t, last.Data)
	assert.True(t, last.Data.Complete)
	assert.Equal(t, 0.0, last.Data.Value)

	err = c.Watch(ctx, "missing", 0, func(WatchMessage) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClientWatchEndsOnRemove(t *testing.T) {
	c, mgr := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Create(ctx, Spec{ID: "lap", Mode: "stopwatch", AutoStart: true})
	require.NoError(t, err)

	var sawClosed bool
	err = c.Watch(ctx, "lap", time.Second, func(m WatchMessage) bool {
		if m.Type == "state" {
			_ = mgr.Remove("lap")
		}
		sawClosed = m.Type == "closed"
		return true
	})
	require.NoError(t, err)
	assert.True(t, sawClosed)
}

func TestClientTLS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	tlsCfg, err := itls.Setup(itls.Development(dir))
	require.NoError(t, err)

	_, h := newAPI(t)
	srv := &http.Server{Handler: h, TLSConfig: tlsCfg, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = srv.ServeTLS(ln, "", "") }()
	t.Cleanup(func() { _ = srv.Close() })

	base := "https://" + ln.Addr().String() + "/api"
	ctx := context.Background()

	trusted := New(Config{
		BaseURL: base,
		Timeout: 5 * time.Second,
		TLS:     &TLSClientConfig{Enabled: true, CACert: filepath.Join(dir, itls.CACertFile)},
	})
	_, err = trusted.Create(ctx, Spec{ID: "secure", Mode: "stopwatch"})
	require.NoError(t, err)

	insecure := New(Config{BaseURL: base, Timeout: 5 * time.Second, Insecure: true})
	st, err := insecure.Get(ctx, "secure")
	require.NoError(t, err)
	assert.Equal(t, "secure", st.ID)

	untrusted := New(Config{BaseURL: base, Timeout: 5 * time.Second})
	_, err = untrusted.Get(ctx, "secure")
	assert.Error(t, err)
}
