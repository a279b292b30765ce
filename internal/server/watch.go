package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/loykin/manifest/internal/timer"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMsgSize       = 1 << 12 // 4 KB
	defaultInterval  = time.Second
	minInterval      = 50 * time.Millisecond
	maxInterval      = 10 * time.Second
	eventBuffer      = 32
	maxIntervalMilli = 10_000
)

// wsEnvelope is one websocket message. Type is "state" for periodic
// snapshots, an event type for lifecycle changes, or "closed" when the
// timer goes away.
type wsEnvelope struct {
	Type  string       `json:"type"`
	Data  *timer.State `json:"data,omitempty"`
	Error string       `json:"error,omitempty"`
}

// checkOrigin accepts clients that send no Origin (non-browser), same-origin
// pages and the origins passed to AllowOrigins.
func (r *Router) checkOrigin(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, req.Host) {
		return true
	}
	for _, o := range r.origins {
		if o == "*" || strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
			return true
		}
	}
	return false
}

func (r *Router) handleWatch(c *gin.Context) {
	id := c.Param("id")
	e, err := r.mgr.Get(id)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	interval := parseInterval(c)

	conn, err := r.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "id", id, "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go drainReads(conn, done)

	events := e.Subscribe(eventBuffer)
	defer e.Unsubscribe(events)
	ticker := time.NewTicker(interval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ping.Stop()
	}()

	st := e.State()
	if err := send(conn, wsEnvelope{Type: "state", Data: &st}); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				_ = send(conn, wsEnvelope{Type: "closed"})
				return
			}
			if ev.Type == timer.EventTick {
				continue
			}
			if err := send(conn, wsEnvelope{Type: string(ev.Type), Data: &ev.State}); err != nil {
				return
			}
		case <-ticker.C:
			st := e.State()
			if err := send(conn, wsEnvelope{Type: "state", Data: &st}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// parseInterval reads ?interval=2s or ?interval_ms=2000, bounded to
// [minInterval, maxInterval].
func parseInterval(c *gin.Context) time.Duration {
	if s := c.Query("interval"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d >= minInterval && d <= maxInterval {
			return d
		}
	}
	if ms := c.Query("interval_ms"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 && v <= maxIntervalMilli {
			if d := time.Duration(v) * time.Millisecond; d >= minInterval {
				return d
			}
		}
	}
	return defaultInterval
}

// drainReads handles control frames and reports disconnects.
func drainReads(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func send(conn *websocket.Conn, msg wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
