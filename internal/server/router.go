package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	mng "github.com/loykin/manifest/internal/manager"
	"github.com/loykin/manifest/internal/timer"
)

// Router provides embeddable HTTP handlers for managing timers.
// Endpoints (relative to basePath):
//
//	POST   /timers                body: Spec JSON; 201 with the new status
//	GET    /timers                query: match=tea-* (optional wildcard)
//	GET    /timers/:id
//	POST   /timers/:id/start|pause|resume|reset|sync
//	DELETE /timers/:id            discards the timer and its record
//	POST   /visibility            re-bases every timer after the host wakes
//	GET    /timers/:id/watch      websocket stream of state snapshots
//
// basePath may be empty or start with '/'; no trailing slash.
// Watch streams only upgrade same-origin browser requests unless
// AllowOrigins lists other origins.
type Router struct {
	mgr      *mng.Manager
	basePath string
	log      *slog.Logger
	origins  []string
	upgrader websocket.Upgrader
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	r := &Router{mgr: mgr, basePath: sanitizeBase(basePath), log: log.With("component", "http")}
	r.upgrader = websocket.Upgrader{CheckOrigin: r.checkOrigin}
	return r
}

// AllowOrigins lets browser pages on the given origins (scheme://host[:port])
// open watch streams. "*" allows any origin.
func (r *Router) AllowOrigins(origins ...string) *Router {
	r.origins = append(r.origins, origins...)
	return r
}

// Register mounts the timer routes on an existing gin engine.
func (r *Router) Register(g gin.IRouter) {
	group := g.Group(r.basePath)
	group.POST("/timers", r.handleCreate)
	group.GET("/timers", r.handleList)
	group.GET("/timers/:id", r.handleGet)
	group.DELETE("/timers/:id", r.handleRemove)
	group.POST("/timers/:id/start", r.action((*timer.Engine).Start))
	group.POST("/timers/:id/pause", r.action((*timer.Engine).Pause))
	group.POST("/timers/:id/resume", r.action((*timer.Engine).Resume))
	group.POST("/timers/:id/reset", r.action((*timer.Engine).Reset))
	group.POST("/timers/:id/sync", r.action((*timer.Engine).Sync))
	group.GET("/timers/:id/watch", r.handleWatch)
	group.POST("/visibility", r.handleVisibility)
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g)
	return g
}

// NewServer builds a standalone HTTP server on addr using this router.
// The caller runs ListenAndServe and owns Shutdown.
func NewServer(addr, basePath string, mgr *mng.Manager, log *slog.Logger) *http.Server {
	return NewRouter(mgr, basePath, log).Server(addr)
}

// Server wraps the router in a standalone http.Server on addr.
func (r *Router) Server(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleCreate(c *gin.Context) {
	var spec mng.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	st, err := r.mgr.Create(spec)
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, st)
}

func (r *Router) handleList(c *gin.Context) {
	pattern := c.DefaultQuery("match", "*")
	writeJSON(c, http.StatusOK, r.mgr.ListMatch(pattern))
}

func (r *Router) handleGet(c *gin.Context) {
	st, err := r.mgr.Status(c.Param("id"))
	if err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleRemove(c *gin.Context) {
	if err := r.mgr.Remove(c.Param("id")); err != nil {
		r.writeErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) action(op func(*timer.Engine)) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := r.mgr.Do(c.Param("id"), op)
		if err != nil {
			r.writeErr(c, err)
			return
		}
		writeJSON(c, http.StatusOK, st)
	}
}

func (r *Router) handleVisibility(c *gin.Context) {
	r.mgr.VisibilityRestored()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mng.ErrNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, mng.ErrExists):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	}
}
