// Package server exposes the control API over a local Unix socket.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/loykin/appmgr/internal/health"
	mng "github.com/loykin/appmgr/internal/manager"
)

// Router serves the control API.
// Endpoints:
//
//	GET  /apps                 summaries of every application
//	GET  /apps/:name           summary of one application
//	GET  /apps/:name/health    fresh health check
//	POST /apps/:name/start     start and return the summary
//	POST /apps/:name/stop      stop and return the summary
//	POST /apps/:name/restart   restart and return the summary
//	GET  /metrics              Prometheus metrics, when a handler is set
type Router struct {
	mgr     *mng.Manager
	metrics http.Handler
}

// NewRouter constructs a Router for mgr. metrics may be nil.
func NewRouter(mgr *mng.Manager, metrics http.Handler) *Router {
	return &Router{mgr: mgr, metrics: metrics}
}

// Handler returns the gin engine serving the control API.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.HandleMethodNotAllowed = false
	g.RedirectTrailingSlash = false
	g.NoRoute(notFound)

	apps := g.Group("/apps")
	apps.GET("", r.handleList)
	apps.GET("/:name", r.handleStatus)
	apps.GET("/:name/health", r.handleHealth)
	apps.POST("/:name/start", r.action(r.mgr.Start))
	apps.POST("/:name/stop", r.action(r.mgr.Stop))
	apps.POST("/:name/restart", r.action(r.mgr.Restart))
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type listResp struct {
	Apps []mng.Summary `json:"apps"`
}

type actionResp struct {
	Success bool         `json:"success"`
	Status  *mng.Summary `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
}

const appNotFound = "App not found"

func notFound(c *gin.Context) {
	writeJSON(c, http.StatusNotFound, errorResp{Error: "Not found"})
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, listResp{Apps: r.mgr.List()})
}

func (r *Router) handleStatus(c *gin.Context) {
	s, err := r.mgr.Status(c.Param("name"))
	if errors.Is(err, mng.ErrUnknownApp) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: appNotFound})
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleHealth(c *gin.Context) {
	res, err := r.mgr.CheckHealth(c.Request.Context(), c.Param("name"))
	if errors.Is(err, mng.ErrUnknownApp) {
		writeJSON(c, http.StatusNotFound, health.Result{Status: health.StatusUnknown, Error: appNotFound})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type actionFunc func(ctx context.Context, name string) (mng.Summary, error)

// action adapts a lifecycle operation. The operation outlives a client that
// hangs up, so scripts are never interrupted half way.
func (r *Router) action(fn actionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := fn(context.WithoutCancel(c.Request.Context()), c.Param("name"))
		switch {
		case errors.Is(err, mng.ErrUnknownApp):
			writeJSON(c, http.StatusNotFound, actionResp{Error: appNotFound})
		case err != nil:
			writeJSON(c, http.StatusOK, actionResp{Status: &s, Error: err.Error()})
		default:
			writeJSON(c, http.StatusOK, actionResp{Success: true, Status: &s})
		}
	}
}
