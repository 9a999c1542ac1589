// Package server exposes the engine over a small local JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merlian/merlian/internal/engine"
	"github.com/merlian/merlian/internal/jobs"
	"github.com/merlian/merlian/internal/logutil"
	"github.com/merlian/merlian/internal/search"
)

// Core is the part of the engine the API serves.
type Core interface {
	StartIndexJob(req engine.IndexRequest) (string, error)
	GetJob(id string) (jobs.Job, error)
	CancelJob(id string) (jobs.Job, error)
	ListJobs() []jobs.Job
	Search(ctx context.Context, req engine.SearchRequest) ([]search.Result, error)
	Status(ctx context.Context) (engine.Status, error)
}

type handler struct {
	core Core
}

// NewRouter builds the API routes.
func NewRouter(core Core) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	h := &handler{core: core}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog())

	router.GET("/health", h.health)
	router.GET("/status", h.status)
	router.POST("/index", h.startIndex)
	router.GET("/jobs", h.listJobs)
	router.GET("/jobs/:id", h.getJob)
	router.POST("/jobs/:id/cancel", h.cancelJob)
	router.POST("/search", h.search)
	return router
}

func (h *handler) health(c *gin.Context) {
	success(c, gin.H{"status": "ok"})
}

func (h *handler) status(c *gin.Context) {
	st, err := h.core.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	success(c, st)
}

func (h *handler) startIndex(c *gin.Context) {
	var req engine.IndexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	id, err := h.core.StartIndexJob(req)
	if err != nil {
		handleError(c, err)
		return
	}
	job, err := h.core.GetJob(id)
	if err != nil {
		handleError(c, err)
		return
	}
	success(c, job)
}

func (h *handler) listJobs(c *gin.Context) {
	success(c, h.core.ListJobs())
}

func (h *handler) getJob(c *gin.Context) {
	job, err := h.core.GetJob(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	success(c, job)
}

func (h *handler) cancelJob(c *gin.Context) {
	job, err := h.core.CancelJob(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	success(c, job)
}

func (h *handler) search(c *gin.Context) {
	var req engine.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid", err.Error())
		return
	}
	results, err := h.core.Search(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	success(c, gin.H{"results": results})
}

// Serve runs the API on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, core Core) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(core),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log := logutil.GetLogger(ctx).With(zap.String("component", "server"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	log.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
