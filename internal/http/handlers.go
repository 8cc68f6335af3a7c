// Package http provides the REST glue around the generation session.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/generation"
	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/persist"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	coord *generation.Coordinator
	store *persist.Store
	log   *logging.Logger
}

// NewHandlers creates a new handler set. store may be nil when persistence
// is disabled.
func NewHandlers(coord *generation.Coordinator, store *persist.Store, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewDefault()
	}
	return &Handlers{
		coord: coord,
		store: store,
		log:   log,
	}
}

// Root handles the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "bannerforge",
		"version": "0.3.0",
	})
}

// Health handles health checks.
func (h *Handlers) Health(c *gin.Context) {
	job := h.coord.Job()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"job": gin.H{
			"active": job.State.Active(),
			"state":  job.State,
		},
	})
}

// Generate starts a new generation job.
func (h *Handlers) Generate(c *gin.Context) {
	var req generation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.coord.Start(c.Request.Context(), req)
	switch {
	case errors.Is(err, generation.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		h.log.Info("generation started", zap.String("job_id", jobID), zap.String("kind", req.Kind))
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}

// JobStatus reports the status of the tracked job. The shape mirrors the
// upstream poll endpoint so front-end fallback code can use either.
func (h *Handlers) JobStatus(c *gin.Context) {
	job := h.coord.Job()
	if job.State == generation.StateIdle || job.ID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job id"})
		return
	}
	c.JSON(http.StatusOK, generation.StatusReport{
		State:    string(job.State),
		Progress: job.Progress,
		Message:  job.StatusMessage,
		Error:    job.Err,
	})
}

// CancelJob cancels the tracked job.
func (h *Handlers) CancelJob(c *gin.Context) {
	job := h.coord.Job()
	if job.State == generation.StateIdle || job.ID != c.Param("id") {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job id"})
		return
	}
	if err := h.coord.Cancel(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": true, "job_id": job.ID})
}

// GetSession returns the full session snapshot, buffer included.
func (h *Handlers) GetSession(c *gin.Context) {
	job := h.coord.Job()
	if job.State == generation.StateIdle {
		c.JSON(http.StatusOK, gin.H{"state": generation.StateIdle})
		return
	}
	c.JSON(http.StatusOK, job.Snapshot())
}

// ClearSession removes the persisted snapshot. Rejected while a job is
// active; cancel first.
func (h *Handlers) ClearSession(c *gin.Context) {
	if h.coord.Job().State.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "a generation job is active; cancel it first"})
		return
	}
	if h.store != nil {
		if err := h.store.Clear(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
