// Package handlers implements the admin API endpoint handlers.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/supercachedns/internal/database"
)

// Handler bundles the dependencies the endpoints need.
type Handler struct {
	db        *database.DB
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Handler backed by the given supercache database.
func New(db *database.DB, logger *slog.Logger) *Handler {
	return &Handler{
		db:        db,
		logger:    logger,
		startTime: time.Now(),
	}
}

// StatusResponse is the generic ok/error body.
type StatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Health reports liveness, including database connectivity.
func (h *Handler) Health(c *gin.Context) {
	if err := h.db.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, StatusResponse{Status: "degraded", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}
