package api

import (
	"github.com/gin-gonic/gin"

	"github.com/jroosing/supercachedns/internal/api/handlers"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler) {
	api := r.Group("/api/v1")

	api.GET("/health", h.Health)

	api.GET("/cache/stats", h.CacheStats)
	api.GET("/cache/records", h.ListRecords)
	api.DELETE("/cache/records/:name/:type", h.DeleteRecord)
}
