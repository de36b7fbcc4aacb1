package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Listing page size bounds.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// CacheStatsResponse summarizes the supercache.
type CacheStatsResponse struct {
	Records       int64  `json:"records"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CacheRecordResponse is one supercache row as shown to operators.
type CacheRecordResponse struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	DataReceivedAt int64  `json:"data_received_at_unix"`
	LastQueryAt    int64  `json:"last_query_at_unix"`
	ContentJSON    string `json:"content_json"`
}

// CacheStats returns the row count and process uptime.
func (h *Handler) CacheStats(c *gin.Context) {
	n, err := h.db.CountRecords(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, StatusResponse{Status: "error", Error: err.Error()})
		return
	}

	uptime := time.Since(h.startTime)
	c.JSON(http.StatusOK, CacheStatsResponse{
		Records:       n,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	})
}

// ListRecords pages through supercache rows. Query params: limit, offset.
func (h *Handler) ListRecords(c *gin.Context) {
	limit := intQuery(c, "limit", defaultPageSize)
	if limit < 1 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := max(intQuery(c, "offset", 0), 0)

	rows, err := h.db.ListRecords(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, StatusResponse{Status: "error", Error: err.Error()})
		return
	}

	out := make([]CacheRecordResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, CacheRecordResponse{
			Name:           r.RecordName,
			Type:           r.RecordType,
			DataReceivedAt: r.DataReceivedAtUnix,
			LastQueryAt:    r.LastQueryAtUnix,
			ContentJSON:    r.ContentJSON,
		})
	}
	c.JSON(http.StatusOK, gin.H{"records": out, "limit": limit, "offset": offset})
}

// DeleteRecord evicts one supercache row by name and type. This is the
// manual eviction path; the forwarder itself never deletes.
func (h *Handler) DeleteRecord(c *gin.Context) {
	name := c.Param("name")
	recordType := c.Param("type")

	deleted, err := h.db.DeleteRecord(c.Request.Context(), name, recordType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, StatusResponse{Status: "error", Error: err.Error()})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, StatusResponse{Status: "not_found"})
		return
	}

	if h.logger != nil {
		h.logger.Info("cache record evicted", "name", name, "type", recordType)
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "deleted"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
