package handlers

import (
	"net/http"

	"intelboard/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsHandler exposes the in-process ingest counters for scraping by
// the dashboard or an operator.
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Ingest reports ingest outcome counters since process start.
func (h *MetricsHandler) Ingest(c *gin.Context) {
	total, by := metrics.IngestSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"total":      total,
		"by_outcome": by,
	})
}

// RegisterMetricsRoutes mounts the metrics endpoints on rg.
func RegisterMetricsRoutes(rg *gin.RouterGroup, h *MetricsHandler) {
	rg.GET("/metrics/ingest", h.Ingest)
}
