package handlers

import (
	"net/http"
	"strconv"
	"time"

	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AlertHandler exposes competitor-signal ingestion and the alert list.
type AlertHandler struct {
	queue   *services.IngestQueue
	gateway *services.GatewayService
	logger  *logrus.Logger
}

func NewAlertHandler(queue *services.IngestQueue, gateway *services.GatewayService, logger *logrus.Logger) *AlertHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AlertHandler{queue: queue, gateway: gateway, logger: logger}
}

// Signal accepts one competitor-change signal and queues it.
func (h *AlertHandler) Signal(c *gin.Context) {
	var sig services.RawSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if err := h.queue.EnqueueSignal(&sig); err != nil {
		h.logger.Warnf("competitor signal rejected: %v", err)
		respondError(c, err, "Failed to queue competitor signal")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// List returns one page of alerts. Query parameters: priority, from, to
// (RFC 3339), page, page_size.
func (h *AlertHandler) List(c *gin.Context) {
	var filter services.AlertFilter
	filter.Priority = c.Query("priority")
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid from", Message: err.Error()})
			return
		}
		filter.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid to", Message: err.Error()})
			return
		}
		filter.To = &t
	}
	page := services.Page{
		Number: intQuery(c, "page", 1),
		Size:   intQuery(c, "page_size", 20),
	}.Normalized()

	alerts, total, err := h.gateway.ListAlerts(c.Request.Context(), filter, page)
	if err != nil {
		h.logger.Errorf("Failed to list alerts: %v", err)
		respondError(c, err, "Failed to list alerts")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts":    alerts,
		"total":     total,
		"page":      page.Number,
		"page_size": page.Size,
	})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// RegisterAlertRoutes mounts the competitor endpoints on rg.
func RegisterAlertRoutes(rg *gin.RouterGroup, h *AlertHandler) {
	rg.POST("/competitors/signal", h.Signal)
	rg.GET("/competitors/alerts", h.List)
}
