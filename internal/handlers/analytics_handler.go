package handlers

import (
	"net/http"
	"time"

	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AnalyticsHandler exposes snapshot queries and the manual capture
// trigger.
type AnalyticsHandler struct {
	gateway   *services.GatewayService
	snapshots *services.SnapshotService
	logger    *logrus.Logger
}

func NewAnalyticsHandler(gateway *services.GatewayService, snapshots *services.SnapshotService, logger *logrus.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalyticsHandler{gateway: gateway, snapshots: snapshots, logger: logger}
}

// Snapshots returns the snapshots captured within [from, to]; the range
// defaults to the last 7 days.
func (h *AnalyticsHandler) Snapshots(c *gin.Context) {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid from", Message: err.Error()})
			return
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid to", Message: err.Error()})
			return
		}
		to = t
	}

	snaps, err := h.gateway.GetSnapshots(c.Request.Context(), from, to)
	if err != nil {
		h.logger.Errorf("Failed to query snapshots: %v", err)
		respondError(c, err, "Failed to query snapshots")
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "count": len(snaps)})
}

// Capture triggers one snapshot capture. Overlapping with an in-flight
// capture is reported as skipped, not as an error.
func (h *AnalyticsHandler) Capture(c *gin.Context) {
	snap, err := h.snapshots.Capture(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Snapshot capture failed: %v", err)
		respondError(c, err, "Snapshot capture failed")
		return
	}
	if snap == nil {
		c.JSON(http.StatusAccepted, gin.H{"captured": false, "reason": "capture already in flight or duplicate timestamp"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"captured": true, "snapshot": snap})
}

// RegisterAnalyticsRoutes mounts the analytics endpoints on rg.
func RegisterAnalyticsRoutes(rg *gin.RouterGroup, h *AnalyticsHandler) {
	rg.GET("/analytics/snapshots", h.Snapshots)
	rg.POST("/analytics/capture", h.Capture)
}
