package handlers

import (
	"net/http"

	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// WorkflowHandler exposes the automation-engine callback endpoint and
// the run queries.
type WorkflowHandler struct {
	queue   *services.IngestQueue
	gateway *services.GatewayService
	logger  *logrus.Logger
}

func NewWorkflowHandler(queue *services.IngestQueue, gateway *services.GatewayService, logger *logrus.Logger) *WorkflowHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowHandler{queue: queue, gateway: gateway, logger: logger}
}

// Callback accepts one workflow-run event and queues it for ingestion.
// A full queue answers 503 so the engine backs off and redelivers.
func (h *WorkflowHandler) Callback(c *gin.Context) {
	var evt services.WorkflowEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Message: err.Error(),
		})
		return
	}
	if err := h.queue.EnqueueWorkflowEvent(&evt); err != nil {
		h.logger.Warnf("workflow callback rejected: %v", err)
		respondError(c, err, "Failed to queue workflow event")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// GetStatus returns the tracked run for a workflow id.
func (h *WorkflowHandler) GetStatus(c *gin.Context) {
	run, err := h.gateway.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to get workflow status")
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListActive returns all non-terminal runs.
func (h *WorkflowHandler) ListActive(c *gin.Context) {
	runs, err := h.gateway.ListActive(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list active runs: %v", err)
		respondError(c, err, "Failed to list active runs")
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// RegisterWorkflowRoutes mounts the workflow endpoints on rg.
func RegisterWorkflowRoutes(rg *gin.RouterGroup, h *WorkflowHandler) {
	rg.POST("/workflows/callback", h.Callback)
	rg.GET("/workflows/active", h.ListActive)
	rg.GET("/workflows/:id/status", h.GetStatus)
}
