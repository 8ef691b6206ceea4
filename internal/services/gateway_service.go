package services

import (
	"context"
	"time"

	"intelboard/internal/models"
)

// GatewayService is the read-only query surface consumed by the
// dashboard layer. Every method is side-effect-free and safe for
// repeated polling.
type GatewayService struct {
	workflows *WorkflowService
	alerts    *AlertService
	snapshots *SnapshotService
}

func NewGatewayService(workflows *WorkflowService, alerts *AlertService, snapshots *SnapshotService) *GatewayService {
	return &GatewayService{workflows: workflows, alerts: alerts, snapshots: snapshots}
}

// GetStatus returns the run for workflowID, or NotFound.
func (g *GatewayService) GetStatus(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	return g.workflows.GetStatus(ctx, workflowID)
}

// ListActive returns all non-terminal runs, newest started first.
func (g *GatewayService) ListActive(ctx context.Context) ([]models.WorkflowRun, error) {
	return g.workflows.ListActive(ctx)
}

// ListAlerts returns one page of alerts plus the filtered total.
func (g *GatewayService) ListAlerts(ctx context.Context, filter AlertFilter, page Page) ([]models.CompetitorAlert, int64, error) {
	return g.alerts.List(ctx, filter, page)
}

// GetSnapshots returns the snapshots captured within [from, to].
func (g *GatewayService) GetSnapshots(ctx context.Context, from, to time.Time) ([]models.AnalyticsSnapshot, error) {
	return g.snapshots.Query(ctx, from, to)
}
