package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"intelboard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Metric names written into every snapshot row.
const (
	MetricRunsTotal        = "workflow_runs_total"
	MetricRunsActive       = "workflow_runs_active"
	MetricRunsCompleted    = "workflow_runs_completed"
	MetricRunsFailed       = "workflow_runs_failed"
	MetricAlertsTotal      = "competitor_alerts_total"
	MetricAlertsHigh       = "competitor_alerts_high"
	MetricAlertOccurrences = "alert_occurrences_total"
)

// SnapshotService appends immutable periodic rollups of the aggregate
// counters. Captures run independently of the ingest paths: they only
// read current counters, so no coordination is needed there.
type SnapshotService struct {
	db        *gorm.DB
	logger    *logrus.Logger
	opTimeout time.Duration
	capturing atomic.Bool
}

func NewSnapshotService(db *gorm.DB, logger *logrus.Logger) *SnapshotService {
	if logger == nil {
		logger = logrus.New()
	}
	return &SnapshotService{db: db, logger: logger, opTimeout: 5 * time.Second}
}

// SetOperationTimeout bounds every store round-trip of this service.
func (s *SnapshotService) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		s.opTimeout = d
	}
}

// Capture reads the current aggregate counters in one transaction and
// writes a single immutable snapshot row. A capture already in flight
// turns this call into a no-op, not an error; both no-op cases return
// a nil snapshot.
func (s *SnapshotService) Capture(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	if !s.capturing.CompareAndSwap(false, true) {
		s.logger.Debug("snapshot capture already in flight, skipping")
		return nil, nil
	}
	defer s.capturing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	vals := map[string]float64{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counts := []struct {
			metric string
			query  *gorm.DB
		}{
			{MetricRunsTotal, tx.Model(&models.WorkflowRun{})},
			{MetricRunsActive, tx.Model(&models.WorkflowRun{}).
				Where("status IN ?", []string{models.RunStatusPending, models.RunStatusRunning})},
			{MetricRunsCompleted, tx.Model(&models.WorkflowRun{}).
				Where("status = ?", models.RunStatusCompleted)},
			{MetricRunsFailed, tx.Model(&models.WorkflowRun{}).
				Where("status = ?", models.RunStatusFailed)},
			{MetricAlertsTotal, tx.Model(&models.CompetitorAlert{})},
			{MetricAlertsHigh, tx.Model(&models.CompetitorAlert{}).
				Where("priority = ?", models.PriorityHigh)},
		}
		for _, c := range counts {
			var n int64
			if err := c.query.Count(&n).Error; err != nil {
				return err
			}
			vals[c.metric] = float64(n)
		}

		var occurrences int64
		err := tx.Model(&models.CompetitorAlert{}).
			Select("COALESCE(SUM(occurrence_count), 0)").
			Row().Scan(&occurrences)
		if err != nil {
			return err
		}
		vals[MetricAlertOccurrences] = float64(occurrences)
		return nil
	})
	if err != nil {
		return nil, WrapErr(KindUnavailable, err, "read aggregate counters")
	}

	payload, err := json.Marshal(vals)
	if err != nil {
		return nil, WrapErr(KindValidation, err, "encode metrics")
	}
	snap := &models.AnalyticsSnapshot{
		CapturedAt: time.Now().UTC().Truncate(time.Second),
		Metrics:    string(payload),
	}
	if err := s.db.WithContext(ctx).Create(snap).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A capture already landed on this second.
			return nil, nil
		}
		return nil, WrapErr(KindUnavailable, err, "persist snapshot")
	}
	s.logger.Infof("captured analytics snapshot at %s", snap.CapturedAt.Format(time.RFC3339))
	return snap, nil
}

// Query returns the snapshots captured within [from, to], ascending by
// capture time. The result is a plain finite slice, safe to re-iterate
// on retries.
func (s *SnapshotService) Query(ctx context.Context, from, to time.Time) ([]models.AnalyticsSnapshot, error) {
	if to.Before(from) {
		return nil, Errf(KindValidation, "range end precedes start")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var snaps []models.AnalyticsSnapshot
	err := s.db.WithContext(ctx).
		Where("captured_at >= ? AND captured_at <= ?", from, to).
		Order("captured_at ASC").
		Find(&snaps).Error
	if err != nil {
		return nil, WrapErr(KindUnavailable, err, "query snapshots")
	}
	return snaps, nil
}

// StartCaptureWorker captures on a fixed interval until ctx ends.
func (s *SnapshotService) StartCaptureWorker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Capture(ctx); err != nil {
				s.logger.Errorf("scheduled snapshot capture failed: %v", err)
			}
		}
	}
}
