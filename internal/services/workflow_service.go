package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"intelboard/internal/cache"
	"intelboard/internal/metrics"
	"intelboard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Cache keys owned by the workflow tracker.
const cacheKeyActiveRuns = "workflows:active"

func workflowCacheKey(workflowID string) string {
	return "workflow:" + workflowID
}

// WorkflowEvent is the automation-engine callback payload. Delivery is
// at-least-once and may arrive out of order; per-workflow sequence
// numbers restore ordering within one run.
type WorkflowEvent struct {
	WorkflowID   string        `json:"workflow_id"`
	WorkflowName string        `json:"workflow_name,omitempty"`
	Seq          int64         `json:"seq"`
	Status       string        `json:"status"`
	Progress     EventProgress `json:"progress"`
	Timestamp    time.Time     `json:"timestamp"`
	Error        string        `json:"error,omitempty"`
}

// EventProgress carries completed/total step counts.
type EventProgress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Permitted status transitions. A failure may be reported before the
// engine ever marks the run running, hence pending -> failed.
var runTransitions = map[string][]string{
	models.RunStatusPending: {models.RunStatusPending, models.RunStatusRunning, models.RunStatusFailed},
	models.RunStatusRunning: {models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusFailed},
}

func transitionAllowed(from, to string) bool {
	for _, s := range runTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validRunStatus(s string) bool {
	switch s {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusFailed:
		return true
	}
	return false
}

// WorkflowService reconciles automation-engine callbacks into versioned
// workflow_runs rows and keeps the per-run and active-list cache keys
// coherent with the store.
type WorkflowService struct {
	db          *gorm.DB
	cache       *cache.Coordinator
	logger      *logrus.Logger
	maxAttempts int
	backoffBase time.Duration
	opTimeout   time.Duration
}

func NewWorkflowService(db *gorm.DB, cc *cache.Coordinator, logger *logrus.Logger) *WorkflowService {
	if logger == nil {
		logger = logrus.New()
	}
	return &WorkflowService{
		db:          db,
		cache:       cc,
		logger:      logger,
		maxAttempts: 3,
		backoffBase: 50 * time.Millisecond,
		opTimeout:   5 * time.Second,
	}
}

// SetRetryPolicy overrides the optimistic-concurrency retry budget.
func (s *WorkflowService) SetRetryPolicy(attempts int, backoffBase time.Duration) {
	if attempts > 0 {
		s.maxAttempts = attempts
	}
	if backoffBase > 0 {
		s.backoffBase = backoffBase
	}
}

// SetOperationTimeout bounds every store round-trip of this service.
func (s *WorkflowService) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		s.opTimeout = d
	}
}

func validateEvent(evt *WorkflowEvent) error {
	switch {
	case evt == nil:
		return Errf(KindValidation, "event required")
	case evt.WorkflowID == "":
		return Errf(KindValidation, "workflow_id required")
	case evt.Seq <= 0:
		return Errf(KindValidation, "seq must be positive")
	case !validRunStatus(evt.Status):
		return Errf(KindValidation, "unknown status %q", evt.Status)
	case evt.Progress.Completed < 0 || evt.Progress.Total < 0:
		return Errf(KindValidation, "progress counts must be non-negative")
	case evt.Progress.Completed > evt.Progress.Total:
		return Errf(KindValidation, "progress completed %d exceeds total %d", evt.Progress.Completed, evt.Progress.Total)
	case evt.Timestamp.IsZero():
		return Errf(KindValidation, "timestamp required")
	}
	return nil
}

// eventDigest identifies a rejected payload in logs without echoing it.
func eventDigest(v interface{}) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}

// IngestEvent applies one callback. Duplicate or out-of-order events
// (seq at or below the run's last applied seq) are absorbed as no-ops.
// Version conflicts retry with exponential backoff up to the configured
// attempt ceiling, then surface as Conflict.
func (s *WorkflowService) IngestEvent(ctx context.Context, evt *WorkflowEvent) error {
	if err := validateEvent(evt); err != nil {
		metrics.IncIngest("validation_error")
		s.logger.WithField("payload_digest", eventDigest(evt)).Warnf("workflow event rejected: %v", err)
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.backoffBase << uint(attempt-1)):
			case <-ctx.Done():
				return WrapErr(KindUnavailable, ctx.Err(), "store timeout")
			}
		}
		applied, err := s.applyEvent(ctx, evt)
		if err == nil {
			if applied {
				metrics.IncIngest("accepted")
				s.cache.Invalidate(ctx, workflowCacheKey(evt.WorkflowID), cacheKeyActiveRuns)
			}
			return nil
		}
		if KindOf(err) == KindStaleEvent {
			// Duplicate or out-of-order delivery, absorbed as a no-op.
			return nil
		}
		if KindOf(err) != KindConflict {
			return err
		}
		lastErr = err
	}
	metrics.IncIngest("conflict")
	return lastErr
}

// applyEvent runs one read-modify-write round. The bool result reports
// whether a row actually changed; stale deliveries come back as a
// stale_event error for the caller to absorb.
func (s *WorkflowService) applyEvent(ctx context.Context, evt *WorkflowEvent) (bool, error) {
	var run models.WorkflowRun
	err := s.db.WithContext(ctx).Where("workflow_id = ?", evt.WorkflowID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s.createRun(ctx, evt)
	}
	if err != nil {
		return false, WrapErr(KindUnavailable, err, "load workflow run")
	}

	if evt.Seq <= run.LastEventSeq {
		metrics.IncIngest("stale")
		s.logger.Debugf("workflow %s: dropping stale event seq=%d (last applied %d)",
			evt.WorkflowID, evt.Seq, run.LastEventSeq)
		return false, Errf(KindStaleEvent, "workflow %s: event seq %d already applied",
			evt.WorkflowID, evt.Seq)
	}
	if run.Terminal() || !transitionAllowed(run.Status, evt.Status) {
		metrics.IncIngest("invalid_transition")
		return false, Errf(KindInvalidTransition, "workflow %s: cannot move from %s to %s",
			evt.WorkflowID, run.Status, evt.Status)
	}

	updates := map[string]interface{}{
		"status":         evt.Status,
		"progress_done":  evt.Progress.Completed,
		"progress_total": evt.Progress.Total,
		"last_event_seq": evt.Seq,
		"last_error":     evt.Error,
		"version":        run.Version + 1,
		"updated_at":     time.Now(),
	}
	if evt.WorkflowName != "" {
		updates["workflow_name"] = evt.WorkflowName
	}
	if evt.Status == models.RunStatusCompleted || evt.Status == models.RunStatusFailed {
		done := evt.Timestamp
		updates["completed_at"] = &done
	}

	res := s.db.WithContext(ctx).Model(&models.WorkflowRun{}).
		Where("workflow_id = ? AND version = ?", evt.WorkflowID, run.Version).
		Updates(updates)
	if res.Error != nil {
		return false, WrapErr(KindUnavailable, res.Error, "persist workflow run")
	}
	if res.RowsAffected == 0 {
		return false, Errf(KindConflict, "workflow %s: version %d superseded", evt.WorkflowID, run.Version)
	}
	return true, nil
}

// createRun inserts the row for a workflow's first observed event. The
// run implicitly starts pending, so the event status must be reachable
// from pending.
func (s *WorkflowService) createRun(ctx context.Context, evt *WorkflowEvent) (bool, error) {
	if !transitionAllowed(models.RunStatusPending, evt.Status) {
		metrics.IncIngest("invalid_transition")
		return false, Errf(KindInvalidTransition, "workflow %s: first event cannot start at %s",
			evt.WorkflowID, evt.Status)
	}
	run := models.WorkflowRun{
		WorkflowID:    evt.WorkflowID,
		WorkflowName:  evt.WorkflowName,
		Status:        evt.Status,
		ProgressDone:  evt.Progress.Completed,
		ProgressTotal: evt.Progress.Total,
		LastEventSeq:  evt.Seq,
		LastError:     evt.Error,
		StartedAt:     evt.Timestamp,
	}
	if evt.Status == models.RunStatusFailed {
		done := evt.Timestamp
		run.CompletedAt = &done
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a create race; the next attempt lands on the update path.
			return false, Errf(KindConflict, "workflow %s: concurrent create", evt.WorkflowID)
		}
		return false, WrapErr(KindUnavailable, err, "create workflow run")
	}
	return true, nil
}

// GetStatus returns the run for workflowID, read-through cached.
func (s *WorkflowService) GetStatus(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	if workflowID == "" {
		return nil, Errf(KindValidation, "workflow_id required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var run models.WorkflowRun
	err := cache.GetJSON(ctx, s.cache, workflowCacheKey(workflowID), &run, func(ctx context.Context) (interface{}, error) {
		var r models.WorkflowRun
		if err := s.db.WithContext(ctx).Where("workflow_id = ?", workflowID).First(&r).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, Errf(KindNotFound, "workflow %s has never been seen", workflowID)
			}
			return nil, WrapErr(KindUnavailable, err, "load workflow run")
		}
		return &r, nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListActive returns all non-terminal runs, newest started first. The
// aggregate is cached and invalidated on every mutating ingest.
func (s *WorkflowService) ListActive(ctx context.Context) ([]models.WorkflowRun, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	var runs []models.WorkflowRun
	err := cache.GetJSON(ctx, s.cache, cacheKeyActiveRuns, &runs, func(ctx context.Context) (interface{}, error) {
		var rs []models.WorkflowRun
		err := s.db.WithContext(ctx).
			Where("status IN ?", []string{models.RunStatusPending, models.RunStatusRunning}).
			Order("started_at DESC").
			Find(&rs).Error
		if err != nil {
			return nil, WrapErr(KindUnavailable, err, "list active runs")
		}
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}
