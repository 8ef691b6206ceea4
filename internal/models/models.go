package models

import (
	"encoding/json"
	"time"
)

// Workflow run statuses. Transitions are monotonic: once a run reaches a
// terminal status it never changes again.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Alert priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// WorkflowRun tracks one execution of a named automation workflow.
type WorkflowRun struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	WorkflowID    string     `gorm:"uniqueIndex;not null" json:"workflow_id"`
	WorkflowName  string     `json:"workflow_name"`
	Status        string     `gorm:"default:'pending'" json:"status"` // pending, running, completed, failed
	ProgressDone  int        `gorm:"default:0" json:"progress_done"`
	ProgressTotal int        `gorm:"default:0" json:"progress_total"`
	LastEventSeq  int64      `gorm:"default:0" json:"last_event_seq"`
	Version       int64      `gorm:"default:0" json:"version"` // optimistic concurrency
	LastError     string     `json:"last_error,omitempty"`
	StartedAt     time.Time  `gorm:"index" json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Terminal reports whether the run reached a final status.
func (r *WorkflowRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// CompetitorAlert is a deduplicated, priority-classified record of an
// external competitor change. DedupeKey already encodes the dedupe window
// bucket, so the unique index keeps one row per signal per window.
type CompetitorAlert struct {
	ID               string    `gorm:"primaryKey" json:"id"`
	CompetitorName   string    `gorm:"index;not null" json:"competitor_name"`
	AlertType        string    `gorm:"not null" json:"alert_type"`
	Message          string    `gorm:"type:text" json:"message"`
	Priority         string    `gorm:"index;default:'medium'" json:"priority"` // low, medium, high
	DedupeKey        string    `gorm:"uniqueIndex;not null" json:"-"`
	DetectedAt       time.Time `gorm:"index" json:"detected_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
	OccurrenceCount  int       `gorm:"default:1" json:"occurrence_count"`
	OriginWorkflowID *string   `json:"origin_workflow_id,omitempty"` // back-reference, lookup only
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AnalyticsSnapshot is an immutable point-in-time rollup of aggregate
// counters. Metrics holds a JSON object of metric name to numeric value.
type AnalyticsSnapshot struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CapturedAt time.Time `gorm:"uniqueIndex;not null" json:"captured_at"`
	Metrics    string    `gorm:"type:text" json:"metrics"`
	CreatedAt  time.Time `json:"created_at"`
}

// MetricValues decodes the metrics payload.
func (s *AnalyticsSnapshot) MetricValues() (map[string]float64, error) {
	out := map[string]float64{}
	if s.Metrics == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s.Metrics), &out); err != nil {
		return nil, err
	}
	return out, nil
}
