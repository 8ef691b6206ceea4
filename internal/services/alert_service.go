package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"intelboard/internal/cache"
	"intelboard/internal/metrics"
	"intelboard/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const cacheKeyAlertList = "alerts:list"

// RawSignal is the inbound competitor-change contract, as emitted by the
// scraping workflows.
type RawSignal struct {
	CompetitorName   string    `json:"competitor_name"`
	AlertType        string    `json:"alert_type"`
	Message          string    `json:"message"`
	DetectedAt       time.Time `json:"detected_at"`
	ExplicitSeverity string    `json:"explicit_severity,omitempty"`
	OriginWorkflowID string    `json:"origin_workflow_id,omitempty"`
}

// classificationRule maps a keyword to a priority. Table order is
// significant: the first matching rule wins.
type classificationRule struct {
	Keyword  string
	Priority string
}

var defaultClassificationRules = []classificationRule{
	{"pricing", models.PriorityHigh},
	{"bonus", models.PriorityHigh},
	{"promotion", models.PriorityHigh},
	{"launch", models.PriorityHigh},
	{"outage", models.PriorityHigh},
	{"new content", models.PriorityMedium},
	{"review", models.PriorityMedium},
	{"seo", models.PriorityMedium},
	{"ranking", models.PriorityMedium},
	{"keyword", models.PriorityMedium},
	{"minor", models.PriorityLow},
	{"typo", models.PriorityLow},
	{"cosmetic", models.PriorityLow},
}

// AlertService deduplicates noisy competitor-change signals into one
// stored alert per signal per dedupe window.
type AlertService struct {
	db        *gorm.DB
	cache     *cache.Coordinator
	logger    *logrus.Logger
	window    time.Duration
	rules     []classificationRule
	opTimeout time.Duration
}

func NewAlertService(db *gorm.DB, cc *cache.Coordinator, logger *logrus.Logger, window time.Duration) *AlertService {
	if logger == nil {
		logger = logrus.New()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &AlertService{
		db:        db,
		cache:     cc,
		logger:    logger,
		window:    window,
		rules:     defaultClassificationRules,
		opTimeout: 5 * time.Second,
	}
}

// SetOperationTimeout bounds every store round-trip of this service.
func (s *AlertService) SetOperationTimeout(d time.Duration) {
	if d > 0 {
		s.opTimeout = d
	}
}

// normalizeMessage case-folds and collapses whitespace so trivially
// reworded repeats of the same signal share a dedupe key.
func normalizeMessage(msg string) string {
	return strings.Join(strings.Fields(strings.ToLower(msg)), " ")
}

// dedupeKey buckets the normalized signal into the current dedupe
// window; the same signal in a later window yields a fresh key.
func (s *AlertService) dedupeKey(sig *RawSignal) string {
	bucket := sig.DetectedAt.UTC().Truncate(s.window).Unix()
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(sig.CompetitorName),
		strings.ToLower(sig.AlertType),
		normalizeMessage(sig.Message),
		bucket)))
	return hex.EncodeToString(sum[:16])
}

func validateSignal(sig *RawSignal) error {
	switch {
	case sig == nil:
		return Errf(KindValidation, "signal required")
	case sig.CompetitorName == "":
		return Errf(KindValidation, "competitor_name required")
	case sig.AlertType == "":
		return Errf(KindValidation, "alert_type required")
	case sig.DetectedAt.IsZero():
		return Errf(KindValidation, "detected_at required")
	}
	return nil
}

// Classify resolves the priority for a signal: a valid explicit severity
// wins, then the first matching rule, then medium.
func (s *AlertService) Classify(sig *RawSignal) string {
	switch strings.ToLower(sig.ExplicitSeverity) {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh:
		return strings.ToLower(sig.ExplicitSeverity)
	}
	haystack := normalizeMessage(sig.AlertType + " " + sig.Message)
	for _, rule := range s.rules {
		if strings.Contains(haystack, rule.Keyword) {
			return rule.Priority
		}
	}
	return models.PriorityMedium
}

// IngestRaw stores a new alert for an unseen signal, or folds a repeat
// within the dedupe window into the existing row. Priority is computed
// once at first insertion and never recomputed on repeats.
func (s *AlertService) IngestRaw(ctx context.Context, sig *RawSignal) (*models.CompetitorAlert, error) {
	if err := validateSignal(sig); err != nil {
		metrics.IncIngest("validation_error")
		s.logger.WithField("payload_digest", eventDigest(sig)).Warnf("competitor signal rejected: %v", err)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	key := s.dedupeKey(sig)
	existing, err := s.touchExisting(ctx, key, sig)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.IncIngest("dedupe_hit")
		s.cache.Invalidate(ctx, cacheKeyAlertList)
		return existing, nil
	}

	alert := &models.CompetitorAlert{
		ID:              uuid.NewString(),
		CompetitorName:  sig.CompetitorName,
		AlertType:       sig.AlertType,
		Message:         sig.Message,
		Priority:        s.Classify(sig),
		DedupeKey:       key,
		DetectedAt:      sig.DetectedAt,
		LastSeenAt:      sig.DetectedAt,
		OccurrenceCount: 1,
	}
	if sig.OriginWorkflowID != "" {
		origin := sig.OriginWorkflowID
		alert.OriginWorkflowID = &origin
	}
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the insert race to an identical signal; fold into it.
			existing, terr := s.touchExisting(ctx, key, sig)
			if terr != nil {
				return nil, terr
			}
			if existing != nil {
				metrics.IncIngest("dedupe_hit")
				s.cache.Invalidate(ctx, cacheKeyAlertList)
				return existing, nil
			}
			return nil, Errf(KindConflict, "alert %s: concurrent insert", key)
		}
		return nil, WrapErr(KindUnavailable, err, "create alert")
	}
	metrics.IncIngest("accepted")
	s.cache.Invalidate(ctx, cacheKeyAlertList)
	return alert, nil
}

// touchExisting increments the stored alert for the window, if any. The
// increment is a single atomic column expression, so concurrent repeats
// never lose counts.
func (s *AlertService) touchExisting(ctx context.Context, key string, sig *RawSignal) (*models.CompetitorAlert, error) {
	var alert models.CompetitorAlert
	err := s.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapErr(KindUnavailable, err, "load alert")
	}

	lastSeen := sig.DetectedAt
	if lastSeen.Before(alert.LastSeenAt) {
		lastSeen = alert.LastSeenAt
	}
	err = s.db.WithContext(ctx).Model(&alert).UpdateColumns(map[string]interface{}{
		"occurrence_count": gorm.Expr("occurrence_count + 1"),
		"last_seen_at":     lastSeen,
		"updated_at":       time.Now(),
	}).Error
	if err != nil {
		return nil, WrapErr(KindUnavailable, err, "update alert")
	}
	if err := s.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&alert).Error; err != nil {
		return nil, WrapErr(KindUnavailable, err, "reload alert")
	}
	return &alert, nil
}

// AlertFilter narrows List results.
type AlertFilter struct {
	Priority string
	From     *time.Time
	To       *time.Time
}

func (f AlertFilter) empty() bool {
	return f.Priority == "" && f.From == nil && f.To == nil
}

// Page selects one page of results. Zero values mean first page,
// default size.
type Page struct {
	Number int
	Size   int
}

// Normalized returns the page with defaults and the size cap applied,
// matching what List actually returns.
func (p Page) Normalized() Page {
	limit, offset := p.limitOffset()
	return Page{Number: offset/limit + 1, Size: limit}
}

func (p Page) limitOffset() (limit, offset int) {
	size := p.Size
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	number := p.Number
	if number <= 0 {
		number = 1
	}
	return size, (number - 1) * size
}

// alertPage is the cached payload for the dashboard's default listing.
type alertPage struct {
	Alerts []models.CompetitorAlert `json:"alerts"`
	Total  int64                    `json:"total"`
}

// List returns alerts ordered by detected_at descending with id as the
// tiebreaker, so pagination stays stable across polls. The unfiltered
// first page is the dashboard's hot query and is served read-through
// from cache.
func (s *AlertService) List(ctx context.Context, filter AlertFilter, page Page) ([]models.CompetitorAlert, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	limit, offset := page.limitOffset()
	if filter.empty() && offset == 0 && limit == 20 {
		var cached alertPage
		err := cache.GetJSON(ctx, s.cache, cacheKeyAlertList, &cached, func(ctx context.Context) (interface{}, error) {
			alerts, total, err := s.list(ctx, filter, limit, offset)
			if err != nil {
				return nil, err
			}
			return alertPage{Alerts: alerts, Total: total}, nil
		})
		if err != nil {
			return nil, 0, err
		}
		return cached.Alerts, cached.Total, nil
	}
	return s.list(ctx, filter, limit, offset)
}

func (s *AlertService) list(ctx context.Context, filter AlertFilter, limit, offset int) ([]models.CompetitorAlert, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.CompetitorAlert{})
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.From != nil {
		q = q.Where("detected_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("detected_at <= ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, WrapErr(KindUnavailable, err, "count alerts")
	}
	var alerts []models.CompetitorAlert
	if err := q.Order("detected_at DESC, id ASC").Limit(limit).Offset(offset).Find(&alerts).Error; err != nil {
		return nil, 0, WrapErr(KindUnavailable, err, "list alerts")
	}
	return alerts, total, nil
}
