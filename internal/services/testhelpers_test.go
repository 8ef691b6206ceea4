package services

import (
	"strings"
	"testing"
	"time"

	"intelboard/internal/cache"
	"intelboard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T, prefix string) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:" + prefix + "_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.WorkflowRun{},
		&models.CompetitorAlert{},
		&models.AnalyticsSnapshot{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func newTestCache(t *testing.T) *cache.Coordinator {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return cache.NewCoordinator(cache.NewMemoryStore(), time.Minute, logger)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func runningEvent(workflowID string, seq int64, completed, total int) *WorkflowEvent {
	return &WorkflowEvent{
		WorkflowID:   workflowID,
		WorkflowName: "Content Generation",
		Seq:          seq,
		Status:       models.RunStatusRunning,
		Progress:     EventProgress{Completed: completed, Total: total},
		Timestamp:    time.Now().UTC(),
	}
}
