package handlers

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"intelboard/internal/cache"
	"intelboard/internal/models"
	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	router *gin.Engine
	queue  *services.IngestQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:handlers_" + name + "?mode=memory&cache=shared"
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

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	cc := cache.NewCoordinator(cache.NewMemoryStore(), time.Minute, logger)

	workflows := services.NewWorkflowService(db, cc, logger)
	alerts := services.NewAlertService(db, cc, logger, 24*time.Hour)
	snapshots := services.NewSnapshotService(db, logger)
	gateway := services.NewGatewayService(workflows, alerts, snapshots)
	queue := services.NewIngestQueue(workflows, alerts, logger, 16, 2)
	queue.Start()
	t.Cleanup(queue.Stop)

	router := gin.New()
	router.GET("/", Health("test"))
	api := router.Group("/api")
	RegisterWorkflowRoutes(api, NewWorkflowHandler(queue, gateway, logger))
	RegisterAlertRoutes(api, NewAlertHandler(queue, gateway, logger))
	RegisterAnalyticsRoutes(api, NewAnalyticsHandler(gateway, snapshots, logger))
	RegisterMetricsRoutes(api, NewMetricsHandler())

	return &testEnv{router: router, queue: queue}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// drain stops the worker pool so queued events are fully applied before
// the test reads state back. The queue refuses new work afterwards.
func (e *testEnv) drain() {
	e.queue.Stop()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func callbackPayload(workflowID string, seq int64, status string, completed, total int) map[string]interface{} {
	return map[string]interface{}{
		"workflow_id":   workflowID,
		"workflow_name": "Content Generation",
		"seq":           seq,
		"status":        status,
		"progress":      map[string]int{"completed": completed, "total": total},
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, want, rec.Body.String())
	}
}
