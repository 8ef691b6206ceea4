package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"intelboard/internal/cache"
	"intelboard/internal/config"
	"intelboard/internal/handlers"
	"intelboard/internal/models"
	"intelboard/internal/observability"
	"intelboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

const version = "1.0.0"

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()
	if err := config.InitLogger(cfg); err != nil {
		logrus.Warnf("init logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	shutdownOTel, err := observability.SetupTracing(context.Background(), cfg)
	if err != nil {
		appLogger.Warnf("init tracing: %v", err)
	} else {
		defer func() { _ = shutdownOTel(context.Background()) }()
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.WorkflowRun{},
		&models.CompetitorAlert{},
		&models.AnalyticsSnapshot{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}

	// The cache is a derived projection: Redis when configured, an
	// in-process store otherwise. Either way the relational store stays
	// authoritative and cache failures only cost latency.
	var cacheStore cache.Store
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			appLogger.Warnf("redis unreachable, reads degrade to direct store access: %v", err)
		}
		cancel()
		cacheStore = cache.NewRedisStore(client)
	} else {
		cacheStore = cache.NewMemoryStore()
	}
	coordinator := cache.NewCoordinator(cacheStore, cfg.Cache.TTL, appLogger)

	workflowService := services.NewWorkflowService(db, coordinator, appLogger)
	workflowService.SetRetryPolicy(cfg.Ingest.MaxRetries, cfg.Ingest.RetryBackoff)
	workflowService.SetOperationTimeout(cfg.Ingest.Timeout)

	alertService := services.NewAlertService(db, coordinator, appLogger, cfg.Alerts.DedupeWindow)
	alertService.SetOperationTimeout(cfg.Ingest.Timeout)

	snapshotService := services.NewSnapshotService(db, appLogger)
	snapshotService.SetOperationTimeout(cfg.Ingest.Timeout)

	gateway := services.NewGatewayService(workflowService, alertService, snapshotService)

	queue := services.NewIngestQueue(workflowService, alertService, appLogger, cfg.Ingest.QueueSize, cfg.Ingest.Workers)
	queue.Start()

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	if cfg.Snapshots.Enabled {
		go snapshotService.StartCaptureWorker(workerCtx, cfg.Snapshots.Interval)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Monitoring.Tracing.Enabled {
		router.Use(otelgin.Middleware("intelboard"))
	}

	router.GET("/", handlers.Health(version))
	api := router.Group("/api")
	handlers.RegisterWorkflowRoutes(api, handlers.NewWorkflowHandler(queue, gateway, appLogger))
	handlers.RegisterAlertRoutes(api, handlers.NewAlertHandler(queue, gateway, appLogger))
	handlers.RegisterAnalyticsRoutes(api, handlers.NewAnalyticsHandler(gateway, snapshotService, appLogger))
	handlers.RegisterMetricsRoutes(api, handlers.NewMetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		appLogger.Infof("intelboard API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down...")

	// Stop accepting traffic first, then drain the ingest queue so
	// accepted callbacks still reach the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Errorf("server shutdown: %v", err)
	}
	queue.Stop()
	stopWorkers()
	appLogger.Info("shutdown complete")
}
