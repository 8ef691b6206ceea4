package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	cfg := Load()

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("cache.ttl = %v, want 1m", cfg.Cache.TTL)
	}
	if cfg.Ingest.QueueSize != 256 || cfg.Ingest.Workers != 4 {
		t.Errorf("ingest = %d/%d, want 256/4", cfg.Ingest.QueueSize, cfg.Ingest.Workers)
	}
	if cfg.Ingest.MaxRetries != 3 || cfg.Ingest.RetryBackoff != 50*time.Millisecond {
		t.Errorf("retry policy = %d/%v", cfg.Ingest.MaxRetries, cfg.Ingest.RetryBackoff)
	}
	if cfg.Alerts.DedupeWindow != 24*time.Hour {
		t.Errorf("alerts.dedupe_window = %v, want 24h", cfg.Alerts.DedupeWindow)
	}
	if !cfg.Snapshots.Enabled || cfg.Snapshots.Interval != time.Hour {
		t.Errorf("snapshots = %v/%v", cfg.Snapshots.Enabled, cfg.Snapshots.Interval)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log.format = %q, want json", cfg.Log.Format)
	}
	if cfg.Monitoring.Tracing.Enabled {
		t.Error("tracing must default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	viper.Set("server.port", 9999)
	viper.Set("redis.enabled", false)
	viper.Set("alerts.dedupe_window", "1h")
	defer viper.Reset()

	cfg := Load()
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Redis.Enabled {
		t.Error("redis.enabled override lost")
	}
	if cfg.Alerts.DedupeWindow != time.Hour {
		t.Errorf("alerts.dedupe_window = %v, want 1h", cfg.Alerts.DedupeWindow)
	}
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "svc", Password: "secret",
		Name: "intelboard", SSLMode: "require", TimeZone: "UTC",
	}
	want := "host=db.internal user=svc password=secret dbname=intelboard port=5433 sslmode=require TimeZone=UTC"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestRedisAddr(t *testing.T) {
	c := RedisConfig{Host: "cache.internal", Port: 6380}
	if got := c.Addr(); got != "cache.internal:6380" {
		t.Errorf("Addr() = %q", got)
	}
}
