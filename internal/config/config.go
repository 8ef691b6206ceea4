package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Cache      CacheConfig      `mapstructure:"cache" yaml:"cache"`
	Ingest     IngestConfig     `mapstructure:"ingest" yaml:"ingest"`
	Alerts     AlertsConfig     `mapstructure:"alerts" yaml:"alerts"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots" yaml:"snapshots"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring" yaml:"monitoring"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Name            string        `mapstructure:"name" yaml:"name"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	TimeZone        string        `mapstructure:"timezone" yaml:"timezone"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// DSN assembles the Postgres connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.Name, c.Port, c.SSLMode, c.TimeZone)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	PoolSize int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// Addr returns the host:port pair for the Redis client.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type IngestConfig struct {
	QueueSize    int           `mapstructure:"queue_size" yaml:"queue_size"`
	Workers      int           `mapstructure:"workers" yaml:"workers"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AlertsConfig struct {
	DedupeWindow time.Duration `mapstructure:"dedupe_window" yaml:"dedupe_window"`
}

type SnapshotsConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"` // json, text
	Output     string `mapstructure:"output" yaml:"output"` // stdout, file, both
	FilePath   string `mapstructure:"file_path" yaml:"file_path"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`   // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MonitoringConfig struct {
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

// TracingConfig controls the optional OTLP trace export.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// Load unmarshals the viper state (config file plus environment) into a
// Config, with defaults applied first.
func Load() *Config {
	setDefaults()
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(err)
	}
	return &config
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "intelboard")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.timezone", "UTC")
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)

	viper.SetDefault("redis.enabled", true)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("cache.ttl", time.Minute)

	viper.SetDefault("ingest.queue_size", 256)
	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.max_retries", 3)
	viper.SetDefault("ingest.retry_backoff", 50*time.Millisecond)
	viper.SetDefault("ingest.timeout", 5*time.Second)

	viper.SetDefault("alerts.dedupe_window", 24*time.Hour)

	viper.SetDefault("snapshots.enabled", true)
	viper.SetDefault("snapshots.interval", time.Hour)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file_path", "./logs/intelboard.log")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_age", 7)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("monitoring.tracing.enabled", false)
	viper.SetDefault("monitoring.tracing.endpoint", "http://localhost:4317")
	viper.SetDefault("monitoring.tracing.insecure", true)
	viper.SetDefault("monitoring.tracing.sample_ratio", 0.1)
	viper.SetDefault("monitoring.tracing.service_name", "intelboard")
}
