package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SamplingInterval = "interval"
	SamplingRead     = "read"
)

type Config struct {
	// Server
	HTTPPort string
	GRPCPort string

	// Storage
	DBPath        string
	DatabaseURL   string
	UploadDir     string
	LogsTableName string
	HashRetention time.Duration

	// Known-bad hashes
	IOCFiles     []string
	IOCSeedFiles []string
	IOCSchema    string
	IOCTableName string
	IOCColumnSHA string

	// Alerting
	CPUHigh      float64
	RAMRatioHigh float64

	// Fleet view
	StaleAfter     time.Duration
	Sampling       string
	SampleInterval time.Duration

	// Ingest limits
	IngestRate  float64
	IngestBurst int

	// Alert publishing
	AMQPURL      string
	AMQPExchange string

	ConsulAddr string
	NodeIP     string
	LogLevel   string
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:      getEnv("HTTP_PORT", "8000"),
		GRPCPort:      getEnv("GRPC_PORT", "9090"),
		DBPath:        getEnv("DB_PATH", "logs.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		UploadDir:     getEnv("UPLOAD_DIR", "logs"),
		LogsTableName: getEnv("LOGS_TABLE_NAME", "logs"),
		IOCFiles:      splitList(getEnv("IOC_FILE", "")),
		IOCSeedFiles:  splitList(getEnv("IOC_SEED_FILE", "")),
		IOCSchema:     getEnv("IOC_SCHEMA", ""),
		IOCTableName:  getEnv("IOC_TABLE_NAME", ""),
		IOCColumnSHA:  getEnv("IOC_COL_SHA", "sha256"),
		Sampling:      strings.ToLower(getEnv("HISTORY_SAMPLING", SamplingRead)),
		AMQPURL:       getEnv("AMQP_URL", ""),
		AMQPExchange:  getEnv("AMQP_EXCHANGE", "fleet.alerts"),
		ConsulAddr:    getEnv("CONSUL_HTTP_ADDR", ""),
		NodeIP:        getEnv("NODE_IP", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.CPUHigh, err = getFloat("CPU_HIGH", 90); err != nil {
		return nil, err
	}
	if cfg.RAMRatioHigh, err = getFloat("RAM_RATIO_HIGH", 0.9); err != nil {
		return nil, err
	}
	if cfg.IngestRate, err = getFloat("INGEST_RATE", 0); err != nil {
		return nil, err
	}
	if cfg.IngestBurst, err = getInt("INGEST_BURST", 100); err != nil {
		return nil, err
	}

	staleSecs, err := getInt("METRICS_STALE_SECS", 30)
	if err != nil {
		return nil, err
	}
	cfg.StaleAfter = time.Duration(staleSecs) * time.Second

	if cfg.SampleInterval, err = getDuration("HISTORY_SAMPLE_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.HashRetention, err = getDuration("HASH_RETENTION", 720*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Sampling != SamplingInterval && c.Sampling != SamplingRead {
		return fmt.Errorf("HISTORY_SAMPLING must be %q or %q, got %q", SamplingInterval, SamplingRead, c.Sampling)
	}
	if c.Sampling == SamplingInterval && c.SampleInterval <= 0 {
		return fmt.Errorf("HISTORY_SAMPLE_INTERVAL must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("METRICS_STALE_SECS must be positive")
	}
	if c.IngestRate < 0 || c.IngestBurst < 0 {
		return fmt.Errorf("INGEST_RATE and INGEST_BURST must not be negative")
	}
	return nil
}

// UsePostgres reports whether DatabaseURL names a postgres server.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getFloat(key string, fallback float64) (float64, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, fallback int) (int, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return i, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
