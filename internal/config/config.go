package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	ServiceName    string
	DatabaseURL    string
	NATSURL        string
	HTTPListenAddr string
	LogLevel       string

	// StaticClustersFile optionally points at a YAML file of clusters to
	// register at startup.
	StaticClustersFile string

	// Per-cluster ingestion queue size; the queue drops oldest on overflow.
	IngestQueueSize int
	// Consecutive subscribe failures before a cluster is reported degraded.
	IngestMaxFailures int

	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	ApplyMaxAttempts int
	IOTimeout        time.Duration
	ShutdownTimeout  time.Duration

	// ReconcileLanes is the number of serialized apply lanes; 0 means one
	// per available CPU.
	ReconcileLanes int

	SweepInterval       time.Duration
	SweepRequestTimeout time.Duration
	// MaxTimeToRunning bounds how long an instance may sit in a pre-Running
	// phase before the sweeper considers it stale.
	MaxTimeToRunning time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:         getEnv("SERVICE_NAME", "ws-bridge"),
		DatabaseURL:         getEnv("BRIDGE_DATABASE_URL", ""),
		NATSURL:             getEnv("NATS_URL", ""),
		HTTPListenAddr:      getEnv("HTTP_LISTEN_ADDR", ":8090"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		StaticClustersFile:  getEnv("STATIC_CLUSTERS_FILE", ""),
		IngestQueueSize:     getEnvInt("INGEST_QUEUE_SIZE", 1000),
		IngestMaxFailures:   getEnvInt("INGEST_MAX_FAILURES", 5),
		RetryBackoffBase:    getEnvDuration("RETRY_BACKOFF_BASE", time.Second),
		RetryBackoffCap:     getEnvDuration("RETRY_BACKOFF_CAP", 30*time.Second),
		ApplyMaxAttempts:    getEnvInt("APPLY_MAX_ATTEMPTS", 5),
		IOTimeout:           getEnvDuration("IO_TIMEOUT", 10*time.Second),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		ReconcileLanes:      getEnvInt("RECONCILE_LANES", 0),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		SweepRequestTimeout: getEnvDuration("SWEEP_REQUEST_TIMEOUT", 10*time.Second),
		MaxTimeToRunning:    getEnvDuration("MAX_TIME_TO_RUNNING", time.Hour),
	}

	return cfg, nil
}

// Validate checks that the keys without a usable default are present.
// embeddedNATS relaxes the NATS_URL requirement since the process then dials
// its own in-process server.
func (c *Config) Validate(embeddedNATS bool) error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("BRIDGE_DATABASE_URL is required")
	}
	if c.NATSURL == "" && !embeddedNATS {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.IngestQueueSize <= 0 {
		return fmt.Errorf("INGEST_QUEUE_SIZE must be positive")
	}
	if c.ApplyMaxAttempts <= 0 {
		return fmt.Errorf("APPLY_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
