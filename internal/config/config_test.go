package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 1000, cfg.IngestQueueSize)
	assert.Equal(t, 5, cfg.IngestMaxFailures)
	assert.Equal(t, time.Second, cfg.RetryBackoffBase)
	assert.Equal(t, 30*time.Second, cfg.RetryBackoffCap)
	assert.Equal(t, 5, cfg.ApplyMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.IOTimeout)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BRIDGE_DATABASE_URL", "postgres://localhost/bridge")
	t.Setenv("INGEST_QUEUE_SIZE", "50")
	t.Setenv("RETRY_BACKOFF_CAP", "10s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/bridge", cfg.DatabaseURL)
	assert.Equal(t, 50, cfg.IngestQueueSize)
	assert.Equal(t, 10*time.Second, cfg.RetryBackoffCap)
}

func TestValidate(t *testing.T) {
	cfg := &Config{IngestQueueSize: 1000, ApplyMaxAttempts: 5}
	require.Error(t, cfg.Validate(false), "missing database URL")

	cfg.DatabaseURL = "postgres://localhost/bridge"
	require.Error(t, cfg.Validate(false), "missing NATS URL")
	require.NoError(t, cfg.Validate(true), "embedded NATS needs no URL")

	cfg.NATSURL = "nats://localhost:4222"
	require.NoError(t, cfg.Validate(false))

	cfg.IngestQueueSize = 0
	require.Error(t, cfg.Validate(false))
}
