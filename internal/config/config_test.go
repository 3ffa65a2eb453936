package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREDENTIAL_KEY", "k")

	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 30*time.Second, cfg.QueueAckWait)
	assert.Equal(t, 5, cfg.QueueMaxDeliver)
	assert.Equal(t, "PENDING", cfg.PendingToken)
	assert.Equal(t, time.Second, cfg.BotReplyDelay)
	assert.True(t, cfg.WorkerEnabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_MAX_DELIVER", "9")
	t.Setenv("JOB_TIMEOUT", "5s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("REALTIME_RELAY", "VALKEY")
	t.Setenv("WORKER_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, 9, cfg.QueueMaxDeliver)
	assert.Equal(t, 5*time.Second, cfg.JobTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "valkey", cfg.RealtimeRelay)
	assert.False(t, cfg.WorkerEnabled)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		t.Setenv("CREDENTIAL_KEY", "k")
		return Load()
	}

	cfg := base()
	cfg.CredentialKey = ""
	assert.Error(t, cfg.Validate())
	cfg.Env = "development"
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.JobTimeout = cfg.QueueAckWait
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.WorkerQueueSize = cfg.QueueMaxAckPending - 1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.DBDriver = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RealtimeRelay = "kafka"
	assert.Error(t, cfg.Validate())
}
