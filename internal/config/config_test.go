package config_test

import (
	"testing"
	"time"

	"randomchat/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PUSH_BACKEND", "")
	t.Setenv("SEARCH_POLL_INTERVAL", "")

	cfg := config.Load()

	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, config.BackendRedis, cfg.Delivery.Backend)
	assert.Equal(t, 2*time.Second, cfg.Matchmaking.SearchPollInterval)
	assert.Equal(t, 5, cfg.Matchmaking.CandidateBatch)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PUSH_BACKEND", "postgres")
	t.Setenv("DELIVERY_POLL_INTERVAL", "750ms")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "chat")

	cfg := config.Load()

	assert.Equal(t, config.BackendPostgres, cfg.Delivery.Backend)
	assert.Equal(t, 750*time.Millisecond, cfg.Delivery.PollInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
	assert.Contains(t, cfg.PostgresDSN(), "host=db")
	assert.Contains(t, cfg.PostgresDSN(), "dbname=chat")
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("PUSH_BACKEND", "kafka")

	cfg := config.Load()

	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsMemoryBackend(t *testing.T) {
	t.Setenv("PUSH_BACKEND", "memory")

	cfg := config.Load()

	assert.Equal(t, config.BackendMemory, cfg.Delivery.Backend)
	assert.NoError(t, cfg.Validate())
}
