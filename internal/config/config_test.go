package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.WSPort)
	assert.Equal(t, 5*time.Minute, cfg.AuthCacheTTL())
	assert.Equal(t, 60, cfg.RateLimitEvents)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow())
	assert.Equal(t, time.Second, cfg.PresenceOnlineDelay())
	assert.Equal(t, 5*time.Second, cfg.PresenceOfflineDelay())
	assert.Equal(t, 5*time.Minute, cfg.QueueWaitPerPosition())
	assert.Nil(t, cfg.KafkaBrokerList())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WS_PORT", "9000")
	t.Setenv("RATE_LIMIT_EVENTS", "10")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.WSPort)
	assert.Equal(t, 10, cfg.RateLimitEvents)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokerList())
}

func TestLoadRejectsInvalidLimits(t *testing.T) {
	t.Setenv("RATE_LIMIT_EVENTS", "0")
	_, err := Load()
	require.Error(t, err)
}
