// Package config provides configuration for the realtime gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the gateway configuration.
type Config struct {
	// Server settings
	WSPort   int `envconfig:"WS_PORT" default:"8090"`   // External WebSocket port
	HTTPPort int `envconfig:"HTTP_PORT" default:"8091"` // Internal HTTP port for /internal/*, /health
	RPCPort  int `envconfig:"RPC_PORT" default:"8092"`  // JSON-RPC push port, 0 disables it

	// Database
	DatabaseURL string `envconfig:"DATABASE_URL" default:"file:gateway.db?cache=shared&mode=rwc"`

	// Auth settings
	JWTSecret      string `envconfig:"JWT_SECRET"`
	JWTIssuer      string `envconfig:"JWT_ISSUER"`
	AuthCacheTTLMs int    `envconfig:"AUTH_CACHE_TTL_MS" default:"300000"`

	// Rate limiting
	RateLimitEvents   int `envconfig:"RATE_LIMIT_EVENTS" default:"60"`
	RateLimitWindowMs int `envconfig:"RATE_LIMIT_WINDOW_MS" default:"60000"`

	// Presence debounce
	PresenceOnlineDelayMs  int `envconfig:"PRESENCE_ONLINE_DELAY_MS" default:"1000"`
	PresenceOfflineDelayMs int `envconfig:"PRESENCE_OFFLINE_DELAY_MS" default:"5000"`

	// Messaging and hand-off
	MarkReadBatch           int `envconfig:"MARK_READ_BATCH" default:"100"`
	QueueWaitPerPositionMin int `envconfig:"QUEUE_WAIT_PER_POSITION_MIN" default:"5"`
	AgentMaxChats           int `envconfig:"AGENT_MAX_CHATS" default:"5"`

	// Backplane and notifications
	RedisAddr        string `envconfig:"REDIS_ADDR"`
	RedisChannel     string `envconfig:"REDIS_CHANNEL" default:"gateway:broadcast"`
	KafkaBrokers     string `envconfig:"KAFKA_BROKERS"`
	KafkaNotifyTopic string `envconfig:"KAFKA_NOTIFY_TOPIC" default:"gateway.notifications"`
	NotifyWebhookURL string `envconfig:"NOTIFY_WEBHOOK_URL"`

	// WebSocket settings
	PingIntervalMs int   `envconfig:"WS_PING_INTERVAL_MS" default:"30000"`
	WriteTimeoutMs int   `envconfig:"WS_WRITE_TIMEOUT_MS" default:"10000"`
	ReadTimeoutMs  int   `envconfig:"WS_READ_TIMEOUT_MS" default:"60000"`
	MaxMessageSize int64 `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RateLimitEvents <= 0 {
		return nil, fmt.Errorf("RATE_LIMIT_EVENTS must be positive, got %d", cfg.RateLimitEvents)
	}
	if cfg.AgentMaxChats <= 0 {
		return nil, fmt.Errorf("AGENT_MAX_CHATS must be positive, got %d", cfg.AgentMaxChats)
	}
	return &cfg, nil
}

// Default returns the configuration with every default applied and no
// environment lookups.
func Default() *Config {
	return &Config{
		WSPort:                  8090,
		HTTPPort:                8091,
		RPCPort:                 8092,
		DatabaseURL:             ":memory:",
		AuthCacheTTLMs:          300000,
		RateLimitEvents:         60,
		RateLimitWindowMs:       60000,
		PresenceOnlineDelayMs:   1000,
		PresenceOfflineDelayMs:  5000,
		MarkReadBatch:           100,
		QueueWaitPerPositionMin: 5,
		AgentMaxChats:           5,
		RedisChannel:            "gateway:broadcast",
		KafkaNotifyTopic:        "gateway.notifications",
		PingIntervalMs:          30000,
		WriteTimeoutMs:          10000,
		ReadTimeoutMs:           60000,
		MaxMessageSize:          65536,
		LogLevel:                "info",
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) AuthCacheTTL() time.Duration        { return ms(c.AuthCacheTTLMs) }
func (c *Config) RateLimitWindow() time.Duration     { return ms(c.RateLimitWindowMs) }
func (c *Config) PresenceOnlineDelay() time.Duration { return ms(c.PresenceOnlineDelayMs) }
func (c *Config) PresenceOfflineDelay() time.Duration {
	return ms(c.PresenceOfflineDelayMs)
}
func (c *Config) PingInterval() time.Duration { return ms(c.PingIntervalMs) }
func (c *Config) WriteTimeout() time.Duration { return ms(c.WriteTimeoutMs) }
func (c *Config) ReadTimeout() time.Duration  { return ms(c.ReadTimeoutMs) }

// QueueWaitPerPosition is the estimated wait added per queue position.
func (c *Config) QueueWaitPerPosition() time.Duration {
	return time.Duration(c.QueueWaitPerPositionMin) * time.Minute
}

// KafkaBrokerList splits KAFKA_BROKERS on commas.
func (c *Config) KafkaBrokerList() []string {
	if strings.TrimSpace(c.KafkaBrokers) == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
