// Package config provides environment configuration for the relay service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// JWT settings
	JWTSecret string

	// Connection policy. When false, connections without a valid token are
	// rejected instead of proceeding as anonymous chatbot users.
	AllowAnonymous bool

	// Responder settings
	ResponderWebhookURL string
	ResponderAPIKey     string
	ResponderTimeout    time.Duration
	AnthropicAPIKey     string
	OpenAIAPIKey        string

	// Session store settings
	StoreBaseURL string
	StoreToken   string
	StoreTimeout time.Duration

	// NATS settings (optional cross-instance fanout)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// REST rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Websocket settings
	WSReadLimit      int64
	WSReadTimeout    time.Duration
	WSWriteTimeout   time.Duration
	WSPingInterval   time.Duration
	WSMessagesPerMin int
	WSMessageBurst   int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// JWT
		JWTSecret:      getEnv("JWT_SECRET", "development-secret-change-in-production"),
		AllowAnonymous: getBoolEnv("ALLOW_ANONYMOUS", true),

		// Responder
		ResponderWebhookURL: getEnv("RESPONDER_WEBHOOK_URL", ""),
		ResponderAPIKey:     getEnv("RESPONDER_API_KEY", ""),
		ResponderTimeout:    getDurationEnv("RESPONDER_TIMEOUT", 10*time.Second),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),

		// Session store
		StoreBaseURL: getEnv("STORE_BASE_URL", "http://localhost:8000/api"),
		StoreToken:   getEnv("STORE_SERVICE_TOKEN", ""),
		StoreTimeout: getDurationEnv("STORE_TIMEOUT", 10*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// REST rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Websocket
		WSReadLimit:      int64(getIntEnv("WS_READ_LIMIT", 64*1024)),
		WSReadTimeout:    getDurationEnv("WS_READ_TIMEOUT", 60*time.Second),
		WSWriteTimeout:   getDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second),
		WSPingInterval:   getDurationEnv("WS_PING_INTERVAL", 30*time.Second),
		WSMessagesPerMin: getIntEnv("WS_MESSAGES_PER_MIN", 30),
		WSMessageBurst:   getIntEnv("WS_MESSAGE_BURST", 10),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
