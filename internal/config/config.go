// Package config provides environment configuration for the API server.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Env string

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSAllowedOrigins []string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Work queue
	QueueAckWait        time.Duration
	QueueMaxDeliver     int
	QueueBackoffInitial time.Duration
	QueueBackoffMax     time.Duration
	QueueMaxAckPending  int
	QueueEnqueueTimeout time.Duration

	// Workers
	WorkerEnabled     bool
	WorkerConcurrency int
	WorkerQueueSize   int
	JobTimeout        time.Duration

	// Database
	DBDriver string
	DBDSN    string

	// Provider
	MetaVerifyToken string
	MetaGraphURL    string
	MetaAPIVersion  string
	ProviderTimeout time.Duration
	PendingToken    string

	// Credentials
	CredentialKey string

	// Bot
	BotReplyDelay time.Duration

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration
	WebhookRateLimit  int

	// Realtime relay
	RealtimeRelay  string
	ValkeyAddr     string
	ValkeyPassword string
	ValkeyDB       int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool

	// Tenant notifications
	NotifyTimeout time.Duration
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment values win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Env: getEnv("ENV", "production"),

		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Queue
		QueueAckWait:        getDurationEnv("QUEUE_ACK_WAIT", 30*time.Second),
		QueueMaxDeliver:     getIntEnv("QUEUE_MAX_DELIVER", 5),
		QueueBackoffInitial: getDurationEnv("QUEUE_BACKOFF_INITIAL", time.Second),
		QueueBackoffMax:     getDurationEnv("QUEUE_BACKOFF_MAX", 30*time.Second),
		QueueMaxAckPending:  getIntEnv("QUEUE_MAX_ACK_PENDING", 256),
		QueueEnqueueTimeout: getDurationEnv("QUEUE_ENQUEUE_TIMEOUT", 2*time.Second),

		// Workers
		WorkerEnabled:     getBoolEnv("WORKER_ENABLED", true),
		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 8),
		WorkerQueueSize:   getIntEnv("WORKER_QUEUE_SIZE", 256),
		JobTimeout:        getDurationEnv("JOB_TIMEOUT", 20*time.Second),

		// Database
		DBDriver: getEnv("DB_DRIVER", "sqlite"),
		DBDSN:    getEnv("DB_DSN", "zapcrm.db"),

		// Provider
		MetaVerifyToken: getEnv("META_VERIFY_TOKEN", ""),
		MetaGraphURL:    getEnv("META_GRAPH_URL", "https://graph.facebook.com"),
		MetaAPIVersion:  getEnv("META_API_VERSION", "v19.0"),
		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT", 10*time.Second),
		PendingToken:    getEnv("PENDING_TOKEN", "PENDING"),

		// Credentials
		CredentialKey: getEnv("CREDENTIAL_KEY", ""),

		// Bot
		BotReplyDelay: getDurationEnv("BOT_REPLY_DELAY", time.Second),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		WebhookRateLimit:  getIntEnv("WEBHOOK_RATE_LIMIT", 600),

		// Realtime
		RealtimeRelay:  strings.ToLower(getEnv("REALTIME_RELAY", "none")),
		ValkeyAddr:     getEnv("VALKEY_ADDR", "localhost:6379"),
		ValkeyPassword: getEnv("VALKEY_PASSWORD", ""),
		ValkeyDB:       getIntEnv("VALKEY_DB", 0),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),

		NotifyTimeout: getDurationEnv("NOTIFY_TIMEOUT", 5*time.Second),
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.CredentialKey == "" && c.Env != "development" {
		return errors.New("CREDENTIAL_KEY is required")
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return errors.New("DB_DRIVER must be sqlite or postgres")
	}
	if c.QueueMaxDeliver < 1 {
		return errors.New("QUEUE_MAX_DELIVER must be at least 1")
	}
	// Every pending delivery may hash to the same channel shard.
	if c.WorkerQueueSize < c.QueueMaxAckPending {
		return errors.New("WORKER_QUEUE_SIZE must be at least QUEUE_MAX_ACK_PENDING")
	}
	if c.JobTimeout >= c.QueueAckWait {
		return errors.New("JOB_TIMEOUT must be shorter than QUEUE_ACK_WAIT")
	}
	switch c.RealtimeRelay {
	case "none", "nats", "valkey":
	default:
		return errors.New("REALTIME_RELAY must be none, nats or valkey")
	}
	return nil
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

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
