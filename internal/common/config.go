package common

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Store     StoreConfig
	Server    ServerConfig
	Cache     CacheConfig
	Events    EventsConfig
	Reconcile ReconcileConfig
}

// StoreConfig holds persistence-related configuration
type StoreConfig struct {
	Kind             string // memory | sqlite | postgres
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds transport-related configuration
type ServerConfig struct {
	HTTPAddr      string
	GRPCAddr      string // health/reflection listener; empty disables it
	BaseAPIPrefix string
}

// CacheConfig holds the optional redis read-through cache configuration
type CacheConfig struct {
	RedisAddr     string // empty disables the cache
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// EventsConfig holds the optional kafka state-change notifier configuration
type EventsConfig struct {
	KafkaAddr string // empty disables event publishing
	Topic     string
}

// ReconcileConfig holds reconciliation pipeline configuration
type ReconcileConfig struct {
	RuleFile        string // YAML rule set; empty means compiled-in defaults
	MasterKeyBase64 string // AES-256 key for connector credential decryption
	TenancyEnabled  bool
	WorkerPoolSize  int
	RemoteTimeout   time.Duration // http client timeout for remote status calls
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Kind:             getEnv("TASKBRIDGE_STORE", "memory"),
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "taskbridge.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
			GRPCAddr:      getEnv("GRPC_HEALTH_ADDR", ""),
			BaseAPIPrefix: getEnv("BASE_API_PREFIX", "/api/v1"),
		},
		Cache: CacheConfig{
			RedisAddr:     getEnv("REDIS_ADDR", ""),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvAsInt("REDIS_DB", 0),
			TTL:           getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		},
		Events: EventsConfig{
			KafkaAddr: getEnv("KAFKA_ADDR", ""),
			Topic:     getEnv("KAFKA_TOPIC", "taskbridge.task-state"),
		},
		Reconcile: ReconcileConfig{
			RuleFile:        getEnv("RECONCILE_RULE_FILE", ""),
			MasterKeyBase64: getEnv("CONNECTOR_MASTER_KEY", ""),
			TenancyEnabled:  getEnvAsBool("TENANCY_ENABLED", false),
			WorkerPoolSize:  getEnvAsInt("RECONCILE_POOL_SIZE", 64),
			RemoteTimeout:   getEnvAsDuration("REMOTE_TIMEOUT", 30*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes":
			return true
		case "0", "false", "no":
			return false
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			return NewAppError(ErrCodeConfiguration, "DB_URL is required when TASKBRIDGE_STORE=postgres", nil)
		}
	default:
		return NewAppError(ErrCodeConfiguration, "TASKBRIDGE_STORE must be one of memory, sqlite, postgres", nil)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError(ErrCodeConfiguration, "HTTP_ADDR is required", nil)
	}
	if c.Reconcile.WorkerPoolSize <= 0 {
		return NewAppError(ErrCodeConfiguration, "RECONCILE_POOL_SIZE must be positive", nil)
	}
	return nil
}
