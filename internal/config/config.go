package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Flow     FlowConfig
	Plugins  PluginsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines service token parameters.
type AuthConfig struct {
	JWTSecret       string
	Issuer          string
	TokenTTLMinutes int
}

// Lock and queue backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// FlowConfig tunes background flow execution.
type FlowConfig struct {
	ProviderTimeoutSeconds int
	LockBackend            string
	LockTTLSeconds         int
	WorkerConcurrency      int
	QueueBackend           string
	QueueStream            string
	QueueGroup             string
	QueueConsumer          string
	QueueDLQStream         string
	QueueMaxAttempts       int
}

// PluginsConfig points at the static plugin activation file.
type PluginsConfig struct {
	File string
}

// Load reads configuration from environment variables, applying defaults where possible.
// envFiles are loaded before the environment is read; a missing .env is not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	hostname, _ := os.Hostname()

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "case-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:          getEnv("AUTH_JWT_ISSUER", ""),
			TokenTTLMinutes: getEnvAsInt("AUTH_TOKEN_TTL_MINUTES", 60),
		},
		Flow: FlowConfig{
			ProviderTimeoutSeconds: getEnvAsInt("FLOW_PROVIDER_TIMEOUT_SECONDS", 30),
			LockBackend:            getEnv("FLOW_LOCK_BACKEND", BackendMemory),
			LockTTLSeconds:         getEnvAsInt("FLOW_LOCK_TTL_SECONDS", 120),
			WorkerConcurrency:      getEnvAsInt("FLOW_WORKER_CONCURRENCY", 8),
			QueueBackend:           getEnv("FLOW_QUEUE_BACKEND", BackendMemory),
			QueueStream:            getEnv("FLOW_QUEUE_STREAM", "case_flows"),
			QueueGroup:             getEnv("FLOW_QUEUE_GROUP", "case_flow_workers"),
			QueueConsumer:          getEnv("FLOW_QUEUE_CONSUMER", hostname),
			QueueDLQStream:         getEnv("FLOW_QUEUE_DLQ_STREAM", "case_flows_dlq"),
			QueueMaxAttempts:       getEnvAsInt("FLOW_QUEUE_MAX_ATTEMPTS", 3),
		},
		Plugins: PluginsConfig{
			File: getEnv("PLUGINS_FILE", ""),
		},
	}

	if err := cfg.Flow.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ProviderTimeout bounds every call against a capability provider.
func (f FlowConfig) ProviderTimeout() time.Duration {
	if f.ProviderTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.ProviderTimeoutSeconds) * time.Second
}

// LockTTL returns the expiry applied to distributed case locks.
func (f FlowConfig) LockTTL() time.Duration {
	if f.LockTTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(f.LockTTLSeconds) * time.Second
}

func (f FlowConfig) validate() error {
	for name, backend := range map[string]string{"FLOW_LOCK_BACKEND": f.LockBackend, "FLOW_QUEUE_BACKEND": f.QueueBackend} {
		if backend != BackendMemory && backend != BackendRedis {
			return fmt.Errorf("invalid %s %q", name, backend)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
