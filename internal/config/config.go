package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/muaviaUsmani/jobqueue/internal/logger"
)

// LockConfig holds distributed-lock defaults.
type LockConfig struct {
	Duration      time.Duration
	Retries       int
	RetryDelay    time.Duration
	AutoExtend    bool
	ExtendInterval time.Duration
}

// RateLimitConfig holds sliding-window rate-limiter defaults.
type RateLimitConfig struct {
	Enabled  bool
	Max      int
	Duration time.Duration
}

// StalledConfig holds stalled-job checker tuning.
type StalledConfig struct {
	CheckInterval      time.Duration
	StalledThreshold   time.Duration
	MaxStalledRetries  int
}

// CleanupConfig holds completed/failed trimming policy.
type CleanupConfig struct {
	Interval           time.Duration
	CompletedLifetime  time.Duration
	FailedLifetime     time.Duration
	CompletedCap       int
	FailedCap          int
}

// LeaderConfig holds leader-election timing.
type LeaderConfig struct {
	Enabled           bool
	InstanceID        string
	HeartbeatInterval time.Duration
	LeaderTimeout     time.Duration
}

// CoordinationConfig holds work-coordinator timing.
type CoordinationConfig struct {
	Enabled             bool
	PollInterval        time.Duration
	MaxWorkersPerInstance int
	JobsPerWorker       int
}

// Config holds all configuration for the job queue application.
type Config struct {
	// RedisURL is the connection URL for Redis.
	RedisURL string
	// Prefix namespaces every Redis key this module writes. Defaults to
	// "queue".
	Prefix string
	// APIPort is retained for the worker process's health/debug listener.
	APIPort string
	// WorkerConcurrency is the number of concurrent jobs a worker can
	// process.
	WorkerConcurrency int
	// JobTimeout is the maximum time a job can run.
	JobTimeout time.Duration
	// MaxRetries is the default maximum number of retry attempts for
	// failed jobs.
	MaxRetries int
	// WorkerRoutingKeys are the routing keys this worker handles
	// (comma-separated). Examples: "default", "gpu", "gpu,default".
	// Defaults to ["default"] if not specified.
	WorkerRoutingKeys []string
	// CronSchedulerEnabled enables the periodic cron scheduler.
	CronSchedulerEnabled bool
	// CronSchedulerInterval is the interval at which the cron scheduler
	// checks for due schedules.
	CronSchedulerInterval time.Duration
	// ResultBackendEnabled enables storing job results.
	ResultBackendEnabled bool
	// ResultBackendTTLSuccess is the TTL for successful job results.
	ResultBackendTTLSuccess time.Duration
	// ResultBackendTTLFailure is the TTL for failed job results.
	ResultBackendTTLFailure time.Duration

	Lock         LockConfig
	RateLimit    RateLimitConfig
	Stalled      StalledConfig
	Cleanup      CleanupConfig
	Leader       LeaderConfig
	Coordination CoordinationConfig

	// Logging configuration.
	Logging *logger.Config
}

// LoadConfig loads configuration from environment variables with sensible
// defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		Prefix:                  getEnv("QUEUE_PREFIX", "queue"),
		APIPort:                 getEnv("API_PORT", "8080"),
		WorkerConcurrency:       getEnvAsInt("WORKER_CONCURRENCY", 5),
		JobTimeout:              getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
		MaxRetries:              getEnvAsInt("MAX_RETRIES", 3),
		WorkerRoutingKeys:       getEnvAsStringSlice("WORKER_ROUTING_KEYS", []string{"default"}),
		CronSchedulerEnabled:    getEnvAsBool("CRON_SCHEDULER_ENABLED", true),
		CronSchedulerInterval:   getEnvAsDuration("CRON_SCHEDULER_INTERVAL", 1*time.Second),
		ResultBackendEnabled:    getEnvAsBool("RESULT_BACKEND_ENABLED", true),
		ResultBackendTTLSuccess: getEnvAsDuration("RESULT_BACKEND_TTL_SUCCESS", 1*time.Hour),
		ResultBackendTTLFailure: getEnvAsDuration("RESULT_BACKEND_TTL_FAILURE", 24*time.Hour),

		Lock: LockConfig{
			Duration:       getEnvAsDuration("LOCK_DURATION", 30*time.Second),
			Retries:        getEnvAsInt("LOCK_RETRIES", 3),
			RetryDelay:     getEnvAsDuration("LOCK_RETRY_DELAY", 200*time.Millisecond),
			AutoExtend:     getEnvAsBool("LOCK_AUTO_EXTEND", true),
			ExtendInterval: getEnvAsDuration("LOCK_EXTEND_INTERVAL", 20*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:  getEnvAsBool("RATE_LIMIT_ENABLED", false),
			Max:      getEnvAsInt("RATE_LIMIT_MAX", 100),
			Duration: getEnvAsDuration("RATE_LIMIT_DURATION", 1*time.Minute),
		},
		Stalled: StalledConfig{
			CheckInterval:     getEnvAsDuration("STALLED_CHECK_INTERVAL", 30*time.Second),
			StalledThreshold:  getEnvAsDuration("STALLED_THRESHOLD", 10*time.Second),
			MaxStalledRetries: getEnvAsInt("STALLED_MAX_RETRIES", 3),
		},
		Cleanup: CleanupConfig{
			Interval:          getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			CompletedLifetime: getEnvAsDuration("CLEANUP_COMPLETED_LIFETIME", 24*time.Hour),
			FailedLifetime:    getEnvAsDuration("CLEANUP_FAILED_LIFETIME", 7*24*time.Hour),
			CompletedCap:      getEnvAsInt("CLEANUP_COMPLETED_CAP", 1000),
			FailedCap:         getEnvAsInt("CLEANUP_FAILED_CAP", 1000),
		},
		Leader: LeaderConfig{
			Enabled:           getEnvAsBool("LEADER_ELECTION_ENABLED", false),
			InstanceID:        getEnv("INSTANCE_ID", ""),
			HeartbeatInterval: getEnvAsDuration("LEADER_HEARTBEAT_INTERVAL", 5*time.Second),
			LeaderTimeout:     getEnvAsDuration("LEADER_TIMEOUT", 15*time.Second),
		},
		Coordination: CoordinationConfig{
			Enabled:               getEnvAsBool("WORK_COORDINATION_ENABLED", false),
			PollInterval:          getEnvAsDuration("WORK_COORDINATION_POLL_INTERVAL", 5*time.Second),
			MaxWorkersPerInstance: getEnvAsInt("MAX_WORKERS_PER_INSTANCE", 10),
			JobsPerWorker:         getEnvAsInt("JOBS_PER_WORKER", 1),
		},

		Logging: loadLoggingConfig(),
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL cannot be empty")
	}
	if cfg.Prefix == "" {
		return nil, fmt.Errorf("QUEUE_PREFIX cannot be empty")
	}
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("API_PORT cannot be empty")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MAX_RETRIES cannot be negative")
	}
	if len(cfg.WorkerRoutingKeys) == 0 {
		return nil, fmt.Errorf("WORKER_ROUTING_KEYS must contain at least one routing key")
	}
	if cfg.Leader.Enabled && cfg.Leader.HeartbeatInterval >= cfg.Leader.LeaderTimeout {
		return nil, fmt.Errorf("LEADER_HEARTBEAT_INTERVAL must be less than LEADER_TIMEOUT")
	}

	// Routing key format validation is done in the job package to avoid
	// circular imports; the worker validates its configured keys at
	// startup.

	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/jobqueue/jobqueue.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	// Tier 3: Elasticsearch
	cfg.Elasticsearch.Enabled = getEnvAsBool("LOG_ES_ENABLED", false)
	cfg.Elasticsearch.Mode = getEnv("LOG_ES_MODE", "self-managed")

	// Self-managed mode
	cfg.Elasticsearch.Addresses = getEnvAsStringSlice("LOG_ES_ADDRESSES", []string{"http://localhost:9200"})
	cfg.Elasticsearch.Username = getEnv("LOG_ES_USERNAME", "")
	cfg.Elasticsearch.Password = getEnv("LOG_ES_PASSWORD", "")

	// Cloud mode
	cfg.Elasticsearch.CloudID = getEnv("LOG_ES_CLOUD_ID", "")
	cfg.Elasticsearch.APIKey = getEnv("LOG_ES_API_KEY", "")

	// Common ES settings
	cfg.Elasticsearch.IndexPrefix = getEnv("LOG_ES_INDEX_PREFIX", "jobqueue-logs")
	cfg.Elasticsearch.BulkSize = getEnvAsInt("LOG_ES_BULK_SIZE", 100)
	cfg.Elasticsearch.FlushInterval = getEnvAsDuration("LOG_ES_FLUSH_INTERVAL", 5*time.Second)
	cfg.Elasticsearch.Workers = getEnvAsInt("LOG_ES_WORKERS", 2)
	cfg.Elasticsearch.MaxRetries = getEnvAsInt("LOG_ES_MAX_RETRIES", 3)
	cfg.Elasticsearch.RetryBackoff = getEnvAsDuration("LOG_ES_RETRY_BACKOFF", 1*time.Second)
	cfg.Elasticsearch.CircuitBreaker = getEnvAsBool("LOG_ES_CIRCUIT_BREAKER", true)
	cfg.Elasticsearch.FailureThreshold = getEnvAsInt("LOG_ES_FAILURE_THRESHOLD", 5)
	cfg.Elasticsearch.ResetTimeout = getEnvAsDuration("LOG_ES_RESET_TIMEOUT", 30*time.Second)

	return cfg
}

