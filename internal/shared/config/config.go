package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Encryption EncryptionConfig
	Aggregator AggregatorConfig
	Sync       SyncConfig
	Scheduler  SchedulerConfig
	Telemetry  TelemetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// EncryptionConfig configures the credential encryption at rest. Either a raw
// 32-byte key or a passphrase plus salt (scrypt-derived key) must be set.
type EncryptionConfig struct {
	Key        string
	Passphrase string
	Salt       string
}

type AggregatorConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

type SyncConfig struct {
	// StalenessThreshold is how old a connection's last success may get
	// before the health check forces a sync.
	StalenessThreshold time.Duration
	// RefreshLookahead is how far ahead of credential expiry the token sweep
	// refreshes.
	RefreshLookahead time.Duration
	// RunDeadline bounds a synchronous HTTP-triggered run before the handler
	// answers 202 and lets the run finish in the background.
	RunDeadline time.Duration
	// RunRetention is how long finished run records are kept.
	RunRetention time.Duration
}

type SchedulerConfig struct {
	Enabled              bool
	SweepInterval        time.Duration
	HealthCheckInterval  time.Duration
	TokenRefreshInterval time.Duration
	HousekeepingInterval time.Duration
	WorkerCount          int
	JobDelay             time.Duration
	QueueSize            int
	JobTimeout           time.Duration
	RunOnStartup         bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	aggregatorTimeout, err := getDurationEnv("AGGREGATOR_TIMEOUT", "60s")
	if err != nil {
		return nil, err
	}

	staleness, err := getDurationEnv("SYNC_STALENESS_THRESHOLD", "24h")
	if err != nil {
		return nil, err
	}
	refreshLookahead, err := getDurationEnv("SYNC_REFRESH_LOOKAHEAD", "1h")
	if err != nil {
		return nil, err
	}
	runDeadline, err := getDurationEnv("SYNC_RUN_DEADLINE", "25s")
	if err != nil {
		return nil, err
	}
	runRetention, err := getDurationEnv("SYNC_RUN_RETENTION", "720h")
	if err != nil {
		return nil, err
	}

	sweepInterval, err := getDurationEnv("SCHEDULER_SWEEP_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}
	healthInterval, err := getDurationEnv("SCHEDULER_HEALTH_INTERVAL", "30m")
	if err != nil {
		return nil, err
	}
	refreshInterval, err := getDurationEnv("SCHEDULER_REFRESH_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	housekeepingInterval, err := getDurationEnv("SCHEDULER_HOUSEKEEPING_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := getDurationEnv("SCHEDULER_JOB_DELAY", "1s")
	if err != nil {
		return nil, err
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerJobTimeout, err := getDurationEnv("SCHEDULER_JOB_TIMEOUT", "120s")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "firesync"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "firesync"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Encryption: EncryptionConfig{
			Key:        getEnv("ENCRYPTION_KEY", ""),
			Passphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
			Salt:       getEnv("ENCRYPTION_SALT", ""),
		},
		Aggregator: AggregatorConfig{
			BaseURL:      getEnv("AGGREGATOR_BASE_URL", ""),
			ClientID:     getEnv("AGGREGATOR_CLIENT_ID", ""),
			ClientSecret: getEnv("AGGREGATOR_CLIENT_SECRET", ""),
			Timeout:      aggregatorTimeout,
		},
		Sync: SyncConfig{
			StalenessThreshold: staleness,
			RefreshLookahead:   refreshLookahead,
			RunDeadline:        runDeadline,
			RunRetention:       runRetention,
		},
		Scheduler: SchedulerConfig{
			Enabled:              getBoolEnv("SCHEDULER_ENABLED", true),
			SweepInterval:        sweepInterval,
			HealthCheckInterval:  healthInterval,
			TokenRefreshInterval: refreshInterval,
			HousekeepingInterval: housekeepingInterval,
			WorkerCount:          schedulerWorkers,
			JobDelay:             schedulerJobDelay,
			QueueSize:            schedulerQueueSize,
			JobTimeout:           schedulerJobTimeout,
			RunOnStartup:         getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "firesync-api"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4318"),
		},
	}

	// Validate required fields
	if cfg.Encryption.Key == "" && cfg.Encryption.Passphrase == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY or ENCRYPTION_PASSPHRASE is required")
	}
	if cfg.Encryption.Key != "" && len(cfg.Encryption.Key) != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if cfg.Encryption.Passphrase != "" && cfg.Encryption.Salt == "" {
		return nil, fmt.Errorf("ENCRYPTION_SALT is required with ENCRYPTION_PASSPHRASE")
	}
	if cfg.Aggregator.BaseURL == "" {
		return nil, fmt.Errorf("AGGREGATOR_BASE_URL is required")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}

func getDurationEnv(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
