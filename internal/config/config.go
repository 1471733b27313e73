package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName             = "WalletLedger"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultShutdownDelay       = 10 * time.Second
	defaultDBTimeout           = 5 * time.Second
	defaultBalanceCacheTTL     = 5 * time.Minute
	defaultConsumerGroup       = "wallet-service-group"
	defaultTransactionsTopic   = "wallet-transactions"
	defaultBalanceUpdatesTopic = "wallet-balance-updates"
	defaultSettlementWorkers   = 4
	defaultProjectionWorkers   = 2
	defaultConsumerAttempts    = 3
	defaultConsumerBackoff     = 200 * time.Millisecond
	defaultOutboxPollInterval  = 500 * time.Millisecond
	defaultOutboxBatchSize     = 100

	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName   string
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string
	AutoMigrate bool
	DBTimeout   time.Duration

	KafkaBrokers        []string
	ConsumerGroup       string
	TransactionsTopic   string
	BalanceUpdatesTopic string
	SettlementWorkers   int
	ProjectionWorkers   int
	ConsumerMaxAttempts int
	ConsumerBackoff     time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int

	ShutdownPeriod  time.Duration
	IdempotencyTTL  time.Duration
	BalanceCacheTTL time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Default().Warn("load .env file", "error", err)
	}

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		KafkaBrokers:        getEnvSlice("KAFKA_BROKERS", nil),
		ConsumerGroup:       getEnv("KAFKA_CONSUMER_GROUP", defaultConsumerGroup),
		TransactionsTopic:   getEnv("TRANSACTIONS_TOPIC", defaultTransactionsTopic),
		BalanceUpdatesTopic: getEnv("BALANCE_UPDATES_TOPIC", defaultBalanceUpdatesTopic),
		ShutdownPeriod:      defaultShutdownDelay,
	}

	var err error
	if cfg.AutoMigrate, err = getBool("AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.SettlementWorkers, err = getInt("SETTLEMENT_WORKERS", defaultSettlementWorkers); err != nil {
		return Config{}, err
	}
	if cfg.ProjectionWorkers, err = getInt("PROJECTION_WORKERS", defaultProjectionWorkers); err != nil {
		return Config{}, err
	}
	if cfg.ConsumerMaxAttempts, err = getInt("CONSUMER_MAX_ATTEMPTS", defaultConsumerAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.DBTimeout, err = getDuration("DB_TIMEOUT", defaultDBTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ConsumerBackoff, err = getDuration("CONSUMER_RETRY_BACKOFF", defaultConsumerBackoff); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = getDuration("OUTBOX_POLL_INTERVAL", defaultOutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.BalanceCacheTTL, err = getDuration("BALANCE_CACHE_TTL", defaultBalanceCacheTTL); err != nil {
		return Config{}, err
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	// Idempotency markers never expire unless a TTL is configured.
	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL must be set")
	}
	if cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("REDIS_URL must be set")
	}
	if len(cfg.KafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS must be set")
	}
	if cfg.SettlementWorkers < 1 || cfg.ProjectionWorkers < 1 {
		return Config{}, fmt.Errorf("worker counts must be positive")
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
