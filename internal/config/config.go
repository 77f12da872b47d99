package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Holds    HoldConfig

	OIDCIssuer    string
	MigrationsDir string
	AutoMigrate   bool
	LogDir        string
	LogLevel      string

	// Invalid lists the variables that were set but could not be parsed;
	// their defaults were used instead.
	Invalid []string
}

type ServerConfig struct {
	Port        string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topics  TopicConfig
	Enabled bool
}

type TopicConfig struct {
	SeatStatus      string
	PaymentOutcomes string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

type HoldConfig struct {
	TTL            time.Duration
	LedgerAttempts int
	LedgerBackoff  time.Duration
	SweepInterval  time.Duration
	HealOnRead     bool
	Currency       string
}

func Load() *Config {
	l := &loader{}

	cfg := &Config{
		Server: ServerConfig{
			Port:        l.getEnv("PORT", ":8084"),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     l.getEnv("REDIS_ADDR", "localhost:6379"),
			Password: l.getEnv("REDIS_PASSWORD", ""),
			DB:       l.getEnvInt("REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			DSN:          l.getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: l.getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: l.getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(l.getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(l.getEnv("KAFKA_ADDR", "localhost:9092")),
			GroupID: l.getEnv("KAFKA_GROUP_ID", "ms-seating"),
			Enabled: l.getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				SeatStatus:      l.getEnv("KAFKA_TOPIC_SEAT_STATUS", "ticketing.seats.status"),
				PaymentOutcomes: l.getEnv("KAFKA_TOPIC_PAYMENT_OUTCOMES", "ticketing.payments.outcome"),
			},
		},
		Holds: HoldConfig{
			TTL:            time.Duration(l.getEnvPositive("SEAT_HOLD_TTL_SECONDS", 600)) * time.Second,
			LedgerAttempts: l.getEnvPositive("LEDGER_WRITE_ATTEMPTS", 3),
			LedgerBackoff:  time.Duration(l.getEnvInt("LEDGER_RETRY_BACKOFF_MS", 100)) * time.Millisecond,
			SweepInterval:  time.Duration(l.getEnvInt("HOLD_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
			HealOnRead:     l.getEnvBool("HEAL_ON_READ", true),
			Currency:       l.getEnv("CURRENCY", "ILS"),
		},
		OIDCIssuer:    l.getEnv("OIDC_ISSUER", ""),
		MigrationsDir: l.getEnv("MIGRATIONS_DIR", "./migrations"),
		AutoMigrate:   l.getEnvBool("AUTO_MIGRATE", false),
		LogDir:        l.getEnv("LOG_DIR", "logs"),
		LogLevel:      l.getEnv("LOG_LEVEL", "INFO"),
	}
	cfg.Invalid = l.invalid
	return cfg
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_ADDR is required when KAFKA_ENABLED is true")
	}
	return nil
}

type loader struct {
	invalid []string
}

func (l *loader) getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (l *loader) getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		l.invalid = append(l.invalid, key)
	}
	return defaultValue
}

func (l *loader) getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return parsed
		}
		l.invalid = append(l.invalid, key)
	}
	return defaultValue
}

func (l *loader) getEnvPositive(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
		l.invalid = append(l.invalid, key)
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
