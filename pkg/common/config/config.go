package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers  []string
	KafkaRunTopic string

	// External data source
	SourceBaseURL   string
	SourceToken     string
	SourcePageSize  int
	SourceBatchSize int

	// Spreadsheet destination
	DestBaseURL string
	DestToken   string

	// Capability gate
	GateBaseURL string

	// Run orchestration
	RunTimeout     time.Duration
	StaleAfter     time.Duration
	RetentionDays  int
	WriterAttempts int
	WriterBackoff  time.Duration
	WriterBudget   time.Duration

	// Enrichment cache
	DetailCacheTTL time.Duration

	// Field catalog + formatting defaults
	CatalogPath      string
	DefaultTaxRate   float64
	DecimalSeparator string
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "rowbridge"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "rowbridge123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rowbridge"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:  getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaRunTopic: getEnv("KAFKA_RUN_TOPIC", "export.runs"),

		SourceBaseURL:   getEnv("SOURCE_BASE_URL", "http://localhost:8091"),
		SourceToken:     getEnv("SOURCE_TOKEN", ""),
		SourcePageSize:  getIntEnv("SOURCE_PAGE_SIZE", 100),
		SourceBatchSize: getIntEnv("SOURCE_BATCH_SIZE", 1000),

		DestBaseURL: getEnv("DEST_BASE_URL", "http://localhost:8092"),
		DestToken:   getEnv("DEST_TOKEN", ""),

		GateBaseURL: getEnv("GATE_BASE_URL", "http://localhost:8093"),

		RunTimeout:     getDuration("RUN_TIMEOUT", 10*time.Minute),
		StaleAfter:     getDuration("RUN_STALE_AFTER", 15*time.Minute),
		RetentionDays:  getIntEnv("RETENTION_DAYS", 90),
		WriterAttempts: getIntEnv("WRITER_MAX_ATTEMPTS", 3),
		WriterBackoff:  getDuration("WRITER_BACKOFF_BASE", time.Second),
		WriterBudget:   getDuration("WRITER_RETRY_BUDGET", 30*time.Second),

		DetailCacheTTL: getDuration("DETAIL_CACHE_TTL", 10*time.Minute),

		CatalogPath:      getEnv("FIELD_CATALOG_PATH", ""),
		DefaultTaxRate:   getFloatEnv("DEFAULT_TAX_RATE", 23),
		DecimalSeparator: getEnv("DECIMAL_SEPARATOR", ","),
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
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
