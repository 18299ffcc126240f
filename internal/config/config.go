package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	API    APIConfig
	Feeds  FeedsConfig
	Alerts AlertsConfig
	Kafka  KafkaConfig
	Redis  RedisConfig
	Log    LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// APIConfig describes the trading bot API the dashboard polls
type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables throttling
	RateBurst int
}

// FeedsConfig holds poll intervals for the two feed classes
type FeedsConfig struct {
	FastInterval   time.Duration // positions, closed positions, history
	SlowInterval   time.Duration // equity, decisions, status, strategy, performance, metrics
	DecisionsLimit int
}

// AlertsConfig holds transient alert settings
type AlertsConfig struct {
	TTL          time.Duration
	PnLThreshold decimal.Decimal
}

// KafkaConfig holds Kafka/Redpanda configuration
type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	EventsTopic   string
	ConsumerGroup string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string
	OutputFile string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8082"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		API: APIConfig{
			BaseURL:   strings.TrimRight(getEnv("API_URL", "http://localhost:8000"), "/"),
			Timeout:   getDuration("API_TIMEOUT", 30*time.Second),
			RateLimit: getFloat("API_RATE_LIMIT", 20),
			RateBurst: getInt("API_RATE_BURST", 10),
		},
		Feeds: FeedsConfig{
			FastInterval:   getDuration("FEED_FAST_INTERVAL", 10*time.Second),
			SlowInterval:   getDuration("FEED_SLOW_INTERVAL", 15*time.Second),
			DecisionsLimit: getInt("FEED_DECISIONS_LIMIT", 20),
		},
		Alerts: AlertsConfig{
			TTL:          getDuration("ALERT_TTL", 4*time.Second),
			PnLThreshold: getDecimal("ALERT_PNL_THRESHOLD", decimal.NewFromInt(100)),
		},
		Kafka: KafkaConfig{
			Enabled:       getBool("KAFKA_ENABLED", false),
			Brokers:       parseBrokers(getEnv("KAFKA_BROKERS", "localhost:19092")),
			EventsTopic:   getEnv("KAFKA_EVENTS_TOPIC", "trading.events"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "trading-dashboard"),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			OutputFile: getEnv("LOG_FILE", ""),
			MaxSize:    getInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getInt("LOG_MAX_BACKUPS", 3),
			MaxAge:     getInt("LOG_MAX_AGE_DAYS", 7),
		},
	}
}

// Address returns the HTTP listen address in host:port format
func (s *ServerConfig) Address() string {
	return s.Host + ":" + s.Port
}

// Address returns the Redis address in host:port format
func (r *RedisConfig) Address() string {
	return r.Host + ":" + r.Port
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// getDuration accepts Go duration strings ("15s", "1m")
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// parseBrokers splits a comma-separated broker list
func parseBrokers(brokers string) []string {
	parts := strings.Split(brokers, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
