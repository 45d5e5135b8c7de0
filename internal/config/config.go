package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	Logger     LoggerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Dynamo     DynamoConfig
	JWT        JWTConfig
	Pricing    PricingConfig
	Order      OrderConfig
	Payment    PaymentConfig
	EventStore string
}

type ServerConfig struct {
	AppEnv          string
	Port            string
	AllowedOrigins  []string
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Development       bool
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Jitter   time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type DynamoConfig struct {
	EventsTable    string
	SnapshotsTable string
}

type JWTConfig struct {
	SecretKey   string
	Issuer      string
	TokenExpiry time.Duration
}

type PricingConfig struct {
	FreeShippingThreshold decimal.Decimal
	ShippingFee           decimal.Decimal
	PlatformFee           decimal.Decimal
}

type OrderConfig struct {
	ReturnWindow time.Duration
}

type PaymentConfig struct {
	ApprovalRate     int
	FailureThreshold int
	BreakerTimeout   time.Duration
	CallTimeout      time.Duration
}

const (
	EventStoreMemory   = "memory"
	EventStorePostgres = "postgres"
	EventStoreDynamo   = "dynamo"
)

// Load reads .env when present and then the process environment
func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := LoadEnv()
	return cfg, cfg.Validate()
}

func LoadEnv() *Config {
	env := getEnv("APP_ENV", "development")
	return &Config{
		Server: ServerConfig{
			AppEnv:          env,
			Port:            getEnv("PORT", "8080"),
			AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logger: LoggerConfig{
			Development:       env == "development",
			Level:             getEnv("LOGGER_LEVEL", "info"),
			Encoding:          getEnv("LOGGER_ENCODING", "json"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
			Migrate:         getEnvBool("POSTGRES_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			TTL:      getEnvDuration("CART_CACHE_TTL", 15*time.Minute),
			Jitter:   getEnvDuration("CART_CACHE_JITTER", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "marketplace-events"),
			GroupID: getEnv("KAFKA_GROUP_ID", "order-projector"),
		},
		Dynamo: DynamoConfig{
			EventsTable:    getEnv("DYNAMO_EVENTS_TABLE", "marketplace-events"),
			SnapshotsTable: getEnv("DYNAMO_SNAPSHOTS_TABLE", "marketplace-snapshots"),
		},
		JWT: JWTConfig{
			SecretKey:   getEnv("JWT_SECRET", ""),
			Issuer:      getEnv("JWT_ISSUER", ""),
			TokenExpiry: getEnvDuration("JWT_TOKEN_EXPIRY", 15*time.Minute),
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: getEnvDecimal("PRICING_FREE_SHIPPING_THRESHOLD", decimal.NewFromInt(5000)),
			ShippingFee:           getEnvDecimal("PRICING_SHIPPING_FEE", decimal.NewFromInt(100)),
			PlatformFee:           getEnvDecimal("PRICING_PLATFORM_FEE", decimal.NewFromInt(10)),
		},
		Order: OrderConfig{
			ReturnWindow: getEnvDuration("ORDER_RETURN_WINDOW", 7*24*time.Hour),
		},
		Payment: PaymentConfig{
			ApprovalRate:     getEnvInt("PAYMENT_APPROVAL_RATE", 100),
			FailureThreshold: getEnvInt("PAYMENT_BREAKER_FAILURES", 5),
			BreakerTimeout:   getEnvDuration("PAYMENT_BREAKER_TIMEOUT", 30*time.Second),
			CallTimeout:      getEnvDuration("PAYMENT_CALL_TIMEOUT", 5*time.Second),
		},
		EventStore: getEnv("EVENT_STORE", EventStoreMemory),
	}
}

// Validate rejects combinations the services cannot start with
func (c *Config) Validate() error {
	switch c.EventStore {
	case EventStoreMemory, EventStoreDynamo:
	case EventStorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when EVENT_STORE=%s", EventStorePostgres)
		}
	default:
		return fmt.Errorf("unknown EVENT_STORE %q", c.EventStore)
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Pricing.ShippingFee.IsNegative() || c.Pricing.PlatformFee.IsNegative() || c.Pricing.FreeShippingThreshold.IsNegative() {
		return fmt.Errorf("pricing amounts must not be negative")
	}
	if c.Order.ReturnWindow <= 0 {
		return fmt.Errorf("ORDER_RETURN_WINDOW must be positive")
	}
	if c.Payment.ApprovalRate < 0 || c.Payment.ApprovalRate > 100 {
		return fmt.Errorf("PAYMENT_APPROVAL_RATE must be between 0 and 100")
	}
	// credentialed CORS responses must name their origins
	for _, origin := range c.Server.AllowedOrigins {
		if strings.Contains(origin, "*") {
			return fmt.Errorf("ALLOWED_ORIGINS must list explicit origins, got %q", origin)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return fallback
}
