package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Database struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// URL is the pgx connection string.
func (d Database) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", d.User, d.Password, d.Host, d.Port, d.Name)
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type S3 struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// Enabled reports whether invoice archiving has a bucket to write to.
func (s S3) Enabled() bool { return s.Bucket != "" }

type Outbox struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

type Config struct {
	Port              string
	DB                Database
	NatsURL           string
	Redis             Redis
	TableServiceURL   string
	OrderServiceURL   string
	ClientTimeout     time.Duration
	DefaultHourlyRate int64
	Outbox            Outbox
	SagaRetryInterval time.Duration
	S3                S3

	TableSyncRetries    int
	TableSyncRetryDelay time.Duration
	// MetricsPort serves /metrics for the table sync worker.
	MetricsPort string
}

// Load reads .env.dev when present and then the process environment.
func Load() *Config {
	if err := godotenv.Load(".env.dev"); err != nil {
		slog.Info("No .env.dev file found, reading from environment variables")
	}

	return &Config{
		Port: getEnv("APP_PORT", "8002"),
		DB: Database{
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			Name:     getEnv("DB_NAME", "sessions"),
		},
		NatsURL: getEnv("NATS_URL", "nats://localhost:4222"),
		Redis: Redis{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		TableServiceURL:   getEnv("TABLE_SERVICE_URL", "http://localhost:4001"),
		OrderServiceURL:   getEnv("ORDER_SERVICE_URL", "http://localhost:4003"),
		ClientTimeout:     getDuration("CLIENT_TIMEOUT", 5*time.Second),
		DefaultHourlyRate: int64(getInt("DEFAULT_HOURLY_RATE", 50000)),
		Outbox: Outbox{
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", time.Second),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 100),
			MaxAttempts:  getInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
		SagaRetryInterval: getDuration("SAGA_RETRY_INTERVAL", 30*time.Second),
		S3: S3{
			Endpoint:     os.Getenv("S3_ENDPOINT"),
			Region:       getEnv("AWS_REGION", "us-east-1"),
			Bucket:       os.Getenv("S3_BUCKET_NAME"),
			AccessKey:    os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey:    os.Getenv("AWS_SECRET_ACCESS_KEY"),
			UsePathStyle: os.Getenv("S3_USE_PATH_STYLE") == "true",
		},
		TableSyncRetries:    getInt("TABLE_SYNC_MAX_RETRIES", 3),
		TableSyncRetryDelay: getDuration("TABLE_SYNC_RETRY_DELAY", 2*time.Second),
		MetricsPort:         getEnv("METRICS_PORT", "9102"),
	}
}

type Gateway struct {
	Port                string
	TableServiceURL     string
	SessionServiceURL   string
	OrderServiceURL     string
	UserServiceURL      string
	PaymentServiceURL   string
	RateLimitMax        int
	RateLimitExpiration time.Duration
	UpstreamTimeout     time.Duration
}

func LoadGateway() *Gateway {
	if err := godotenv.Load(".env.dev"); err != nil {
		slog.Info("No .env.dev file found, reading from environment variables")
	}

	sessionURL := getEnv("SESSION_SERVICE_URL", "http://localhost:8002")
	return &Gateway{
		Port:              getEnv("APP_PORT", "8000"),
		TableServiceURL:   getEnv("TABLE_SERVICE_URL", "http://localhost:4001"),
		SessionServiceURL: sessionURL,
		OrderServiceURL:   getEnv("ORDER_SERVICE_URL", "http://localhost:4003"),
		UserServiceURL:    getEnv("USER_SERVICE_URL", "http://localhost:4004"),
		// Payments are served by the session service unless split out.
		PaymentServiceURL:   getEnv("PAYMENT_SERVICE_URL", sessionURL),
		RateLimitMax:        getInt("RATE_LIMIT_MAX", 100),
		RateLimitExpiration: time.Duration(getInt("RATE_LIMIT_EXPIRATION", 60)) * time.Second,
		UpstreamTimeout:     getDuration("UPSTREAM_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v == 0 {
		return fallback
	}
	return v
}

// getDuration accepts Go duration strings ("500ms", "2s").
func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
