package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            string
	DatabaseURL     string
	DatabaseMigrate bool
	SeedFile        string

	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisChannelPrefix string

	LogLevel  string
	LogFormat string

	DayLocation *time.Location

	NotifyQueueGroup  bool
	NotifyWorkers     int
	NotifyBuffer      int
	NotifyTimeout     time.Duration
	WebhookURL        string
	WebhookToken      string
	WebhookAttempts   int
	WebhookRetryDelay time.Duration

	NoShowGrace     time.Duration
	NoShowInterval  time.Duration
	NoShowBatchSize int

	RateLimitPerMinute     int
	RateLimitBurst         int
	UserRateLimitPerMinute int
	UserRateLimitBurst     int
	RequestTimeout         time.Duration
}

// Load reads the environment, after merging a .env file when one exists.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	location := time.UTC
	if name := os.Getenv("DAY_LOCATION"); name != "" {
		loaded, err := time.LoadLocation(name)
		if err != nil {
			return Config{}, fmt.Errorf("DAY_LOCATION: %w", err)
		}
		location = loaded
	}

	return Config{
		Port:            port,
		DatabaseURL:     os.Getenv("DB_DSN"),
		DatabaseMigrate: readBool("DB_MIGRATE", true),
		SeedFile:        os.Getenv("SEED_FILE"),

		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            readInt("REDIS_DB", 0),
		RedisChannelPrefix: readString("REDIS_CHANNEL_PREFIX", "qms:group:"),

		LogLevel:  readString("LOG_LEVEL", "info"),
		LogFormat: readString("LOG_FORMAT", "json"),

		DayLocation: location,

		NotifyQueueGroup:  readBool("NOTIFY_QUEUE_GROUP", true),
		NotifyWorkers:     readInt("NOTIFY_WORKERS", 4),
		NotifyBuffer:      readInt("NOTIFY_BUFFER", 256),
		NotifyTimeout:     readDurationSeconds("NOTIFY_TIMEOUT_SECONDS", 5),
		WebhookURL:        os.Getenv("NOTIFY_WEBHOOK_URL"),
		WebhookToken:      os.Getenv("NOTIFY_WEBHOOK_TOKEN"),
		WebhookAttempts:   readInt("NOTIFY_WEBHOOK_ATTEMPTS", 1),
		WebhookRetryDelay: time.Duration(readInt("NOTIFY_WEBHOOK_RETRY_DELAY_MS", 200)) * time.Millisecond,

		NoShowGrace:     readDurationSeconds("NO_SHOW_GRACE_SECONDS", 0),
		NoShowInterval:  readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", 30),
		NoShowBatchSize: readInt("NO_SHOW_BATCH_SIZE", 100),

		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 30),
		UserRateLimitPerMinute: readInt("USER_RATE_LIMIT_PER_MIN", 600),
		UserRateLimitBurst:     readInt("USER_RATE_LIMIT_BURST", 120),
		RequestTimeout:         readDurationSeconds("REQUEST_TIMEOUT_SECONDS", 10),
	}, nil
}

func readString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
