package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string
	FrontendURL string

	// Redis configuration
	RedisURL string

	// PubNub configuration
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string
	PubNubUUID         string

	// Payment processor
	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	StripeAPIURL        string
	StripeMaxRetries    int
	ProcessorTimeout    time.Duration
	Currency            string

	// Fraud classifier
	FraudAPIURL  string
	FraudTimeout time.Duration

	// Mail
	MailTimeout time.Duration

	// Pipeline
	PointsPerTicket     int
	FailedAttemptWindow time.Duration
	WelcomeGiftTTL      time.Duration
	SettlementLockTTL   time.Duration
	RefundLockTTL       time.Duration
	PointsCacheTTL      time.Duration
	AlertConnectionTTL  time.Duration
	CheckoutRateLimit   int

	// Domain events and dead letters
	KafkaBrokers          []string
	KafkaTopic            string
	RabbitURL             string
	DeadLetterQueue       string
	ParkingQueue          string
	DeadLetterMaxAttempts int

	// Monitoring
	OTLPEndpoint  string
	EnableMetrics bool
}

// LoadConfig reads the environment, after merging a .env file from the
// working directory when one exists.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("godotenv.Load()", "error", err)
	}

	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),
		PubNubUUID:         getEnv("PUBNUB_UUID", "eventix-server"),

		// Processor
		PaymentProvider:     getEnv("PAYMENT_PROVIDER", "stripe"),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeAPIURL:        getEnv("STRIPE_API_URL", "https://api.stripe.com"),
		StripeMaxRetries:    getEnvAsInt("STRIPE_MAX_NETWORK_RETRIES", 2),
		ProcessorTimeout:    getEnvAsDuration("PROCESSOR_TIMEOUT", "10s"),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),

		// Fraud
		FraudAPIURL:  getEnv("FRAUD_API_URL", "http://localhost:5000"),
		FraudTimeout: getEnvAsDuration("FRAUD_TIMEOUT", "3s"),

		// Mail
		MailTimeout: getEnvAsDuration("MAIL_TIMEOUT", "10s"),

		// Pipeline
		PointsPerTicket:     getEnvAsInt("POINTS_PER_TICKET", 10),
		FailedAttemptWindow: getEnvAsDuration("FAILED_ATTEMPT_WINDOW", "24h"),
		WelcomeGiftTTL:      getEnvAsDuration("WELCOME_GIFT_TTL", "72h"),
		SettlementLockTTL:   getEnvAsDuration("SETTLEMENT_LOCK_TTL", "2m"),
		RefundLockTTL:       getEnvAsDuration("REFUND_LOCK_TTL", "1m"),
		PointsCacheTTL:      getEnvAsDuration("POINTS_CACHE_TTL", "5m"),
		AlertConnectionTTL:  getEnvAsDuration("ALERT_CONNECTION_TTL", "2m"),
		CheckoutRateLimit:   getEnvAsInt("CHECKOUT_RATE_LIMIT", 10),

		// Events
		KafkaBrokers:          getEnvAsSlice("KAFKA_BROKERS", nil),
		KafkaTopic:            getEnv("KAFKA_TOPIC", "ticketing.events"),
		RabbitURL:             getEnv("RABBIT_URL", ""),
		DeadLetterQueue:       getEnv("DEAD_LETTER_QUEUE", "settlement.dead-letter"),
		ParkingQueue:          getEnv("DEAD_LETTER_PARKING_QUEUE", ""),
		DeadLetterMaxAttempts: getEnvAsInt("DEAD_LETTER_MAX_ATTEMPTS", 5),

		// Monitoring
		OTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

// getEnvAsSlice splits a comma separated value, dropping empty entries.
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
