package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDailyLimit       = 20
	defaultProcessorTimeout = 30 * time.Second
	defaultMaxUploadBytes   = 10 << 20
)

// Config holds application configuration.
type Config struct {
	Port            string
	Env             string
	CORSAllowOrigin []string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	QuotaStore    string
	RedisURL      string
	DailyLimit    int
	QuotaTimezone string

	ProcessorURL       string
	ProcessorAPIKey    string
	ProcessorTimeout   time.Duration
	ProcessorDelivery  string
	ProcessorTransport string
	CallbackURL        string
	SQSQueueURL        string
	NATSURL            string
	NATSSubject        string

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	BreakerEnabled      bool

	WebhookSecret string

	StaleJobTimeout time.Duration
	ReaperInterval  time.Duration

	MaxUploadBytes         int64
	RateLimitUploadPerMin  int
	RateLimitDefaultPerMin int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}
	if env == "production" && strings.TrimSpace(os.Getenv("WEBHOOK_SECRET")) == "" {
		log.Printf("WEBHOOK_SECRET is not set; webhook deliveries will be rejected")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		Env:             env,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		QuotaStore:    normalizeQuotaStore(getEnv("QUOTA_STORE", "auto")),
		RedisURL:      getEnv("REDIS_URL", ""),
		DailyLimit:    getEnvInt("DAILY_LIMIT", defaultDailyLimit),
		QuotaTimezone: getEnv("QUOTA_TIMEZONE", "Local"),

		ProcessorURL:       strings.TrimRight(getEnv("MICROSERVICE_URL", ""), "/"),
		ProcessorAPIKey:    getEnv("MICROSERVICE_API_KEY", ""),
		ProcessorTimeout:   getEnvDuration("PROCESSOR_TIMEOUT", defaultProcessorTimeout),
		ProcessorDelivery:  normalizeDelivery(getEnv("PROCESSOR_DELIVERY", "inline")),
		ProcessorTransport: normalizeTransport(getEnv("PROCESSOR_TRANSPORT", "http")),
		CallbackURL:        getEnv("PROCESSING_CALLBACK_URL", ""),
		SQSQueueURL:        getEnv("SQS_QUEUE_URL", ""),
		NATSURL:            getEnv("NATS_URL", ""),
		NATSSubject:        getEnv("NATS_SUBJECT", "cv.processing.jobs"),

		RetryMaxAttempts:    getEnvInt("PROCESSOR_RETRY_MAX_ATTEMPTS", 1),
		RetryInitialBackoff: getEnvDuration("PROCESSOR_RETRY_INITIAL_BACKOFF", 200*time.Millisecond),
		RetryMaxBackoff:     getEnvDuration("PROCESSOR_RETRY_MAX_BACKOFF", 2*time.Second),
		BreakerEnabled:      getEnvBool("PROCESSOR_BREAKER_ENABLED", true),

		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),

		StaleJobTimeout: getEnvDuration("STALE_JOB_TIMEOUT", 0),
		ReaperInterval:  getEnvDuration("REAPER_INTERVAL", time.Minute),

		MaxUploadBytes:         int64(getEnvInt("MAX_UPLOAD_BYTES", defaultMaxUploadBytes)),
		RateLimitUploadPerMin:  getEnvInt("RATE_LIMIT_UPLOAD_PER_MIN", 10),
		RateLimitDefaultPerMin: getEnvInt("RATE_LIMIT_DEFAULT_PER_MIN", 120),
	}
}

// Location resolves QuotaTimezone, falling back to the process local zone.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.QuotaTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("config: invalid QUOTA_TIMEZONE %q, using local time: %v", name, err)
		return time.Local
	}
	return loc
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config: %s invalid int %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: %s invalid bool %q, using %t", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQuotaStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "memory", "mem":
		return "memory"
	case "postgres", "pg":
		return "postgres"
	case "redis":
		return "redis"
	default:
		return "auto"
	}
}

func normalizeDelivery(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deferred", "async", "webhook":
		return "deferred"
	default:
		return "inline"
	}
}

func normalizeTransport(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "nats":
		return "nats"
	default:
		return "http"
	}
}
