package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	LogLevel    string
	Port        string
	DatabaseURL string

	PoolSize            int
	PoolLeasesPerInst   int
	PoolAcquireTimeout  time.Duration
	PoolPollInterval    time.Duration
	PageIdleTimeout     time.Duration
	InstanceIdleTimeout time.Duration
	PoolReapInterval    time.Duration

	RenderEnv     string
	ChromeBin     string
	RenderTimeout time.Duration

	DispatchConcurrency int
	DispatchMaxAttempts int
	DispatchMaxJobs     int
	DispatchMaxDuration time.Duration
	DrainSecret         string
	SweepInterval       time.Duration
	StaleAfter          time.Duration

	DedupWindow          time.Duration
	FingerprintRetention time.Duration
	MaxRegenerations     int

	StorageDriver  string
	StoragePath    string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	MarkupProvider string
	OpenAIAPIKey   string
	OpenAIModel    string
	OpenAIBaseURL  string
	OpenAIOrg      string

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RateLimitPerMin int

	OTelEndpoint string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		PoolSize:            getEnvInt("POOL_SIZE", 2),
		PoolLeasesPerInst:   getEnvInt("POOL_LEASES_PER_INSTANCE", 4),
		PoolAcquireTimeout:  getEnvDuration("POOL_ACQUIRE_TIMEOUT", 30*time.Second),
		PoolPollInterval:    getEnvDuration("POOL_POLL_INTERVAL", 100*time.Millisecond),
		PageIdleTimeout:     getEnvDuration("PAGE_IDLE_TIMEOUT", 2*time.Minute),
		InstanceIdleTimeout: getEnvDuration("INSTANCE_IDLE_TIMEOUT", 5*time.Minute),
		PoolReapInterval:    getEnvDuration("POOL_REAP_INTERVAL", 30*time.Second),

		RenderEnv:     getEnv("RENDER_ENV", "local"),
		ChromeBin:     os.Getenv("CHROME_BIN"),
		RenderTimeout: getEnvDuration("RENDER_TIMEOUT", 30*time.Second),

		DispatchConcurrency: getEnvInt("DISPATCH_CONCURRENCY", 3),
		DispatchMaxAttempts: getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchMaxJobs:     getEnvInt("DISPATCH_MAX_JOBS", 5),
		DispatchMaxDuration: getEnvDuration("DISPATCH_MAX_DURATION", 25*time.Second),
		DrainSecret:         os.Getenv("DRAIN_SECRET"),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
		StaleAfter:          getEnvDuration("STALE_PROCESSING_AFTER", 15*time.Minute),

		DedupWindow:          time.Minute * time.Duration(getEnvInt("DEDUP_WINDOW_MINUTES", 5)),
		FingerprintRetention: getEnvDuration("FINGERPRINT_RETENTION", 72*time.Hour),
		MaxRegenerations:     getEnvInt("MAX_REGENERATIONS", 10),

		StorageDriver:  strings.ToLower(getEnv("STORAGE_DRIVER", "filesystem")),
		StoragePath:    getEnv("STORAGE_PATH", "./data"),
		MinioEndpoint:  os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "documents"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		MarkupProvider: strings.ToLower(getEnv("MARKUP_PROVIDER", "static")),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIOrg:      os.Getenv("OPENAI_ORG"),

		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		OTelEndpoint: os.Getenv("OTEL_ENDPOINT"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.PoolSize < 1 {
		return nil, fmt.Errorf("POOL_SIZE must be at least 1")
	}
	if cfg.PoolLeasesPerInst < 1 {
		return nil, fmt.Errorf("POOL_LEASES_PER_INSTANCE must be at least 1")
	}
	if cfg.DispatchConcurrency < 1 {
		return nil, fmt.Errorf("DISPATCH_CONCURRENCY must be at least 1")
	}
	if cfg.DispatchMaxAttempts < 1 {
		return nil, fmt.Errorf("DISPATCH_MAX_ATTEMPTS must be at least 1")
	}
	if floor := cfg.RenderTimeout + cfg.PoolAcquireTimeout; cfg.StaleAfter <= floor {
		return nil, fmt.Errorf("STALE_PROCESSING_AFTER must exceed RENDER_TIMEOUT + POOL_ACQUIRE_TIMEOUT (%s)", floor)
	}
	switch cfg.StorageDriver {
	case "filesystem":
	case "minio":
		if cfg.MinioEndpoint == "" {
			return nil, fmt.Errorf("MINIO_ENDPOINT is required when STORAGE_DRIVER=minio")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}
	switch cfg.MarkupProvider {
	case "static", "openai":
	default:
		return nil, fmt.Errorf("unknown MARKUP_PROVIDER %q", cfg.MarkupProvider)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") and bare integers as milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
