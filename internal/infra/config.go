package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers understood by the workflow engine and artifact repositories.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

// DevJWTSecret signs tokens in development and test when JWT_SECRET is unset.
const DevJWTSecret = "trendtide-dev-secret"

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	StoreDriver        string
	SQLitePath         string
	JWTSecret          string
	GoogleClientID     string
	GoogleIssuer       string
	CORSAllowedOrigins []string
	DefaultLocale      string
	GeoIPDBPath        string
	GatedKinds         []string
	PaidPlans          []string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	EmbeddedWorker     bool
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	RunLease           time.Duration
	RunMaxRetries      int

	LLMAPIKey  string
	LLMBaseURL string
	LLMModel   string

	InferenceAPIKey  string
	InferenceBaseURL string
	InferenceModel   string
	InferencePerMin  int

	ImageKitPrivateKey string
	ImageKitUploadURL  string
	ImageKitFolder     string
	StoragePath        string
	StorageBaseURL     string

	FallbackImageBaseURL string

	YouTubeAPIKey  string
	YouTubeBaseURL string
	SearchCacheTTL time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/trendtide.db"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleIssuer:       getEnv("GOOGLE_ISSUER", "https://accounts.google.com"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "en"),
		GeoIPDBPath:        os.Getenv("GEOIP_DB_PATH"),
		GatedKinds:         getEnvList("GATED_KINDS", nil),
		PaidPlans:          getEnvList("PAID_PLANS", []string{"pro_plan", "business_plan"}),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		EmbeddedWorker:     getEnvBool("EMBEDDED_WORKER", false),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		WorkerPollInterval: time.Millisecond * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 2000)),
		RunLease:           time.Second * time.Duration(getEnvInt("RUN_LEASE_SECONDS", 300)),
		RunMaxRetries:      getEnvInt("RUN_MAX_RETRIES", 2),

		LLMAPIKey:  os.Getenv("LLM_API_KEY"),
		LLMBaseURL: getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:   getEnv("LLM_MODEL", "google/gemini-2.5-flash"),

		InferenceAPIKey:  os.Getenv("INFERENCE_API_KEY"),
		InferenceBaseURL: getEnv("INFERENCE_BASE_URL", "https://router.huggingface.co/hf-inference/models"),
		InferenceModel:   getEnv("INFERENCE_MODEL", "black-forest-labs/FLUX.1-schnell"),
		InferencePerMin:  getEnvInt("INFERENCE_REQUESTS_PER_MINUTE", 20),

		ImageKitPrivateKey: os.Getenv("IMAGEKIT_PRIVATE_KEY"),
		ImageKitUploadURL:  getEnv("IMAGEKIT_UPLOAD_URL", "https://upload.imagekit.io/api/v1/files/upload"),
		ImageKitFolder:     getEnv("IMAGEKIT_FOLDER", "/thumbnails"),
		StoragePath:        getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL:     getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),

		FallbackImageBaseURL: getEnv("FALLBACK_IMAGE_BASE_URL", "https://image.pollinations.ai/prompt"),

		YouTubeAPIKey:  os.Getenv("YOUTUBE_API_KEY"),
		YouTubeBaseURL: getEnv("YOUTUBE_BASE_URL", "https://www.googleapis.com/youtube/v3"),
		SearchCacheTTL: time.Second * time.Duration(getEnvInt("SEARCH_CACHE_TTL_SECONDS", 600)),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverSQLite, StoreDriverMemory:
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		if !cfg.IsLocal() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = DevJWTSecret
	}
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 1
	}

	return cfg, nil
}

// IsLocal reports whether the service runs in a development or test environment.
func (c *Config) IsLocal() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
