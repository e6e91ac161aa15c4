package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv                  string
	LogLevel                string
	Port                    string
	DatabaseURL             string
	DBMaxConns              int
	StoragePath             string
	WorkerPollInterval      time.Duration
	ProviderTimeout         time.Duration
	PreferIPv4              bool
	PromptPolicyPath        string
	ArtifactCleanupSchedule string
	MetricsAddr             string
	WorkerLockPath          string
	GeminiAPIKey            string
	GeminiModel             string
	GeminiImageModel        string
	GeminiBaseURL           string
	OpenAIAPIKey            string
	OpenAIModel             string
	OpenAIBaseURL           string
	HTTPReadTimeout         time.Duration
	HTTPWriteTimeout        time.Duration
	HTTPIdleTimeout         time.Duration
	RateLimitPerMin         int
	CORSAllowedOrigins      []string
}

// LoadDotEnv reads .env files when present. Missing files are not an error.
func LoadDotEnv() {
	_ = godotenv.Load(".env", ".env.local")
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:                  getEnv("APP_ENV", "development"),
		LogLevel:                os.Getenv("LOG_LEVEL"),
		Port:                    getEnv("PORT", "8080"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		DBMaxConns:              getEnvInt("DB_MAX_CONNS", 10),
		StoragePath:             getEnv("STORAGE_PATH", "./storage"),
		WorkerPollInterval:      time.Millisecond * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_MS", 1000)),
		ProviderTimeout:         time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 120)),
		PreferIPv4:              getEnvBool("PREFER_IPV4", false),
		PromptPolicyPath:        os.Getenv("PROMPT_POLICY_PATH"),
		ArtifactCleanupSchedule: os.Getenv("ARTIFACT_CLEANUP_SCHEDULE"),
		MetricsAddr:             getEnv("METRICS_ADDR", ":9090"),
		WorkerLockPath:          os.Getenv("WORKER_LOCK_PATH"),
		GeminiAPIKey:            os.Getenv("GEMINI_API_KEY"),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiImageModel:        getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiBaseURL:           getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		OpenAIAPIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:             getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		HTTPReadTimeout:         time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:        time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:         time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:         getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		CORSAllowedOrigins:      getEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.WorkerPollInterval <= 0 {
		return nil, fmt.Errorf("WORKER_POLL_INTERVAL_MS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.ProviderTimeout <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT_SECONDS must be positive")
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

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
