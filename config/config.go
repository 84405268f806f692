package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		// A missing .env is fine outside of local development
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	GO_ENV string
	PORT   int
	// Database
	DB_DRIVER    string // postgres | sqlite
	DATABASE_URL string // full DSN, overrides the DB_* parts
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration
	REDIS_URL string
	// Object storage
	STORAGE_PROVIDER       string // s3 | gcs | local
	STORAGE_BUCKET         string
	STORAGE_REGION         string
	STORAGE_ENDPOINT       string
	STORAGE_ACCESS_KEY     string
	STORAGE_SECRET_KEY     string
	STORAGE_LOCAL_DIR      string
	STORAGE_CLIENT_MAX_AGE time.Duration
	GCS_CREDENTIALS        string // JSON blob or path to a credentials file
	// Extraction (OpenAI-compatible chat completions)
	INFERENCE_BASE_URL     string
	INFERENCE_API_KEY      string
	INFERENCE_MODEL        string
	EXTRACTION_RETRY_DELAY time.Duration
	MAX_PDF_PAGES          int
	// Embeddings (OpenAI-compatible)
	EMBEDDING_BASE_URL   string
	EMBEDDING_API_KEY    string
	EMBEDDING_MODEL      string
	EMBEDDING_DIMENSIONS int
	// Queue / worker
	QUEUE_DRIVER         string // redis | memory
	WORKER_CONCURRENCY   int
	WORKER_DRAIN_TIMEOUT time.Duration
	CRON_ENABLED         bool
	STALE_TASK_AFTER     time.Duration
	// HTTP
	ALLOWED_ORIGINS     string
	RATE_LIMIT_REQUESTS int
	RATE_LIMIT_WINDOW   time.Duration
	// Drop-folder watcher
	WATCH_DIR string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	envVariables := &EnviornmentVariable{
		GO_ENV: os.Getenv("GO_ENV"),
		PORT:   port,
		// Database
		DB_DRIVER:    getOrDefault("DB_DRIVER", "postgres"),
		DATABASE_URL: os.Getenv("DATABASE_URL"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      getOrDefault("DB_HOST", "localhost"),
		DB_PORT:      getOrDefault("DB_PORT", "5432"),
		DB_SSL_MODE:  getOrDefault("DB_SSL_MODE", "disable"),
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: getOrDefault("JWT_ISSUER", "study-ingest"),
		// Redis
		REDIS_URL: os.Getenv("REDIS_URL"),
		// Storage
		STORAGE_PROVIDER:       getOrDefault("STORAGE_PROVIDER", "local"),
		STORAGE_BUCKET:         os.Getenv("STORAGE_BUCKET"),
		STORAGE_REGION:         getOrDefault("STORAGE_REGION", "us-east-1"),
		STORAGE_ENDPOINT:       os.Getenv("STORAGE_ENDPOINT"),
		STORAGE_ACCESS_KEY:     os.Getenv("STORAGE_ACCESS_KEY"),
		STORAGE_SECRET_KEY:     os.Getenv("STORAGE_SECRET_KEY"),
		STORAGE_LOCAL_DIR:      getOrDefault("STORAGE_LOCAL_DIR", "./uploads"),
		STORAGE_CLIENT_MAX_AGE: getDuration("STORAGE_CLIENT_MAX_AGE", 30*time.Minute),
		GCS_CREDENTIALS:        os.Getenv("GCS_CREDENTIALS"),
		// Extraction
		INFERENCE_BASE_URL:     getOrDefault("INFERENCE_BASE_URL", "https://inference.do-ai.run"),
		INFERENCE_API_KEY:      os.Getenv("INFERENCE_API_KEY"),
		INFERENCE_MODEL:        getOrDefault("INFERENCE_MODEL", "openai-gpt-oss-120b"),
		EXTRACTION_RETRY_DELAY: getDuration("EXTRACTION_RETRY_DELAY", 3*time.Second),
		MAX_PDF_PAGES:          getInt("MAX_PDF_PAGES", 250),
		// Embeddings
		EMBEDDING_BASE_URL:   getOrDefault("EMBEDDING_BASE_URL", "https://api.openai.com/v1"),
		EMBEDDING_API_KEY:    os.Getenv("EMBEDDING_API_KEY"),
		EMBEDDING_MODEL:      getOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		EMBEDDING_DIMENSIONS: getInt("EMBEDDING_DIMENSIONS", 768),
		// Queue
		QUEUE_DRIVER:         getOrDefault("QUEUE_DRIVER", "memory"),
		WORKER_CONCURRENCY:   getInt("WORKER_CONCURRENCY", 2),
		WORKER_DRAIN_TIMEOUT: getDuration("WORKER_DRAIN_TIMEOUT", 30*time.Second),
		CRON_ENABLED:         os.Getenv("CRON_ENABLED") != "false", // Default to enabled
		STALE_TASK_AFTER:     getDuration("STALE_TASK_AFTER", time.Hour),
		// HTTP
		ALLOWED_ORIGINS:     getOrDefault("ALLOWED_ORIGINS", "*"),
		RATE_LIMIT_REQUESTS: getInt("RATE_LIMIT_REQUESTS", 120),
		RATE_LIMIT_WINDOW:   getDuration("RATE_LIMIT_WINDOW", time.Minute),
		// Watcher
		WATCH_DIR: os.Getenv("WATCH_DIR"),
	}

	return envVariables, nil
}

// IsProduction reports whether GO_ENV selects production behaviour
func (e *EnviornmentVariable) IsProduction() bool {
	return e.GO_ENV == "production"
}

func getOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// getDuration accepts Go duration strings ("3s") or plain seconds ("3")
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
