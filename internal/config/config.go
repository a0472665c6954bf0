package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Cloudflare R2 (S3 API)
	R2Endpoint        string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2Bucket          string

	// Gemini (narrative reasoning)
	GeminiKey      string
	NarrativeModel string

	// OpenAI (copywriting)
	OpenAIKey string
	CopyModel string

	// fal.ai (transcription + music)
	FalKey             string
	FalBaseURL         string
	TranscriptionModel string
	MusicModel         string

	// Render
	RenderTempDir            string
	MaxConcurrentJobs        int
	TranscriptionConcurrency int
	LoudnessWindowSec        float64
	RenderCreditCost         int

	// Source cleanup sweep
	CleanupSchedule   string
	CleanupStaleAfter time.Duration

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:                  getEnv("API_PORT", "8080"),
		WorkerEnabled:            getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:            getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:       getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RedisURL:                 getEnv("REDIS_URL", "redis://localhost:6379"),
		R2Endpoint:               getEnv("R2_ENDPOINT", ""),
		R2AccessKeyID:            getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey:        getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2Bucket:                 getEnv("R2_BUCKET", ""),
		GeminiKey:                getEnv("GEMINI_API_KEY", ""),
		NarrativeModel:           getEnv("NARRATIVE_MODEL", "gemini-2.5-pro"),
		OpenAIKey:                getEnv("OPENAI_API_KEY", ""),
		CopyModel:                getEnv("COPY_MODEL", "gpt-5-mini"),
		FalKey:                   getEnv("FAL_KEY", ""),
		FalBaseURL:               getEnv("FAL_BASE_URL", "https://fal.run"),
		TranscriptionModel:       getEnv("TRANSCRIPTION_MODEL", "fal-ai/whisper"),
		MusicModel:               getEnv("MUSIC_MODEL", "cassetteai/music-gen"),
		RenderTempDir:            getEnv("RENDER_TEMP_DIR", filepath.Join(os.TempDir(), "reels-render")),
		MaxConcurrentJobs:        getEnvInt("MAX_CONCURRENT_JOBS", 2),
		TranscriptionConcurrency: getEnvInt("TRANSCRIPTION_CONCURRENCY", 4),
		LoudnessWindowSec:        getEnvFloat("LOUDNESS_WINDOW_SEC", 0.5),
		RenderCreditCost:         getEnvInt("RENDER_CREDIT_COST", 5),
		CleanupSchedule:          getEnv("CLEANUP_SCHEDULE", "@every 6h"),
		CleanupStaleAfter:        getEnvDuration("CLEANUP_STALE_AFTER", 6*time.Hour),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
	}

	// Validate required fields
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.GeminiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.FalKey == "" {
		return nil, fmt.Errorf("FAL_KEY is required")
	}

	if cfg.R2Endpoint == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "" || cfg.R2Bucket == "" {
		return nil, fmt.Errorf("R2_ENDPOINT, R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY and R2_BUCKET are required")
	}

	if cfg.LoudnessWindowSec <= 0 {
		return nil, fmt.Errorf("LOUDNESS_WINDOW_SEC must be positive")
	}

	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.TranscriptionConcurrency < 1 {
		cfg.TranscriptionConcurrency = 1
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
