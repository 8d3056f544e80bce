package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	TokenCryptKey      string
	AIProvider         string
	GeminiAPIKey       string
	OllamaBaseURL      string
	OllamaModel        string
	ExtractTimeout     time.Duration
	SyncPageSize       int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	extractTimeout := 45 * time.Second
	if v := os.Getenv("EXTRACT_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			extractTimeout = parsed
		}
	}

	pageSize := 50
	if v := os.Getenv("SYNC_PAGE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		DatabaseURL:        getEnv("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=fintrack port=5432 sslmode=disable"),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", "http://localhost:8080/api/providers/callback"),
		TokenCryptKey:      getEnv("TOKEN_CRYPT_KEY", ""),
		AIProvider:         getEnv("AI_PROVIDER", "auto"),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:        getEnv("OLLAMA_MODEL", "llama3"),
		ExtractTimeout:     extractTimeout,
		SyncPageSize:       pageSize,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
