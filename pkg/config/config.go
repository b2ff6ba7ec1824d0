package config

import (
	"os"
	"strconv"
	"time"

	"ninochat/pkg/clients"
)

type Config struct {
	GoogleApiKey   string
	BraveApiKey    string
	DatabaseURL    string
	ReasoningModel string
	FastModel      string
	Port           string

	// MaxRetryAttempts bounds rate-limit retries per question; 0 keeps the
	// historical unbounded behavior.
	MaxRetryAttempts int
	SearchCount      int
	FetchTimeout     time.Duration
}

func Load() *Config {
	return &Config{
		GoogleApiKey:     getEnv("GOOGLE_API_KEY", ""),
		BraveApiKey:      getEnv("BRAVE_API_KEY", ""),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		ReasoningModel:   getEnv("REASONING_MODEL", string(clients.ProModel)),
		FastModel:        getEnv("FAST_MODEL", string(clients.FastModel)),
		Port:             getEnv("PORT", "3000"),
		MaxRetryAttempts: getEnvAsInt("MAX_RETRY_ATTEMPTS", 0),
		SearchCount:      getEnvAsInt("SEARCH_COUNT", 1),
		FetchTimeout:     time.Duration(getEnvAsInt("FETCH_TIMEOUT_SECONDS", 5)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
