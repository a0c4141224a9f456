package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	// Store selects the backing store: "postgres" or "memory".
	Store string

	EmbeddingDim    int
	WorkerCount     int
	HotWindow       time.Duration
	RetrievalWindow time.Duration
	DigestSize      int
	Oversample      int

	SlackSigningSecret string
	LogLevel           string
	LogFormat          string
	Environment        string
}

func Load() *Config {
	return &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "postgres://localhost/teamdigest?sslmode=disable"),
		Store:              getEnvOrDefault("STORE", "postgres"),
		EmbeddingDim:       getEnvInt("EMBEDDING_DIM", 64),
		WorkerCount:        getEnvInt("WORKER_COUNT", 4),
		HotWindow:          time.Duration(getEnvInt("HOT_WINDOW_MINUTES", 60)) * time.Minute,
		RetrievalWindow:    time.Duration(getEnvInt("RETRIEVAL_WINDOW_HOURS", 168)) * time.Hour,
		DigestSize:         getEnvInt("DIGEST_SIZE", 5),
		Oversample:         getEnvInt("RETRIEVAL_OVERSAMPLE", 3),
		SlackSigningSecret: os.Getenv("SLACK_SIGNING_SECRET"),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:          getEnvOrDefault("LOG_FORMAT", "text"),
		Environment:        getEnvOrDefault("ENVIRONMENT", "development"),
	}
}

func (c *Config) Validate() error {
	var problems []string

	switch strings.ToLower(c.Store) {
	case "postgres":
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when STORE=postgres")
		}
	case "memory":
	default:
		problems = append(problems, "STORE must be one of: postgres, memory")
	}

	if c.EmbeddingDim < 8 {
		problems = append(problems, "EMBEDDING_DIM must be at least 8")
	}
	if c.WorkerCount < 1 {
		problems = append(problems, "WORKER_COUNT must be at least 1")
	}
	if c.DigestSize < 1 {
		problems = append(problems, "DIGEST_SIZE must be at least 1")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		problems = append(problems, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		problems = append(problems, "LOG_FORMAT must be one of: text, json")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) UseMemoryStore() bool {
	return strings.ToLower(c.Store) == "memory"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
