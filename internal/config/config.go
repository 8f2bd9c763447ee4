/**
 * Configuration for the document verification worker
 *
 * Loads configuration from environment variables matching .env.onboardly
 */

package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL  string
	QueueName string

	// QueueDriver selects the intake: "redis" (onboarding app's list queue)
	// or "asynq" (task queue).
	QueueDriver string

	// PostgreSQL configuration
	DatabaseURL string

	// OCR engine configuration
	OCRLanguages string

	// Image preprocessing configuration
	MaxImageWidth  int
	MaxImageHeight int
	JPEGQuality    int

	// Worker configuration
	WorkerConcurrency int
	MaxFileSize       int64
	ProcessingTimeout int // milliseconds

	// Environment name (development, staging, production)
	Env string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:          getEnvOrDefault("REDIS_URL", "redis://onboardly-redis:6379"),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "docverify:jobs"),
		QueueDriver:       getEnvOrDefault("QUEUE_DRIVER", "redis"),
		DatabaseURL:       getEnvOrThrow("DATABASE_URL"),
		OCRLanguages:      getEnvOrDefault("OCR_LANGUAGES", "por+eng"),
		MaxImageWidth:     getEnvAsIntOrDefault("MAX_IMAGE_WIDTH", 1600),
		MaxImageHeight:    getEnvAsIntOrDefault("MAX_IMAGE_HEIGHT", 1600),
		JPEGQuality:       getEnvAsIntOrDefault("JPEG_QUALITY", 85),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:       getEnvAsInt64OrDefault("MAX_FILE_SIZE", 26214400), // 25MB
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 120000), // 2 minutes
		Env:               getEnvOrDefault("ENV", "development"),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueDriver != "redis" && c.QueueDriver != "asynq" {
		return fmt.Errorf("QUEUE_DRIVER must be \"redis\" or \"asynq\", got %q", c.QueueDriver)
	}

	if c.OCRLanguages == "" {
		return fmt.Errorf("OCR_LANGUAGES is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 32 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 32, got %d", c.WorkerConcurrency)
	}

	if c.MaxImageWidth < 64 || c.MaxImageHeight < 64 {
		return fmt.Errorf("MAX_IMAGE_WIDTH and MAX_IMAGE_HEIGHT must be at least 64, got %dx%d",
			c.MaxImageWidth, c.MaxImageHeight)
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrThrow gets environment variable or panics when unset
func getEnvOrThrow(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic(fmt.Sprintf("Required environment variable %s is not set", key))
	}
	return value
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}
