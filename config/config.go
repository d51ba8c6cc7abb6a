package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the report service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Auth configuration
	JWTSecret string

	// Classification service configuration
	ClassifierURL     string
	ClassifierAPIKey  string
	ClassifierModel   string
	ClassifierTimeout time.Duration
	WasteClass        string

	// Verdict cache configuration
	CacheTTL time.Duration

	// Object storage configuration
	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
	UploadTimeout       time.Duration

	// RabbitMQ configuration (optional; empty URL disables publishing)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// Load loads configuration from environment variables
func Load() *Config {
	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "reports"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),

		// Classification service defaults
		ClassifierURL:     getEnv("CLASSIFIER_URL", "http://classifier:9001/detect"),
		ClassifierAPIKey:  getEnv("CLASSIFIER_API_KEY", ""),
		ClassifierModel:   getEnv("CLASSIFIER_MODEL", "waste-detector-2"),
		ClassifierTimeout: getDurationEnv("CLASSIFIER_TIMEOUT", 30*time.Second),
		WasteClass:        getEnv("CLASSIFIER_WASTE_CLASS", "waste"),

		CacheTTL: getDurationEnv("VERDICT_CACHE_TTL", 5*time.Minute),

		// Object storage defaults
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "reports"),
		UploadTimeout:       getDurationEnv("UPLOAD_TIMEOUT", 15*time.Second),

		// RabbitMQ defaults
		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "reports"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "report.accepted"),
	}

	return config
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
