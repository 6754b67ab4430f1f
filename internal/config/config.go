package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	ModelPath         string
	ModelInputSize    int     // Square input edge fed to the network
	ConfidenceFloor   float64 // Detections below this are discarded before mapping
	NMSThreshold      float64
	UploadDirectory   string
	OutputDirectory   string
	DatabasePath      string
	ProcessingWorkers int           // One detector instance per worker
	DetectionTimeout  time.Duration // 0 disables the per-run deadline
	StatisticsLimit   int           // Default page size for the statistics list
	MaxUploadSize     int64         // Upload limit in MB
	LogDirectory      string
	LogLevel          string
	S3Bucket          string // Empty disables the artifact mirror
	AWSRegion         string
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 8000),
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "models", "yolov8n.onnx")),
		ModelInputSize:    getEnvAsInt("MODEL_INPUT_SIZE", 640),
		ConfidenceFloor:   getEnvAsFloat("CONFIDENCE_FLOOR", 0.3),
		NMSThreshold:      getEnvAsFloat("NMS_THRESHOLD", 0.45),
		UploadDirectory:   getEnv("UPLOAD_DIR", filepath.Join(".", "uploads")),
		OutputDirectory:   getEnv("OUTPUT_DIR", filepath.Join(".", "outputs")),
		DatabasePath:      getEnv("DATABASE_PATH", filepath.Join(".", "data", "vehicle_stats.db")),
		ProcessingWorkers: getEnvAsInt("PROCESSING_WORKERS", 2),
		DetectionTimeout:  getEnvAsDuration("DETECTION_TIMEOUT", 0),
		StatisticsLimit:   getEnvAsInt("STATISTICS_LIMIT", 50),
		MaxUploadSize:     getEnvAsInt64("MAX_UPLOAD_MB", 512),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
