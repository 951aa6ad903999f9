package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ModeInline = "inline"
	ModeQueued = "queued"

	StorageSupabase = "supabase"
	StorageGCS      = "gcs"
)

// AppConfig implements the domain.Config interface
type AppConfig struct {
	ServerPort     string
	LogLevel       string
	LogFormat      string
	MaxFileSize    int64
	MaxCoverSize   int64
	AllowedOrigins []string

	SupabaseURL string
	SupabaseKey string

	StorageBackend string
	StorageBucket  string
	GCSBucket      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueuePrefix   string

	ExtractionStrategy string
	GCPProjectID       string
	GCPLocation        string
	VisionModel        string

	AzureSpeechKey    string
	AzureSpeechRegion string
	TTSGender         string
	TTSRate           string
	TTSVolume         string
	ScratchDir        string

	PipelineMode      string
	WorkerConcurrency int
	SweepInterval     time.Duration
	EmbeddedWorker    bool
}

// NewConfig creates a new configuration instance with default values
func NewConfig() *AppConfig {
	return &AppConfig{
		// Cloud Run (and many PaaS) provide the listening port via PORT.
		// Keep SERVER_PORT for local/dev compatibility.
		ServerPort:     getEnvOrDefault("PORT", getEnvOrDefault("SERVER_PORT", "8080")),
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:      getEnvOrDefault("LOG_FORMAT", "json"),
		MaxFileSize:    getEnvInt64OrDefault("MAX_FILE_SIZE", 50*1024*1024), // 50MB default
		MaxCoverSize:   getEnvInt64OrDefault("MAX_COVER_SIZE", 5*1024*1024),
		AllowedOrigins: getEnvListOrDefault("CORS_ALLOWED_ORIGINS", nil),

		SupabaseURL: getEnvOrDefault("SUPABASE_URL", ""),
		// The pipeline writes past row level security, so prefer the service key.
		SupabaseKey: getEnvOrDefault("SUPABASE_SERVICE_KEY", getEnvOrDefault("SUPABASE_ANON_KEY", "")),

		StorageBackend: strings.ToLower(getEnvOrDefault("STORAGE_BACKEND", StorageSupabase)),
		StorageBucket:  getEnvOrDefault("STORAGE_BUCKET", "kitaabse"),
		GCSBucket:      getEnvOrDefault("GCS_BUCKET", ""),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),
		QueuePrefix:   getEnvOrDefault("QUEUE_PREFIX", "kitaabse:"),

		ExtractionStrategy: strings.ToLower(getEnvOrDefault("EXTRACTION_STRATEGY", "text")),
		GCPProjectID:       getEnvOrDefault("GCP_PROJECT_ID", ""),
		GCPLocation:        getEnvOrDefault("GCP_LOCATION", "us-central1"),
		VisionModel:        getEnvOrDefault("VISION_MODEL", "gemini-2.0-flash-001"),

		AzureSpeechKey:    getEnvOrDefault("AZURE_SPEECH_KEY", ""),
		AzureSpeechRegion: getEnvOrDefault("AZURE_SPEECH_REGION", "centralindia"),
		TTSGender:         strings.ToLower(getEnvOrDefault("TTS_GENDER", "female")),
		TTSRate:           getEnvOrDefault("TTS_RATE", "+0%"),
		TTSVolume:         getEnvOrDefault("TTS_VOLUME", "+0%"),
		ScratchDir:        getEnvOrDefault("SCRATCH_DIR", os.TempDir()),

		PipelineMode:      strings.ToLower(getEnvOrDefault("PIPELINE_MODE", ModeInline)),
		WorkerConcurrency: getEnvIntOrDefault("WORKER_CONCURRENCY", 4),
		SweepInterval:     getEnvDurationOrDefault("SWEEP_INTERVAL", 10*time.Minute),
		EmbeddedWorker:    getEnvBoolOrDefault("EMBEDDED_WORKER", true),
	}
}

// Validate reports settings that cannot work together.
func (c *AppConfig) Validate() error {
	switch c.PipelineMode {
	case ModeInline:
	case ModeQueued:
		if c.RedisAddr == "" {
			return fmt.Errorf("PIPELINE_MODE=queued requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown PIPELINE_MODE %q", c.PipelineMode)
	}

	switch c.StorageBackend {
	case StorageSupabase:
	case StorageGCS:
		if c.GCSBucket == "" {
			return fmt.Errorf("STORAGE_BACKEND=gcs requires GCS_BUCKET")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.ExtractionStrategy {
	case "text", "ocr":
	case "vision":
		if c.GCPProjectID == "" {
			return fmt.Errorf("EXTRACTION_STRATEGY=vision requires GCP_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown EXTRACTION_STRATEGY %q", c.ExtractionStrategy)
	}
	return nil
}

// Queued reports whether uploads are handed to the job queue.
func (c *AppConfig) Queued() bool {
	return c.PipelineMode == ModeQueued
}

// GetServerPort returns the server port
func (c *AppConfig) GetServerPort() string {
	return c.ServerPort
}

// GetMaxFileSize returns the maximum allowed file size
func (c *AppConfig) GetMaxFileSize() int64 {
	return c.MaxFileSize
}

// GetLogLevel returns the logging level
func (c *AppConfig) GetLogLevel() string {
	return c.LogLevel
}

// GetSupabaseURL returns the Supabase URL
func (c *AppConfig) GetSupabaseURL() string {
	return c.SupabaseURL
}

// GetSupabaseKey returns the Supabase key
func (c *AppConfig) GetSupabaseKey() string {
	return c.SupabaseKey
}

// Helper functions for environment variable handling
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	return int(getEnvInt64OrDefault(key, int64(defaultValue)))
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
