package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	UploadDir   string

	// Queue tuning
	Workers       int
	EngineTimeout time.Duration
	CancelPoll    time.Duration

	// Provider credentials. A provider with an empty token is simply not
	// registered; at least one must be configured.
	EbooToken         string
	EbooURL           string
	ViraToken         string
	ViraURL           string
	ScribeToken       string
	ScribeStorageURL  string
	ScribeGenerateURL string

	// Optional: transcript cleanup after successful transcription.
	OpenAIKey string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		UploadDir:   getEnv("UPLOAD_DIR", "uploads"),

		Workers:       getEnvInt("QUEUE_WORKERS", 4),
		EngineTimeout: time.Duration(getEnvInt("ENGINE_TIMEOUT_SECONDS", 900)) * time.Second,
		CancelPoll:    time.Duration(getEnvInt("CANCEL_POLL_SECONDS", 2)) * time.Second,

		EbooToken: os.Getenv("EBOO_TOKEN"),
		EbooURL:   getEnv("EBOO_URL", "https://www.eboo.ir/api/ocr/getway"),

		ViraToken: os.Getenv("VIRA_TOKEN"),
		ViraURL:   getEnv("VIRA_URL", "https://partai.gw.isahab.ir/avanegar/v2/avanegar/request"),

		ScribeToken:       os.Getenv("SCRIBE_TOKEN"),
		ScribeStorageURL:  getEnv("SCRIBE_STORAGE_URL", "https://api.metisai.ir/api/v1/storage"),
		ScribeGenerateURL: getEnv("SCRIBE_GENERATE_URL", "https://api.metisai.ir/api/v2/generate"),

		OpenAIKey: os.Getenv("OPENAI_API_KEY"),
	}

	if cfg.EbooToken == "" && cfg.ViraToken == "" && cfg.ScribeToken == "" {
		return nil, fmt.Errorf("no transcription provider configured: set at least one of EBOO_TOKEN, VIRA_TOKEN, SCRIBE_TOKEN")
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
