// Package config loads PSP configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all module configuration.
type Config struct {
	Storage    StorageConfig
	Redis      RedisConfig
	Object     ObjectConfig
	Encryption EncryptionConfig
	Adapter    AdapterConfig
	Logging    LogConfig
}

// StorageConfig selects and tunes the default storage backend.
type StorageConfig struct {
	Backend string `envconfig:"PSP_STORAGE_BACKEND" default:"filesystem"`
	BaseDir string `envconfig:"PSP_STORAGE_DIR" default:"./sessions"`
}

// RedisConfig holds key-value backend settings.
type RedisConfig struct {
	Addr      string `envconfig:"PSP_REDIS_ADDR" default:"localhost:6379"`
	Password  string `envconfig:"PSP_REDIS_PASSWORD" default:""`
	DB        int    `envconfig:"PSP_REDIS_DB" default:"0"`
	KeyPrefix string `envconfig:"PSP_REDIS_KEY_PREFIX" default:"psp:session:"`
}

// ObjectConfig holds object-storage backend settings. Endpoint is the
// base URL of an HTTP object API; Token, when set, is sent as a
// bearer credential.
type ObjectConfig struct {
	Endpoint string `envconfig:"PSP_OBJECT_ENDPOINT" default:""`
	Bucket   string `envconfig:"PSP_OBJECT_BUCKET" default:"psp-sessions"`
	Prefix   string `envconfig:"PSP_OBJECT_PREFIX" default:"sessions/"`
	Token    string `envconfig:"PSP_OBJECT_TOKEN" default:""`
	Retries  int    `envconfig:"PSP_OBJECT_RETRIES" default:"3"`
}

// EncryptionConfig tunes the encryption engine.
type EncryptionConfig struct {
	KeyCacheSize int `envconfig:"PSP_KEY_CACHE_SIZE" default:"16"`
	ScryptCost   int `envconfig:"PSP_SCRYPT_COST" default:"16384"`
}

// AdapterConfig bounds calls into automation-framework adapters. A
// hung adapter would otherwise block its session operation forever.
type AdapterConfig struct {
	Timeout time.Duration `envconfig:"PSP_ADAPTER_TIMEOUT" default:"30s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"PSP_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"PSP_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "filesystem",
			BaseDir: "./sessions",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "psp:session:",
		},
		Object: ObjectConfig{
			Bucket:  "psp-sessions",
			Prefix:  "sessions/",
			Retries: 3,
		},
		Encryption: EncryptionConfig{
			KeyCacheSize: 16,
			ScryptCost:   16384,
		},
		Adapter: AdapterConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
