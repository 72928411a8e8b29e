package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pageturn/pageturn/pkg/types"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
// It also supports environment variable overrides with PT_ prefix
func Load(configPath string) (*types.Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid and fills in defaults
// for the reader tuning knobs.
func Validate(cfg *types.Config) error {
	// Validate server config
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 100 // default
	}

	// Validate storage adapter
	if cfg.Storage.Adapter != "local" && cfg.Storage.Adapter != "s3" {
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}

	if cfg.Storage.Adapter == "local" {
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		// Ensure base path is absolute
		if !filepath.IsAbs(cfg.Storage.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", cfg.Storage.Local.BasePath)
		}
	}

	if cfg.Storage.Adapter == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	}

	// Reader defaults
	if cfg.Reader.ProgressDebounceMs <= 0 {
		cfg.Reader.ProgressDebounceMs = 500
	}
	if cfg.Reader.RestoreSettleMs <= 0 {
		cfg.Reader.RestoreSettleMs = 1000
	}
	if cfg.Reader.SectionTopThresholdPx <= 0 {
		cfg.Reader.SectionTopThresholdPx = 100
	}
	if cfg.Reader.PrefetchMarginPx <= 0 {
		cfg.Reader.PrefetchMarginPx = 200
	}
	if cfg.Reader.PageHeightEstimatePx <= 0 {
		cfg.Reader.PageHeightEstimatePx = 1100
	}
	if cfg.Reader.FetchRetries <= 0 {
		cfg.Reader.FetchRetries = 3
	}

	// Cache defaults
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(os.TempDir(), "pageturn-cache")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides
// Environment variables are prefixed with PT_ (Pageturn)
func applyEnvOverrides(cfg *types.Config) {
	// Server overrides
	if val := os.Getenv("PT_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("PT_SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Server.Port)
	}

	// Storage overrides
	if val := os.Getenv("PT_STORAGE_ADAPTER"); val != "" {
		cfg.Storage.Adapter = val
	}
	if val := os.Getenv("PT_STORAGE_LOCAL_BASE_PATH"); val != "" {
		cfg.Storage.Local.BasePath = val
	}
	if val := os.Getenv("PT_STORAGE_S3_BUCKET"); val != "" {
		cfg.Storage.S3.Bucket = val
	}
	if val := os.Getenv("PT_STORAGE_S3_REGION"); val != "" {
		cfg.Storage.S3.Region = val
	}
	if val := os.Getenv("PT_STORAGE_S3_ENDPOINT"); val != "" {
		cfg.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("PT_STORAGE_S3_ACCESS_KEY_ID"); val != "" {
		cfg.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("PT_STORAGE_S3_SECRET_ACCESS_KEY"); val != "" {
		cfg.Storage.S3.SecretAccessKey = val
	}

	// Cache override
	if val := os.Getenv("PT_CACHE_DIR"); val != "" {
		cfg.Cache.Dir = val
	}
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
			MaxUploadMB:  100,
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/pageturn/storage",
			},
		},
		Reader: types.ReaderConfig{
			ProgressDebounceMs:    500,
			RestoreSettleMs:       1000,
			SectionTopThresholdPx: 100,
			PrefetchMarginPx:      200,
			PageHeightEstimatePx:  1100,
			FetchRetries:          3,
		},
		Cache: types.CacheConfig{
			Dir: "/var/lib/pageturn/cache",
		},
	}
}
