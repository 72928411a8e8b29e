package types

// Config represents the overall application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Reader  ReaderConfig  `yaml:"reader" json:"reader"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds
	MaxUploadMB  int    `yaml:"max_upload_mb" json:"max_upload_mb"`
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string           `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts `yaml:"local" json:"local"`
	S3      S3StorageOpts    `yaml:"s3" json:"s3"`
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// ReaderConfig holds the tuning knobs of the reading engine
type ReaderConfig struct {
	// ProgressDebounceMs is the trailing debounce window for progress
	// writes during continuous scrolling.
	ProgressDebounceMs int `yaml:"progress_debounce_ms" json:"progress_debounce_ms"`

	// RestoreSettleMs is how long scroll-driven progress writes stay
	// suppressed after a programmatic restore scroll. Must outlast a
	// smooth scroll animation.
	RestoreSettleMs int `yaml:"restore_settle_ms" json:"restore_settle_ms"`

	// SectionTopThresholdPx is the distance from the viewport top within
	// which a section counts as current.
	SectionTopThresholdPx float64 `yaml:"section_top_threshold_px" json:"section_top_threshold_px"`

	// PrefetchMarginPx widens the raster observation window so pages
	// start rendering before they scroll into view.
	PrefetchMarginPx float64 `yaml:"prefetch_margin_px" json:"prefetch_margin_px"`

	// PageHeightEstimatePx reserves scroll space for unrendered pages.
	PageHeightEstimatePx float64 `yaml:"page_height_estimate_px" json:"page_height_estimate_px"`

	// FetchRetries bounds book file download attempts.
	FetchRetries int `yaml:"fetch_retries" json:"fetch_retries"`
}

// CacheConfig configures the local progress cache
type CacheConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}
