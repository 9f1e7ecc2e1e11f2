package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Vendor  VendorConfig  `mapstructure:"vendor"`
	Browser BrowserConfig `mapstructure:"browser"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Journal JournalConfig `mapstructure:"journal"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// VendorConfig describes the vendor download page and the artifact it serves
type VendorConfig struct {
	PageURL                 string   `mapstructure:"page_url"`
	FilePrefix              string   `mapstructure:"file_prefix"`
	ArchiveExt              string   `mapstructure:"archive_ext"`
	BinaryContentTypes      []string `mapstructure:"binary_content_types"`
	DownloadControlSelector string   `mapstructure:"download_control_selector"`
	ChecksumControlSelector string   `mapstructure:"checksum_control_selector"`
}

// BrowserConfig contains browser session settings
type BrowserConfig struct {
	Headless         string `mapstructure:"headless"`
	SettleTimeout    string `mapstructure:"settle_timeout"`
	CaptureWindow    string `mapstructure:"capture_window"`
	DialogTimeout    string `mapstructure:"dialog_timeout"`
	ClipboardTimeout string `mapstructure:"clipboard_timeout"`
}

// FetchConfig contains download settings
type FetchConfig struct {
	RequestTimeout string `mapstructure:"request_timeout"`
	BufferSizeKB   int    `mapstructure:"buffer_size_kb"`
}

// CatalogConfig contains version catalog settings
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// JournalConfig contains transfer journal settings
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("vendor.archive_ext", ".tar.gz")
	viper.SetDefault("vendor.binary_content_types", []string{
		"application/octet-stream",
		"application/x-tar",
		"application/gzip",
		"application/zip",
	})
	viper.SetDefault("vendor.download_control_selector", "[data-version][data-action=download], a.download[data-version]")
	viper.SetDefault("vendor.checksum_control_selector", "[data-version][data-action=checksum], a.checksum[data-version]")
	viper.SetDefault("browser.headless", "true")
	viper.SetDefault("browser.settle_timeout", "10s")
	viper.SetDefault("browser.capture_window", "8s")
	viper.SetDefault("browser.dialog_timeout", "5s")
	viper.SetDefault("browser.clipboard_timeout", "2s")
	viper.SetDefault("fetch.request_timeout", "30s")
	viper.SetDefault("fetch.buffer_size_kb", 128)
	viper.SetDefault("catalog.path", "versions.json")
	viper.SetDefault("journal.path", "transfers.db")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Vendor.PageURL == "" {
		return fmt.Errorf("vendor.page_url is required")
	}
	if c.Vendor.FilePrefix == "" {
		return fmt.Errorf("vendor.file_prefix is required")
	}
	if !strings.HasPrefix(c.Vendor.ArchiveExt, ".") {
		return fmt.Errorf("vendor.archive_ext must start with a dot")
	}
	if len(c.Vendor.BinaryContentTypes) == 0 {
		return fmt.Errorf("vendor.binary_content_types must not be empty")
	}

	for name, value := range map[string]string{
		"browser.settle_timeout":    c.Browser.SettleTimeout,
		"browser.capture_window":    c.Browser.CaptureWindow,
		"browser.dialog_timeout":    c.Browser.DialogTimeout,
		"browser.clipboard_timeout": c.Browser.ClipboardTimeout,
		"fetch.request_timeout":     c.Fetch.RequestTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if c.Fetch.BufferSizeKB <= 0 {
		return fmt.Errorf("fetch.buffer_size_kb must be positive")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetHeadless returns whether the browser should run headless
func (c *BrowserConfig) GetHeadless() bool {
	return c.Headless != "false"
}

// GetSettleTimeout returns the page settle timeout as time.Duration
func (c *BrowserConfig) GetSettleTimeout() time.Duration {
	d, _ := time.ParseDuration(c.SettleTimeout)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetCaptureWindow returns the redirect capture window as time.Duration
func (c *BrowserConfig) GetCaptureWindow() time.Duration {
	d, _ := time.ParseDuration(c.CaptureWindow)
	if d == 0 {
		return 8 * time.Second
	}
	return d
}

// GetDialogTimeout returns the dialog wait timeout as time.Duration
func (c *BrowserConfig) GetDialogTimeout() time.Duration {
	d, _ := time.ParseDuration(c.DialogTimeout)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetClipboardTimeout returns the clipboard wait timeout as time.Duration
func (c *BrowserConfig) GetClipboardTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ClipboardTimeout)
	if d == 0 {
		return 2 * time.Second
	}
	return d
}

// GetRequestTimeout returns the HTTP request timeout as time.Duration
func (c *FetchConfig) GetRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.RequestTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetBufferSize returns the copy buffer size in bytes
func (c *FetchConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return 128 * 1024
	}
	return c.BufferSizeKB * 1024
}
