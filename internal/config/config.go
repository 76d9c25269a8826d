// Package config loads the process defaults from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/desertwitch/filebrowser/internal/ftpclient"
	"github.com/desertwitch/filebrowser/internal/logging"
	"github.com/desertwitch/filebrowser/internal/vfs"
	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the prefix of all environment variables, e.g. FILEBROWSER_CACHE_TTL.
const Prefix = "FILEBROWSER"

// Config holds all process configuration.
// The sections are embedded, so all of their variables share the prefix.
type Config struct {
	CacheConfig
	LogConfig
	FTPConfig

	// WebAddr is the address of the diagnostics dashboard, disabled when empty.
	WebAddr string `envconfig:"WEB_ADDR"`

	// StreamingThreshold is the size over which mounted files are streamed.
	StreamingThreshold string `envconfig:"STREAMING_THRESHOLD" default:"10MiB"`
}

// CacheConfig holds the cache and archive configuration.
type CacheConfig struct {
	TTL            time.Duration `envconfig:"CACHE_TTL" default:"3m"`
	TempDir        string        `envconfig:"TEMP_DIR"`
	ContentCeiling string        `envconfig:"CONTENT_CEILING" default:"30MiB"`
	IndexSize      uint64        `envconfig:"INDEX_CACHE_SIZE" default:"128"`
	IndexTTL       time.Duration `envconfig:"INDEX_CACHE_TTL" default:"60s"`
	SniffArchives  bool          `envconfig:"SNIFF_ARCHIVES" default:"false"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Verbose    bool   `envconfig:"VERBOSE" default:"false"`
	BufferSize int    `envconfig:"LOG_BUFFER" default:"500"`
	File       string `envconfig:"LOG_FILE"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE" default:"10"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE" default:"28"`
}

// FTPConfig holds the defaults for FTP locations without credentials.
type FTPConfig struct {
	Username string        `envconfig:"FTP_USER"`
	Password string        `envconfig:"FTP_PASSWORD"`
	Timeout  time.Duration `envconfig:"FTP_TIMEOUT" default:"30s"`
}

// Load loads the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if _, err := cfg.contentCeiling(); err != nil {
		return nil, err
	}
	if _, err := cfg.streamingThreshold(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// VFSOptions returns the [vfs.Options] described by the configuration.
func (c *Config) VFSOptions() (*vfs.Options, error) {
	ceiling, err := c.contentCeiling()
	if err != nil {
		return nil, err
	}

	opts := vfs.DefaultOptions()
	opts.CacheTTL = c.CacheConfig.TTL
	opts.TempDir = c.CacheConfig.TempDir
	opts.IndexCacheSize = c.CacheConfig.IndexSize
	opts.IndexCacheTTL = c.CacheConfig.IndexTTL
	opts.ContentCeiling.Store(ceiling)

	if c.CacheConfig.SniffArchives {
		opts.ArchivePredicate = vfs.SniffingPredicate
	}

	return opts, nil
}

// StreamingThresholdBytes returns the parsed streaming threshold.
func (c *Config) StreamingThresholdBytes() int64 {
	v, _ := c.streamingThreshold()

	return v
}

// FTPDefaults returns the [ftpclient.Config] used for FTP locations.
func (c *Config) FTPDefaults() ftpclient.Config {
	return ftpclient.Config{
		Username: c.FTPConfig.Username,
		Password: c.FTPConfig.Password,
		Timeout:  c.FTPConfig.Timeout,
	}
}

// Rotation returns the [logging.RotationOptions] of the log file.
func (c *Config) Rotation() logging.RotationOptions {
	return logging.RotationOptions{
		File:       c.LogConfig.File,
		MaxSizeMB:  c.LogConfig.MaxSizeMB,
		MaxBackups: c.LogConfig.MaxBackups,
		MaxAgeDays: c.LogConfig.MaxAgeDays,
	}
}

func (c *Config) contentCeiling() (int64, error) {
	return parseSize("content ceiling", c.CacheConfig.ContentCeiling)
}

func (c *Config) streamingThreshold() (int64, error) {
	return parseSize("streaming threshold", c.StreamingThreshold)
}

// ParseSize parses a human-readable size such as "30MiB" or "1GB".
func ParseSize(s string) (int64, error) {
	return parseSize("size", s)
}

func parseSize(desc, s string) (int64, error) {
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", desc, s, err)
	}
	if v > 1<<62 {
		return 0, fmt.Errorf("invalid %s %q: too large", desc, s)
	}

	return int64(v), nil //nolint:gosec
}
