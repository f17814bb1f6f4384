package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/biodiversity-meets-data/occmirror/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the full occmirror configuration
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Mirror MirrorConfig `yaml:"mirror"`
	Query  QueryConfig  `yaml:"query"`
	HTTP   HTTPConfig   `yaml:"http"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`      // "json" or "console"
	FilePath   string `yaml:"file_path"`   // Path to log file
	Console    bool   `yaml:"console"`     // Whether to log to console
	MaxSize    int    `yaml:"max_size"`    // Max file size in MB
	MaxBackups int    `yaml:"max_backups"` // Max number of backup files
	MaxAge     int    `yaml:"max_age"`     // Max age in days
	Cleanup    bool   `yaml:"cleanup"`     // Whether to cleanup log file on startup
}

// MirrorConfig controls which GBIF bucket is mirrored and how
type MirrorConfig struct {
	DataPath               string `yaml:"data_path"`
	Region                 string `yaml:"region"`
	Bucket                 string `yaml:"bucket"`         // Derived from region when empty
	DatasetPrefix          string `yaml:"dataset_prefix"` // "occurrence" for GBIF snapshots
	KeepSnapshots          int    `yaml:"keep_snapshots"`
	MaxConcurrentDownloads int    `yaml:"max_concurrent_downloads"`
	DownloadRetries        int    `yaml:"download_retries"`
	VerifyDownloads        bool   `yaml:"verify_downloads"`
	CheckInterval          string `yaml:"check_interval"` // Freshness re-check cadence while serving
}

// QueryConfig selects and tunes the query engine
type QueryConfig struct {
	Engine     string           `yaml:"engine"` // "duckdb" or "clickhouse"
	DuckDB     DuckDBConfig     `yaml:"duckdb"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// DuckDBConfig tunes the embedded DuckDB engine
type DuckDBConfig struct {
	MaxMemoryMB     int `yaml:"max_memory_mb"`
	QueryTimeoutSec int `yaml:"query_timeout_sec"`
}

// ClickHouseConfig points at a ClickHouse server for remote execution
type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// HTTPConfig controls the HTTP control API
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadDefaultConfig returns a default configuration
func LoadDefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			FilePath:   "logs/occmirror.log",
			Console:    true,
			MaxSize:    100, // 100MB
			MaxBackups: 3,
			MaxAge:     7, // 7 days
			Cleanup:    false,
		},
		Mirror: MirrorConfig{
			DataPath:               "./data",
			Region:                 DefaultRegion,
			DatasetPrefix:          DefaultDatasetPrefix,
			KeepSnapshots:          2,
			MaxConcurrentDownloads: 4,
			DownloadRetries:        3,
			VerifyDownloads:        true,
			CheckInterval:          "1h",
		},
		Query: QueryConfig{
			Engine: "duckdb",
			DuckDB: DuckDBConfig{
				MaxMemoryMB:     512,
				QueryTimeoutSec: 300,
			},
			ClickHouse: ClickHouseConfig{
				Addr:     "localhost:9000",
				Database: "default",
				Username: "default",
			},
		},
		HTTP: HTTPConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configuration from a file
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.New(ErrConfigFileReadFailed, "failed to read config file", err).AddContext("path", filename)
	}

	config := LoadDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.New(ErrConfigFileParseFailed, "failed to parse config file", err).AddContext("path", filename)
	}

	if err := config.Validate(); err != nil {
		return nil, errors.New(ErrConfigValidationFailed, "configuration validation failed", err)
	}

	return config, nil
}

// FindConfig walks up from the working directory looking for a config file
// and loads the first one it finds
func FindConfig() (string, *Config, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", nil, errors.New(ErrConfigFileReadFailed, "failed to resolve working directory", err)
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			cfg, err := LoadConfig(path)
			if err != nil {
				return "", nil, err
			}
			return path, cfg, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil, errors.New(ErrConfigFileNotFound,
				fmt.Sprintf("no %s found here or in any parent directory", ConfigFileName), nil)
		}
		dir = parent
	}
}

// SaveConfig saves configuration to a file
func SaveConfig(config *Config, filename string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.New(ErrConfigFileMarshalFailed, "failed to marshal config", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.New(ErrConfigFileWriteFailed, "failed to write config file", err).AddContext("path", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Mirror.Validate(); err != nil {
		return err
	}
	if err := c.Query.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate validates the mirror configuration
func (m *MirrorConfig) Validate() error {
	if m.DataPath == "" {
		return errors.New(ErrDataPathRequired, "data_path is required in mirror configuration", nil)
	}
	if m.Region == "" {
		return errors.New(ErrRegionRequired, "region is required in mirror configuration", nil)
	}
	if m.Bucket == "" {
		m.Bucket = BucketForRegion(m.Region)
	}
	if m.DatasetPrefix == "" {
		m.DatasetPrefix = DefaultDatasetPrefix
	}
	if m.KeepSnapshots < 1 {
		return errors.New(ErrRetentionInvalid, "keep_snapshots must be at least 1", nil)
	}
	if m.MaxConcurrentDownloads < 1 {
		return errors.New(ErrConcurrencyInvalid, "max_concurrent_downloads must be at least 1", nil)
	}
	if m.CheckInterval != "" {
		if _, err := time.ParseDuration(m.CheckInterval); err != nil {
			return errors.New(ErrCheckIntervalInvalid, "check_interval is not a valid duration", err).AddContext("check_interval", m.CheckInterval)
		}
	}
	return nil
}

// Validate validates the query configuration
func (q *QueryConfig) Validate() error {
	switch q.Engine {
	case "", "duckdb", "clickhouse":
	default:
		return errors.New(ErrEngineInvalid, fmt.Sprintf("unsupported query engine %q", q.Engine), nil)
	}
	return nil
}

// GetCheckInterval returns the parsed freshness check interval
func (c *Config) GetCheckInterval() time.Duration {
	d, err := time.ParseDuration(c.Mirror.CheckInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GetHTTPPort returns the fixed HTTP control API port
func (c *Config) GetHTTPPort() int {
	return HTTP_SERVER_PORT
}

// GetHTTPAddress returns the HTTP bind address
func (c *Config) GetHTTPAddress() string {
	return DEFAULT_SERVER_ADDRESS
}

// IsHTTPServerEnabled returns whether the HTTP control API is enabled
func (c *Config) IsHTTPServerEnabled() bool {
	return c.HTTP.Enabled
}
