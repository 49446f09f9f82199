// Package config loads symindex settings. Values are layered: built-in
// defaults, then an optional YAML file, then SYMINDEX_* environment
// variables. The CLI applies its flags last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/dshills/symindex/internal/fetcher"
	"github.com/dshills/symindex/internal/indexer"
	"github.com/dshills/symindex/internal/logging"
	"github.com/dshills/symindex/internal/repomd"
)

const (
	// DefaultDir holds the database and metadata cache under the home directory
	DefaultDir = ".symindex"
	// ConfigFile is the file name looked up in DefaultDir
	ConfigFile = "config.yaml"
	// EnvConfigPath overrides the config file location
	EnvConfigPath = "SYMINDEX_CONFIG"
)

// Config is the complete symindex configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Log      LogConfig      `yaml:"log"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Index    IndexConfig    `yaml:"index"`
}

// DatabaseConfig locates the index database
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig locates cached metadata and spool files
type CacheConfig struct {
	Dir         string   `yaml:"dir"`
	TempDir     string   `yaml:"temp_dir"`
	MaxInMemory ByteSize `yaml:"max_in_memory"` // per-package in-memory ELF budget
}

// LogConfig configures the zerolog logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// FetchConfig configures package and metadata downloads
type FetchConfig struct {
	Workers               int           `yaml:"workers"`
	Bandwidth             ByteSize      `yaml:"bandwidth"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	StallTimeout          time.Duration `yaml:"stall_timeout"`
	MetadataTimeout       time.Duration `yaml:"metadata_timeout"`
	UserAgent             string        `yaml:"user_agent"`
	Retry                 RetryConfig   `yaml:"retry"`
}

// RetryConfig configures the download retry policy
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

// IndexConfig configures indexing runs
type IndexConfig struct {
	ExtractWorkers  int           `yaml:"extract_workers"`
	QueueDepth      int           `yaml:"queue_depth"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	Arches          []string      `yaml:"arches"`
	Requires        []string      `yaml:"requires"`
}

// Default returns the built-in configuration rooted at the user's home
// directory
func Default() *Config {
	base := baseDir()
	fc := fetcher.DefaultConfig()
	lc := logging.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{Path: filepath.Join(base, "index.db")},
		Cache: CacheConfig{
			Dir:         filepath.Join(base, "cache"),
			MaxInMemory: 64 * humanize.MiByte,
		},
		Log: LogConfig{Level: lc.Level, Pretty: lc.Pretty},
		Fetch: FetchConfig{
			Workers:               fc.Workers,
			ResponseHeaderTimeout: fc.ResponseHeaderTimeout,
			StallTimeout:          fc.StallTimeout,
			MetadataTimeout:       fc.MetadataTimeout,
			UserAgent:             fc.UserAgent,
			Retry: RetryConfig{
				MaxRetries: fc.Retry.MaxRetries,
				BaseDelay:  fc.Retry.BaseDelay,
				MaxDelay:   fc.Retry.MaxDelay,
				Multiplier: fc.Retry.Multiplier,
			},
		},
		Index: IndexConfig{MetricsInterval: 30 * time.Second},
	}
}

// baseDir falls back to a temp directory where no home directory exists
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "symindex")
	}
	return filepath.Join(home, DefaultDir)
}

// DefaultPath returns the config file location: SYMINDEX_CONFIG when set,
// otherwise ~/.symindex/config.yaml
func DefaultPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return filepath.Join(baseDir(), ConfigFile)
}

// Load returns the defaults overlaid with the YAML file at path and then the
// environment. A missing file is not an error; an empty path uses DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default()

	//nolint:gosec // G304: path is chosen by the operator
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings no run could use
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Cache.Dir == "" {
		return errors.New("cache.dir is required")
	}
	if c.Fetch.Workers < 0 || c.Index.ExtractWorkers < 0 || c.Index.QueueDepth < 0 {
		return errors.New("worker counts and queue depth must not be negative")
	}
	if c.Fetch.Retry.MaxRetries < 1 {
		return fmt.Errorf("fetch.retry.max_retries must be at least 1, got %d", c.Fetch.Retry.MaxRetries)
	}
	return nil
}

// FetcherConfig converts the fetch section
func (c *Config) FetcherConfig() fetcher.Config {
	return fetcher.Config{
		Workers:               c.Fetch.Workers,
		BandwidthLimit:        int64(c.Fetch.Bandwidth),
		ResponseHeaderTimeout: c.Fetch.ResponseHeaderTimeout,
		StallTimeout:          c.Fetch.StallTimeout,
		MetadataTimeout:       c.Fetch.MetadataTimeout,
		UserAgent:             c.Fetch.UserAgent,
		Retry: fetcher.RetryConfig{
			MaxRetries: c.Fetch.Retry.MaxRetries,
			BaseDelay:  c.Fetch.Retry.BaseDelay,
			MaxDelay:   c.Fetch.Retry.MaxDelay,
			Multiplier: c.Fetch.Retry.Multiplier,
		},
	}
}

// IndexerConfig converts the cache section
func (c *Config) IndexerConfig() indexer.Config {
	return indexer.Config{
		CacheDir:    c.Cache.Dir,
		TempDir:     c.Cache.TempDir,
		MaxInMemory: int64(c.Cache.MaxInMemory),
	}
}

// IndexOptions converts the index section
func (c *Config) IndexOptions() indexer.Options {
	return indexer.Options{
		Filter:          repomd.Filter{Arches: c.Index.Arches, Requires: c.Index.Requires},
		ExtractWorkers:  c.Index.ExtractWorkers,
		QueueDepth:      c.Index.QueueDepth,
		MetricsInterval: c.Index.MetricsInterval,
	}
}

// LoggingConfig converts the log section; output goes to stderr
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Pretty = c.Log.Pretty
	return lc
}

// ByteSize is a byte count written as "64MiB", "10 MB" or a plain number
type ByteSize int64

// UnmarshalYAML accepts humanized sizes
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return b.Set(s)
}

// MarshalYAML writes the humanized size
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// Set parses s; it also makes ByteSize usable as a command-line flag
func (b *ByteSize) Set(s string) error {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string {
	if b == 0 {
		return "0"
	}
	return humanize.IBytes(uint64(b))
}

// Type names the flag value type
func (b *ByteSize) Type() string {
	return "size"
}

// envVar binds one SYMINDEX_* variable to a setter
type envVar struct {
	name string
	set  func(string) error
}

// ApplyEnv overlays environment variables read through lookup. Slices are
// comma-separated.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, v := range c.envVars() {
		val, ok := lookup(v.name)
		if !ok || val == "" {
			continue
		}
		if err := v.set(val); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	return nil
}

func (c *Config) envVars() []envVar {
	return []envVar{
		{"SYMINDEX_DB_PATH", setString(&c.Database.Path)},
		{"SYMINDEX_CACHE_DIR", setString(&c.Cache.Dir)},
		{"SYMINDEX_TEMP_DIR", setString(&c.Cache.TempDir)},
		{"SYMINDEX_MAX_IN_MEMORY", c.Cache.MaxInMemory.Set},
		{"SYMINDEX_LOG_LEVEL", setString(&c.Log.Level)},
		{"SYMINDEX_LOG_PRETTY", setBool(&c.Log.Pretty)},
		{"SYMINDEX_FETCH_WORKERS", setInt(&c.Fetch.Workers)},
		{"SYMINDEX_BANDWIDTH", c.Fetch.Bandwidth.Set},
		{"SYMINDEX_RESPONSE_HEADER_TIMEOUT", setDuration(&c.Fetch.ResponseHeaderTimeout)},
		{"SYMINDEX_STALL_TIMEOUT", setDuration(&c.Fetch.StallTimeout)},
		{"SYMINDEX_METADATA_TIMEOUT", setDuration(&c.Fetch.MetadataTimeout)},
		{"SYMINDEX_USER_AGENT", setString(&c.Fetch.UserAgent)},
		{"SYMINDEX_MAX_RETRIES", setInt(&c.Fetch.Retry.MaxRetries)},
		{"SYMINDEX_EXTRACT_WORKERS", setInt(&c.Index.ExtractWorkers)},
		{"SYMINDEX_QUEUE_DEPTH", setInt(&c.Index.QueueDepth)},
		{"SYMINDEX_METRICS_INTERVAL", setDuration(&c.Index.MetricsInterval)},
		{"SYMINDEX_ARCHES", setList(&c.Index.Arches)},
		{"SYMINDEX_REQUIRES", setList(&c.Index.Requires)},
	}
}

func setString(dst *string) func(string) error {
	return func(s string) error {
		*dst = s
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		*dst = v
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		*dst = v
		return nil
	}
}

func setDuration(dst *time.Duration) func(string) error {
	return func(s string) error {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		*dst = v
		return nil
	}
}

func setList(dst *[]string) func(string) error {
	return func(s string) error {
		var out []string
		for _, v := range strings.Split(s, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		*dst = out
		return nil
	}
}
