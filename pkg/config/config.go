// Package config loads exporter settings from a YAML file, the environment
// (optionally seeded from a .env file) and defaults, in that order of
// precedence after command-line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MaxPageSize is the largest page_size the API honours.
const MaxPageSize = 200

// Config is the complete exporter configuration.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Languages []string      `yaml:"languages"`
	Format    string        `yaml:"format"`
	OutputDir string        `yaml:"output_dir"`
	PageSize  int           `yaml:"page_size"`
	Timeout   time.Duration `yaml:"timeout"`
	SQLite    bool          `yaml:"sqlite"`

	MetricsAddr string `yaml:"metrics_addr"`

	Log   LogConfig   `yaml:"log"`
	Redis RedisConfig `yaml:"redis"`
	S3    S3Config    `yaml:"s3"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RedisConfig enables the listing cache and the shared throttle cooldown.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	ListingTTL time.Duration `yaml:"listing_ttl"`
}

// S3Config enables mirroring artifacts to a bucket.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Profile      string `yaml:"profile"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseURL:   "https://www.lingq.com/api/v2",
		Format:    "csv",
		OutputDir: ".",
		PageSize:  50,
		Timeout:   30 * time.Second,
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Redis: RedisConfig{
			ListingTTL: time.Hour,
		},
	}
}

// Load returns defaults overlaid by the YAML file at path (skipped when path
// is empty) and then by the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read configuration file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse configuration file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays every set LINGQ_* variable (and REDIS_URL) onto cfg.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	str("LINGQ_API_KEY", &cfg.APIKey)
	str("LINGQ_BASE_URL", &cfg.BaseURL)
	str("LINGQ_FORMAT", &cfg.Format)
	str("LINGQ_OUTPUT_DIR", &cfg.OutputDir)
	str("LINGQ_METRICS_ADDR", &cfg.MetricsAddr)
	str("LINGQ_LOG_LEVEL", &cfg.Log.Level)
	str("REDIS_URL", &cfg.Redis.URL)
	str("LINGQ_S3_BUCKET", &cfg.S3.Bucket)
	str("LINGQ_S3_PREFIX", &cfg.S3.Prefix)
	str("LINGQ_S3_REGION", &cfg.S3.Region)
	str("LINGQ_S3_PROFILE", &cfg.S3.Profile)
	str("LINGQ_S3_ENDPOINT", &cfg.S3.Endpoint)

	if v := getenv("LINGQ_LANGUAGES"); strings.TrimSpace(v) != "" {
		cfg.Languages = SplitList(v)
	}

	if v := strings.TrimSpace(getenv("LINGQ_PAGE_SIZE")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LINGQ_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = n
	}

	durations := map[string]*time.Duration{
		"LINGQ_TIMEOUT":     &cfg.Timeout,
		"REDIS_LISTING_TTL": &cfg.Redis.ListingTTL,
	}
	for key, dst := range durations {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"LINGQ_SQLITE":        &cfg.SQLite,
		"LINGQ_LOG_PRETTY":    &cfg.Log.Pretty,
		"LINGQ_S3_PATH_STYLE": &cfg.S3.UsePathStyle,
	}
	for key, dst := range bools {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	return nil
}

// Validate checks the configuration before any request is made.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("api key is required (--api-key or LINGQ_API_KEY)")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url %q", c.BaseURL)
	}

	switch c.Format {
	case "json", "csv", "both":
	default:
		return fmt.Errorf("format must be json, csv or both (got %q)", c.Format)
	}

	if c.PageSize < 1 || c.PageSize > MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d (got %d)", MaxPageSize, c.PageSize)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %s)", c.Timeout)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output dir must not be empty")
	}

	if c.Redis.ListingTTL < 0 {
		return fmt.Errorf("redis listing ttl must not be negative")
	}

	return nil
}

// SplitList splits a comma or whitespace separated list, dropping blanks.
func SplitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
