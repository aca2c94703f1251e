// ABOUTME: Configuration loading and parsing for ciri
// ABOUTME: Supports TOML or YAML files with environment variable expansion and duration parsing

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/ciri/internal/dedupe"
	"github.com/2389/ciri/internal/gallery"
	"github.com/2389/ciri/internal/saver"
	"github.com/2389/ciri/internal/store"
)

// Config represents the complete ciri configuration
type Config struct {
	Matrix  MatrixConfig  `toml:"matrix" yaml:"matrix"`
	Gallery GalleryConfig `toml:"gallery" yaml:"gallery"`
	Bot     BotConfig     `toml:"bot" yaml:"bot"`
	Cache   CacheConfig   `toml:"cache" yaml:"cache"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`
}

// MatrixConfig holds the homeserver login. Either username and password or
// user_id and access_token must be set.
type MatrixConfig struct {
	Homeserver  string `toml:"homeserver" yaml:"homeserver"`
	Username    string `toml:"username" yaml:"username"`
	Password    string `toml:"password" yaml:"password"`
	UserID      string `toml:"user_id" yaml:"user_id"`
	AccessToken string `toml:"access_token" yaml:"access_token"`
	RecoveryKey string `toml:"recovery_key" yaml:"recovery_key"` // enables E2EE when set
	AutoJoin    bool   `toml:"auto_join" yaml:"auto_join"`
	DisplayName string `toml:"display_name" yaml:"display_name"` // per-room name set after joining
}

// GalleryConfig holds the image API settings
type GalleryConfig struct {
	BaseURL    string        `toml:"base_url" yaml:"base_url"`
	ImageHost  string        `toml:"image_host" yaml:"image_host"`
	VideoHost  string        `toml:"video_host" yaml:"video_host"`
	Flags      int           `toml:"flags" yaml:"flags"`
	Promoted   bool          `toml:"promoted" yaml:"promoted"`
	CheckAlive bool          `toml:"check_alive" yaml:"check_alive"`
	Timeout    time.Duration `toml:"-" yaml:"-"`

	TimeoutRaw string `toml:"timeout" yaml:"timeout"`
}

// BotConfig holds command handling settings
type BotConfig struct {
	CommandPrefix   string              `toml:"command_prefix" yaml:"command_prefix"`
	AllowedRooms    []string            `toml:"allowed_rooms" yaml:"allowed_rooms"`
	TypingIndicator bool                `toml:"typing_indicator" yaml:"typing_indicator"`
	Aliases         map[string][]string `toml:"aliases" yaml:"aliases"`
}

// CacheConfig holds the dedupe cache and its persistence settings
type CacheConfig struct {
	Backend         string        `toml:"backend" yaml:"backend"`
	Path            string        `toml:"path" yaml:"path"`
	Capacity        int           `toml:"capacity" yaml:"capacity"`
	SaveDebounce    time.Duration `toml:"-" yaml:"-"`
	ShutdownTimeout time.Duration `toml:"-" yaml:"-"`

	// Raw string values for unmarshaling
	SaveDebounceRaw    string `toml:"save_debounce" yaml:"save_debounce"`
	ShutdownTimeoutRaw string `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" yaml:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns a configuration with every optional value filled in.
// Matrix credentials are left empty.
func Default() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Homeserver: "https://matrix.org",
			AutoJoin:   true,
		},
		Gallery: GalleryConfig{
			BaseURL:    gallery.DefaultBaseURL,
			ImageHost:  gallery.DefaultImageHost,
			VideoHost:  gallery.DefaultVideoHost,
			Flags:      gallery.DefaultFlags,
			Promoted:   true,
			CheckAlive: true,
			Timeout:    gallery.DefaultTimeout,
			TimeoutRaw: gallery.DefaultTimeout.String(),
		},
		Bot: BotConfig{
			CommandPrefix:   ".",
			TypingIndicator: true,
		},
		Cache: CacheConfig{
			Backend:            store.BackendJSON,
			Capacity:           dedupe.DefaultCapacity,
			SaveDebounce:       saver.DefaultDebounce,
			ShutdownTimeout:    saver.DefaultShutdownTimeout,
			SaveDebounceRaw:    saver.DefaultDebounce.String(),
			ShutdownTimeoutRaw: saver.DefaultShutdownTimeout.String(),
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .yaml or .yml are decoded as YAML, everything else as TOML.
// Environment variables in the format ${VAR_NAME} are expanded and values
// missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as TOML with owner-only permissions, since it
// may hold credentials.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// CachePath returns the configured cache location, or the backend's default
// file inside dataDir.
func (c *Config) CachePath(dataDir string) string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	if c.Cache.Backend == store.BackendSQLite {
		return filepath.Join(dataDir, "cache.db")
	}
	return filepath.Join(dataDir, "cache.json")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if err := checkHTTPURL("matrix.homeserver", c.Matrix.Homeserver); err != nil {
		return err
	}

	hasPassword := c.Matrix.Username != "" && c.Matrix.Password != ""
	hasToken := c.Matrix.UserID != "" && c.Matrix.AccessToken != ""
	if !hasPassword && !hasToken {
		return fmt.Errorf("matrix credentials are required (username and password, or user_id and access_token)")
	}

	if err := checkHTTPURL("gallery.base_url", c.Gallery.BaseURL); err != nil {
		return err
	}
	if c.Bot.CommandPrefix == "" {
		return fmt.Errorf("bot.command_prefix must not be empty")
	}

	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be at least 1, got %d", c.Cache.Capacity)
	}
	switch c.Cache.Backend {
	case store.BackendJSON, store.BackendSQLite:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", store.BackendJSON, store.BackendSQLite, c.Cache.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Gallery.TimeoutRaw != "" {
		cfg.Gallery.Timeout, err = time.ParseDuration(cfg.Gallery.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing gallery.timeout %q: %w", cfg.Gallery.TimeoutRaw, err)
		}
	}

	if cfg.Cache.SaveDebounceRaw != "" {
		cfg.Cache.SaveDebounce, err = time.ParseDuration(cfg.Cache.SaveDebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.save_debounce %q: %w", cfg.Cache.SaveDebounceRaw, err)
		}
	}

	if cfg.Cache.ShutdownTimeoutRaw != "" {
		cfg.Cache.ShutdownTimeout, err = time.ParseDuration(cfg.Cache.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.shutdown_timeout %q: %w", cfg.Cache.ShutdownTimeoutRaw, err)
		}
	}

	return nil
}
