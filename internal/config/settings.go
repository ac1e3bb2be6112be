package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tubestitch/tubestitch/internal/model"
)

// Environment overrides
const (
	ConfigPathEnv  = "TUBESTITCH_CONFIG"
	DBPathEnv      = "TUBESTITCH_DB_PATH"
	DownloadDirEnv = "TUBESTITCH_DOWNLOAD_DIR"
	OutputDirEnv   = "TUBESTITCH_OUTPUT_DIR"
)

// Default values
const (
	DefaultDBPath         = "data/catalog.db"
	DefaultDownloadDir    = "data/downloads"
	DefaultOutputDir      = "outputs"
	DefaultCooldownDays   = 30
	DefaultMaxConcurrency = 2
	DefaultRetryAttempts  = 3
	DefaultItemTimeoutMin = 30

	// DefaultFormat prefers separate best video+audio mp4 streams so the
	// concat inputs share a container
	DefaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]"

	// DefaultFallbackFormat is applied after the primary specifier is
	// rejected as structurally invalid
	DefaultFallbackFormat = "best"
)

// Config holds all application settings.
type Config struct {
	DBPath      string `yaml:"db_path"`
	DownloadDir string `yaml:"download_path"`
	OutputDir   string `yaml:"output_path"`

	// CooldownDays is a pointer so an explicit zero (no cooldown) can be
	// told apart from the key being absent.
	CooldownDays *int `yaml:"cooldown_days"`

	MaxConcurrency     int `yaml:"max_concurrency"`
	RetryAttempts      int `yaml:"retry_attempts"`
	ItemTimeoutMinutes int `yaml:"item_timeout_minutes"`

	Format         string `yaml:"format"`
	FallbackFormat string `yaml:"fallback_format"`

	// Topics maps a topic name to the title keywords that classify an
	// item into it during catalog refresh.
	Topics map[string][]string `yaml:"topics"`

	// Sources lists the playlists the sync command enumerates.
	Sources []SourceConfig `yaml:"sources"`

	Logging LoggingConfig `yaml:"logging"`
}

// SourceConfig describes one playlist to scan during catalog refresh.
type SourceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// LoggingConfig selects log encoder and verbosity.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Environment string `yaml:"environment"`
}

// Load reads YAML configuration from path (or the TUBESTITCH_CONFIG env
// var, or defaults when neither is set) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(ConfigPathEnv)
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.fillDefaults()

	return cfg, nil
}

// KnownTopic reports whether the name is a configured topic or the
// wildcard that selects across all of them.
func (c Config) KnownTopic(name string) bool {
	if name == model.TopicWildcard {
		return true
	}
	_, ok := c.Topics[name]
	return ok
}

// TopicNames returns the configured topic names, sorted for stable
// display and deterministic classification order.
func (c Config) TopicNames() []string {
	names := make([]string, 0, len(c.Topics))
	for name := range c.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ItemTimeout converts the configured per-item minutes to a duration.
func (c Config) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutMinutes) * time.Minute
}

// CooldownWindowDays returns the cooldown window, zero meaning no
// cooldown.
func (c Config) CooldownWindowDays() int {
	if c.CooldownDays == nil {
		return DefaultCooldownDays
	}
	return *c.CooldownDays
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(DBPathEnv); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv(DownloadDirEnv); v != "" {
		c.DownloadDir = v
	}
	if v := os.Getenv(OutputDirEnv); v != "" {
		c.OutputDir = v
	}
}

// fillDefaults backstops zero values after a partial YAML file.
func (c *Config) fillDefaults() {
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath
	}
	if c.DownloadDir == "" {
		c.DownloadDir = DefaultDownloadDir
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.CooldownDays == nil || *c.CooldownDays < 0 {
		v := DefaultCooldownDays
		c.CooldownDays = &v
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.ItemTimeoutMinutes <= 0 {
		c.ItemTimeoutMinutes = DefaultItemTimeoutMin
	}
	if c.Format == "" {
		c.Format = DefaultFormat
	}
	if c.FallbackFormat == "" {
		c.FallbackFormat = DefaultFallbackFormat
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "development"
	}
}

func defaultConfig() Config {
	return Config{
		DBPath:             DefaultDBPath,
		DownloadDir:        DefaultDownloadDir,
		OutputDir:          DefaultOutputDir,
		MaxConcurrency:     DefaultMaxConcurrency,
		RetryAttempts:      DefaultRetryAttempts,
		ItemTimeoutMinutes: DefaultItemTimeoutMin,
		Format:             DefaultFormat,
		FallbackFormat:     DefaultFallbackFormat,
		Topics:             map[string][]string{},
		Logging: LoggingConfig{
			Level:       "info",
			Environment: "development",
		},
	}
}
