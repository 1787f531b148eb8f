// Package config loads the crawler's static properties file and CLI
// run options into a single, validated configuration used to wire the
// rest of the pipeline.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// TrackerConfig describes how to reach the relational tracker store (C1).
type TrackerConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite3" (default)
	DSN    string `mapstructure:"dsn"`    // file path for sqlite3
}

// LockConfig describes the single-instance guard (C5).
type LockConfig struct {
	Path string `mapstructure:"path"`
}

// SMTPConfig describes the outgoing mail relay used for the optional
// run-report email (-r).
type SMTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	From string `mapstructure:"from"`
}

// ToolsConfig names the external subprocess binaries invoked by the
// post-ingest driver (C9). Each tool is launched with os/exec and its
// exit code is interpreted per §6's subprocess contract; the core
// never parses the payloads these tools work on.
type ToolsConfig struct {
	SpecimenValidatorPath   string `mapstructure:"specimen_validator_path"`
	ExperimentValidatorPath string `mapstructure:"experiment_validator_path"`
	SerializerPath          string `mapstructure:"serializer_path"`
	IntegrityCheckerPath    string `mapstructure:"integrity_checker_path"`
	ContextBuilderPath      string `mapstructure:"context_builder_path"`
	OverviewBuilderPath     string `mapstructure:"overview_builder_path"`
	OverviewDatabaseName    string `mapstructure:"overview_database_name"`
}

// TimeoutsConfig holds the handful of durations the spec pins down
// explicitly (§4.1, §4.6, §5).
type TimeoutsConfig struct {
	ConnectTimeoutMinutes   int `mapstructure:"connect_timeout_minutes"`    // default 5, per §4.7
	TrackerRetryBaseMinutes int `mapstructure:"tracker_retry_base_minutes"` // default 5, per §4.1
}

// LogConfig controls the rotating activity log (ambient logging
// concern, not part of spec.md's CLI surface). File defaults to
// "activity.log", a path relative to the working directory; an empty
// File logs to the console only.
type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size_mb"`
	MaxAge     int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// NamingConfig carries the two filename-convention regular expressions
// the tokenizer (C2) compiles once at startup. Both must capture the
// group counts tokenizer.New checks for.
type NamingConfig struct {
	ZipPattern string `mapstructure:"zip_pattern"`
	XmlPattern string `mapstructure:"xml_pattern"`
}

// Config is the parsed content of the crawler properties file (-c).
type Config struct {
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Lock     LockConfig     `mapstructure:"lock"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Naming   NamingConfig   `mapstructure:"naming"`
	Log      LogConfig      `mapstructure:"log"`
}

// DefaultConfig returns a Config with the spec's stated defaults filled in.
func DefaultConfig() *Config {
	return &Config{
		Tracker: TrackerConfig{
			Driver: "sqlite3",
			DSN:    "phenocrawler.db",
		},
		Lock: LockConfig{
			Path: "phenodcc.lock",
		},
		Timeouts: TimeoutsConfig{
			ConnectTimeoutMinutes:   5,
			TrackerRetryBaseMinutes: 5,
		},
		Naming: NamingConfig{
			ZipPattern: `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)\.zip$`,
			XmlPattern: `^([A-Z]+)_(\d{4})(\d{2})(\d{2})_(\d+)_(\w+)\.xml$`,
		},
		Log: LogConfig{
			File:       "activity.log",
			Level:      "info",
			MaxSize:    5,
			MaxAge:     14,
			MaxBackups: 5,
		},
	}
}

// Load reads the crawler properties file at path using Java
// .properties syntax (key=value, dotted keys map to nested structs)
// via viper, the same library the teacher uses for its YAML
// configuration — only the format differs here to match §6's
// "crawler properties file" surface.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read crawler properties file %q: %w", path, err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse crawler properties file %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the handful of structural requirements the spec
// places on configuration: a usable tracker driver and sane timeouts.
func (c *Config) Validate() error {
	driver := strings.ToLower(strings.TrimSpace(c.Tracker.Driver))
	if driver != "sqlite3" {
		return fmt.Errorf("unsupported tracker.driver %q (only sqlite3 is supported)", c.Tracker.Driver)
	}
	if c.Tracker.DSN == "" {
		return fmt.Errorf("tracker.dsn must not be empty")
	}
	if c.Lock.Path == "" {
		return fmt.Errorf("lock.path must not be empty")
	}
	if c.Timeouts.ConnectTimeoutMinutes <= 0 {
		c.Timeouts.ConnectTimeoutMinutes = 5
	}
	if c.Timeouts.TrackerRetryBaseMinutes <= 0 {
		c.Timeouts.TrackerRetryBaseMinutes = 5
	}
	if c.Naming.ZipPattern == "" || c.Naming.XmlPattern == "" {
		return fmt.Errorf("naming.zip_pattern and naming.xml_pattern must not be empty")
	}
	return nil
}

// readableFile validates that an optional properties-file path, if
// given, actually points at a readable regular file. Used for -s/-v/-x/-o.
func readableFile(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot read %q: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", path)
	}
	return nil
}
