package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is loaded from defaults, then TOML files in order, then JOBSET_TUI_*
// environment variables, then command line flags.
type Config struct {
	Lookout LookoutConfig `toml:"lookout"`
	UI      UIConfig      `toml:"ui"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type LookoutConfig struct {
	URL            string `toml:"url" validate:"required,url"`        // Lookout API, used for listing job sets
	ArmadaURL      string `toml:"armada_url" validate:"required,url"` // Armada API, used for cancel/reprioritize
	RequestTimeout string `toml:"request_timeout" validate:"required"`
}

type UIConfig struct {
	Link                string `toml:"link" validate:"required,url"` // shareable job sets link; its query holds the filters
	AutoRefreshInterval string `toml:"auto_refresh_interval" validate:"required"`
	DebounceWindow      string `toml:"debounce_window" validate:"required"`
}

type StorageConfig struct {
	Path string `toml:"path" validate:"required"`
}

type LoggingConfig struct {
	Level string `toml:"level" validate:"oneof=debug info warn error"`
	File  string `toml:"file" validate:"required"`
}

var errInvalidDuration = errors.New("invalid duration")

func NewDefaultConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Lookout: LookoutConfig{
			URL:            "http://localhost:10000",
			ArmadaURL:      "http://localhost:8080",
			RequestTimeout: "30s",
		},
		UI: UIConfig{
			Link:                "http://localhost:10000/job-sets",
			AutoRefreshInterval: "15s",
			DebounceWindow:      "100ms",
		},
		Storage: StorageConfig{
			Path: filepath.Join(stateDir, "state"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(stateDir, "jobset-tui.log"),
		},
	}
}

func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "jobset-tui")
	}
	return ".jobset-tui"
}

// LoadConfig layers the given files over the defaults (later files win) and then
// applies environment overrides. Empty paths are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	overrides := map[string]*string{
		"JOBSET_TUI_LOOKOUT_URL":     &config.Lookout.URL,
		"JOBSET_TUI_ARMADA_URL":      &config.Lookout.ArmadaURL,
		"JOBSET_TUI_REQUEST_TIMEOUT": &config.Lookout.RequestTimeout,
		"JOBSET_TUI_LINK":            &config.UI.Link,
		"JOBSET_TUI_AUTO_REFRESH":    &config.UI.AutoRefreshInterval,
		"JOBSET_TUI_STORAGE_PATH":    &config.Storage.Path,
		"JOBSET_TUI_LOG_LEVEL":       &config.Logging.Level,
		"JOBSET_TUI_LOG_FILE":        &config.Logging.File,
		"JOBSET_TUI_DEBOUNCE_WINDOW": &config.UI.DebounceWindow,
	}
	for name, field := range overrides {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// Validate checks required fields and that every duration parses and is positive.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"lookout.request_timeout":  c.Lookout.RequestTimeout,
		"ui.auto_refresh_interval": c.UI.AutoRefreshInterval,
		"ui.debounce_window":       c.UI.DebounceWindow,
	}
	for name, raw := range durations {
		if _, err := parsePositiveDuration(raw); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	if c.AutoRefreshInterval() < minSchedulerPeriod {
		return fmt.Errorf("invalid config: ui.auto_refresh_interval: %w %q: must be at least %s",
			errInvalidDuration, c.UI.AutoRefreshInterval, minSchedulerPeriod)
	}
	return nil
}

func (c *Config) RequestTimeout() time.Duration {
	d, _ := parsePositiveDuration(c.Lookout.RequestTimeout)
	return d
}

func (c *Config) AutoRefreshInterval() time.Duration {
	d, _ := parsePositiveDuration(c.UI.AutoRefreshInterval)
	return d
}

func (c *Config) DebounceWindow() time.Duration {
	d, _ := parsePositiveDuration(c.UI.DebounceWindow)
	return d
}

func parsePositiveDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", errInvalidDuration, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w %q: must be positive", errInvalidDuration, raw)
	}
	return d, nil
}
