// Package config loads the daemon configuration: riftd.yaml merged
// over defaults, then environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration.
type Config struct {
	// Region is the platform region (e.g. "na1"); Routing the regional
	// routing value (e.g. "americas"). Both feed cloud API hostnames.
	Region  string `yaml:"region"`
	Routing string `yaml:"routing"`

	Overlay   OverlayConfig   `yaml:"overlay"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
}

// OverlayConfig controls the local HTTP/WebSocket surface.
type OverlayConfig struct {
	// Listen is the loopback address the gin server binds.
	Listen string `yaml:"listen"`
}

// SchedulerConfig tunes the cloud API dispatcher.
type SchedulerConfig struct {
	SpacingMS        int `yaml:"spacing_ms"`
	WindowCeiling    int `yaml:"window_ceiling"`
	SoftPauseSeconds int `yaml:"soft_pause_seconds"`
}

// Spacing returns the inter-dispatch gap as a duration.
func (c SchedulerConfig) Spacing() time.Duration {
	return time.Duration(c.SpacingMS) * time.Millisecond
}

// SoftPause returns the soft-pause length as a duration.
func (c SchedulerConfig) SoftPause() time.Duration {
	return time.Duration(c.SoftPauseSeconds) * time.Second
}

// DiscoveryConfig tunes client discovery.
type DiscoveryConfig struct {
	// InstallDir pins the client install directory, skipping the
	// process scan. Empty = autodetect.
	InstallDir string `yaml:"install_dir"`
}

// TelemetryConfig points at the in-match data source.
type TelemetryConfig struct {
	BaseURL string `yaml:"base_url"`
}

// KeystoreConfig locates the local persisted state.
type KeystoreConfig struct {
	Path string `yaml:"path"`
}

// Defaults is the baseline configuration merged under the file.
func Defaults() Config {
	return Config{
		Region:  "na1",
		Routing: "americas",
		Overlay: OverlayConfig{Listen: "127.0.0.1:8090"},
		Scheduler: SchedulerConfig{
			SpacingMS:        50,
			WindowCeiling:    100,
			SoftPauseSeconds: 30,
		},
		Telemetry: TelemetryConfig{BaseURL: "https://127.0.0.1:2999/liveclientdata"},
		Keystore:  KeystoreConfig{Path: "riftd.db"},
	}
}

// Load reads path (optional), merges defaults beneath it, applies
// environment overrides, and validates. A missing file is fine: the
// defaults stand alone.
func Load(path string) (*Config, error) {
	cfg := Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	defaults := Defaults()
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return nil, fmt.Errorf("merge defaults: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RIFT_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("RIFT_ROUTING"); v != "" {
		cfg.Routing = v
	}
	if v := os.Getenv("RIFT_OVERLAY_LISTEN"); v != "" {
		cfg.Overlay.Listen = v
	}
	if v := os.Getenv("RIFT_KEYSTORE_PATH"); v != "" {
		cfg.Keystore.Path = v
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Region == "" {
		return fmt.Errorf("config: region must not be empty")
	}
	if c.Routing == "" {
		return fmt.Errorf("config: routing must not be empty")
	}
	if c.Scheduler.SpacingMS < 0 {
		return fmt.Errorf("config: scheduler.spacing_ms must not be negative")
	}
	if c.Scheduler.WindowCeiling <= 0 {
		return fmt.Errorf("config: scheduler.window_ceiling must be positive")
	}
	if c.Overlay.Listen == "" {
		return fmt.Errorf("config: overlay.listen must not be empty")
	}
	return nil
}
