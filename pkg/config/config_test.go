package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "na1", cfg.Region)
	assert.Equal(t, "americas", cfg.Routing)
	assert.Equal(t, "127.0.0.1:8090", cfg.Overlay.Listen)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.Spacing())
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SoftPause())
	assert.Equal(t, 100, cfg.Scheduler.WindowCeiling)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
region: euw1
routing: europe
scheduler:
  spacing_ms: 100
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "euw1", cfg.Region)
	assert.Equal(t, "europe", cfg.Routing)
	assert.Equal(t, 100, cfg.Scheduler.SpacingMS)
	// Unset fields keep their defaults.
	assert.Equal(t, 100, cfg.Scheduler.WindowCeiling)
	assert.Equal(t, "127.0.0.1:8090", cfg.Overlay.Listen)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: euw1\n"), 0o600))

	t.Setenv("RIFT_REGION", "kr")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kr", cfg.Region)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "riftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("region: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty region", func(c *Config) { c.Region = "" }},
		{"empty routing", func(c *Config) { c.Routing = "" }},
		{"negative spacing", func(c *Config) { c.Scheduler.SpacingMS = -1 }},
		{"zero ceiling", func(c *Config) { c.Scheduler.WindowCeiling = 0 }},
		{"empty listen", func(c *Config) { c.Overlay.Listen = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
