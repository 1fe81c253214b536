package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviddao/levelsim/pkg/clock"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "levelsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFromFileKeepsUnsetDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
trace:
  enabled: true
  db: /tmp/trace.db
run:
  until: 12
  walkers: 5
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Trace.Enabled)
	require.Equal(t, "/tmp/trace.db", cfg.Trace.DB)
	require.Equal(t, clock.Time(12), cfg.Run.Until)
	require.Equal(t, 5, cfg.Run.Walkers)
	require.Equal(t, Default().Run.Stamina, cfg.Run.Stamina)
	require.Equal(t, Default().Run.Width, cfg.Run.Width)
}

func TestLoadFromFileRejectsInvalidYAML(t *testing.T) {
	_, err := LoadFromFile(writeConfig(t, "run: [unterminated"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEVELSIM_LOG_LEVEL", "warn")
	t.Setenv("LEVELSIM_DB", "/var/lib/levelsim.db")
	t.Setenv("LEVELSIM_UNTIL", "99")

	cfg, err := Load(writeConfig(t, "run:\n  until: 4\n"))
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.True(t, cfg.Trace.Enabled)
	require.Equal(t, "/var/lib/levelsim.db", cfg.Trace.DB)
	require.Equal(t, clock.Time(99), cfg.Run.Until)
}

func TestEnvOverrideInvalidUntil(t *testing.T) {
	t.Setenv("LEVELSIM_UNTIL", "soon")
	_, err := Load("")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown log level", func(c *Config) { c.Logging.Level = "chatty" }},
		{"trace without db", func(c *Config) { c.Trace.Enabled = true; c.Trace.DB = "" }},
		{"zero until", func(c *Config) { c.Run.Until = 0 }},
		{"infinite until", func(c *Config) { c.Run.Until = clock.Infinity }},
		{"negative walkers", func(c *Config) { c.Run.Walkers = -1 }},
		{"no stamina", func(c *Config) { c.Run.Stamina = 0 }},
		{"negative spawn period", func(c *Config) { c.Run.SpawnEvery = -2 }},
		{"no width", func(c *Config) { c.Run.Width = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Run.Walkers = 7
	data, err := cfg.Marshal()
	require.NoError(t, err)

	loaded, err := LoadFromFile(writeConfig(t, string(data)))
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}
