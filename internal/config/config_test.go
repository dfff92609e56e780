package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "./data/lincprint.db", cfg.Database.Path)
	assert.Equal(t, "./data/cards", cfg.Storage.CardsPath)
	assert.Equal(t, 15*time.Minute, cfg.Maintenance.SweepInterval)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
storage:
  cards_path: /srv/cards
maintenance:
  sweep_interval: 5m
logging:
  level: debug
  format: console
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/cards", cfg.Storage.CardsPath)
	assert.Equal(t, 5*time.Minute, cfg.Maintenance.SweepInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, "./data/lincprint.db", cfg.Database.Path)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LINCPRINT_PORT", "7070")
	t.Setenv("LINCPRINT_CARDS_PATH", "/tmp/cards")
	t.Setenv("LINCPRINT_LOG_LEVEL", "warn")

	cfg := LoadFromEnv()
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/tmp/cards", cfg.Storage.CardsPath)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty cards path", func(c *Config) { c.Storage.CardsPath = "" }},
		{"sweep too frequent", func(c *Config) { c.Maintenance.SweepInterval = time.Second }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"no webhook workers", func(c *Config) { c.Webhooks.WorkerCount = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaults()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
