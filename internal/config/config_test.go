package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Tracker.AutosaveInterval)
	assert.Equal(t, 30*time.Second, cfg.Tracker.AutoCompleteAfter)
	assert.Equal(t, 80, cfg.Tracker.PassingScore)
	assert.Equal(t, 15, cfg.Catalog["basics"].TotalLessons)
	assert.Equal(t, "Основы Python", cfg.ModuleName("basics"))
	assert.Equal(t, "unknown-module", cfg.ModuleName("unknown-module"))
}

func TestLoadConfigFromFile(t *testing.T) {
	yamlContent := `server:
  port: "9090"
  session_ttl: "5m"
logging:
  level: "debug"
storage:
  driver: "sqlite"
  dir: "/tmp/coursetrack"
tracker:
  autosave_interval: "10s"
  passing_score: 70
catalog:
  algorithms:
    name: "Algorithms"
    total_lessons: 12
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionTTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, 10*time.Second, cfg.Tracker.AutosaveInterval)
	assert.Equal(t, 70, cfg.Tracker.PassingScore)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Tracker.AutoCompleteAfter)
	assert.Equal(t, 12, cfg.Catalog["algorithms"].TotalLessons)
	assert.Equal(t, 15, cfg.Catalog["basics"].TotalLessons)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0644))

	t.Setenv("PORT", "7070")
	t.Setenv("AUTOSAVE_INTERVAL", "1m")
	t.Setenv("API_BASE_URL", "https://example.com/")
	t.Setenv("STORAGE_DRIVER", "MEMORY")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Tracker.AutosaveInterval)
	assert.Equal(t, "https://example.com", cfg.API.BaseURL)
	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
}

func TestLoadRejectsZeroPassingScore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracker:\n  passing_score: 0\n"), 0644))

	_, err := Load(path)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "tracker.passing_score", cfgErr.Field)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = DriverPostgres }, "storage.dsn"},
		{"empty profile", func(c *Config) { c.Storage.Profile = "" }, "storage.profile"},
		{"zero autosave", func(c *Config) { c.Tracker.AutosaveInterval = 0 }, "tracker.autosave_interval"},
		{"score too high", func(c *Config) { c.Tracker.PassingScore = 101 }, "tracker.passing_score"},
		{"zero score", func(c *Config) { c.Tracker.PassingScore = 0 }, "tracker.passing_score"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Server.Port = "6060"

	require.NoError(t, WriteFile(path, cfg, false))
	assert.Error(t, WriteFile(path, cfg, false), "existing file must not be overwritten")
	require.NoError(t, WriteFile(path, cfg, true))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "6060", loaded.Server.Port)
	assert.Equal(t, cfg.Tracker.AutosaveInterval, loaded.Tracker.AutosaveInterval)
}
