package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Module describes a course module known to the site
type Module struct {
	Name         string `yaml:"name"`
	TotalLessons int    `yaml:"total_lessons"`
}

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server struct {
		Port            string        `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SessionTTL      time.Duration `yaml:"session_ttl"`
	} `yaml:"server"`

	// Logging configuration
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Storage backend holding the per-profile key/value documents
	Storage struct {
		Driver     string `yaml:"driver"`
		Dir        string `yaml:"dir"`
		DSN        string `yaml:"dsn"`
		Profile    string `yaml:"profile"`
		QuotaBytes int64  `yaml:"quota_bytes"`
	} `yaml:"storage"`

	// Progress tracker behavior
	Tracker struct {
		AutosaveInterval  time.Duration `yaml:"autosave_interval"`
		AutoCompleteAfter time.Duration `yaml:"auto_complete_after"`
		PassingScore      int           `yaml:"passing_score"`
		NoticeTTL         time.Duration `yaml:"notice_ttl"`
		VideoSaveCooldown time.Duration `yaml:"video_save_cooldown"`
		RulesFile         string        `yaml:"rules_file"`
	} `yaml:"tracker"`

	// Catalog maps module ids to display names and lesson counts
	Catalog map[string]Module `yaml:"catalog"`

	// External API used by the request helper
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
		Rate    float64       `yaml:"rate"`
		Burst   int           `yaml:"burst"`
	} `yaml:"api"`

	// Redis relay for outbound events, disabled when Addr is empty
	Redis struct {
		Addr    string `yaml:"addr"`
		Channel string `yaml:"channel"`
	} `yaml:"redis"`
}

// Storage drivers understood by the storage package
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverMemory   = "memory"
)

// DefaultCatalog returns the modules shipped with the site
func DefaultCatalog() map[string]Module {
	return map[string]Module{
		"basics":       {Name: "Основы Python", TotalLessons: 15},
		"functions":    {Name: "Функции и модули", TotalLessons: 10},
		"oop":          {Name: "ООП в Python", TotalLessons: 16},
		"web-dev":      {Name: "Веб-разработка", TotalLessons: 15},
		"data-science": {Name: "Data Science", TotalLessons: 15},
	}
}

// Default returns a configuration populated with defaults only
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = "8080"
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.SessionTTL = 30 * time.Minute
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Storage.Driver = DriverFile
	cfg.Storage.Dir = "./data"
	cfg.Storage.Profile = "default"
	cfg.Storage.QuotaBytes = 5 * 1024 * 1024
	cfg.Tracker.AutosaveInterval = 30 * time.Second
	cfg.Tracker.AutoCompleteAfter = 30 * time.Second
	cfg.Tracker.PassingScore = 80
	cfg.Tracker.NoticeTTL = 5 * time.Second
	cfg.Tracker.VideoSaveCooldown = 5 * time.Second
	cfg.Catalog = DefaultCatalog()
	cfg.API.BaseURL = "https://api.pythonmaster.com"
	cfg.API.Timeout = 30 * time.Second
	cfg.API.Rate = 5
	cfg.API.Burst = 5
	cfg.Redis.Channel = "coursetrack.events"
	return cfg
}

// Load loads configuration from a file (if specified) and environment variables.
// Priority: 1) environment variables, 2) config file, 3) defaults
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// yaml.v3 only touches keys present in the document, so defaults survive
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		if len(cfg.Catalog) == 0 {
			cfg.Catalog = DefaultCatalog()
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the application cannot run with
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverFile, DriverSQLite, DriverMemory:
	case DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			return &ConfigError{Field: "storage.dsn", Msg: "is required for driver " + c.Storage.Driver}
		}
	default:
		return &ConfigError{Field: "storage.driver", Msg: fmt.Sprintf("unsupported driver %q", c.Storage.Driver)}
	}
	if c.Storage.Profile == "" {
		return &ConfigError{Field: "storage.profile", Msg: "must not be empty"}
	}
	if c.Tracker.AutosaveInterval <= 0 {
		return &ConfigError{Field: "tracker.autosave_interval", Msg: "must be positive"}
	}
	if c.Tracker.PassingScore < 1 || c.Tracker.PassingScore > 100 {
		return &ConfigError{Field: "tracker.passing_score", Msg: "must be between 1 and 100"}
	}
	for id, m := range c.Catalog {
		if m.TotalLessons < 0 {
			return &ConfigError{Field: "catalog." + id + ".total_lessons", Msg: "must not be negative"}
		}
	}
	return nil
}

// ModuleName returns the display name for a module id, falling back to the id
func (c *Config) ModuleName(id string) string {
	if m, ok := c.Catalog[id]; ok && m.Name != "" {
		return m.Name
	}
	return id
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Msg
}

// loadFromEnv applies environment overrides on top of cfg
func loadFromEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.ShutdownTimeout = getDurationFromEnv("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.SessionTTL = getDurationFromEnv("SESSION_TTL", cfg.Server.SessionTTL)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)

	cfg.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", cfg.Storage.Driver))
	cfg.Storage.Dir = getEnv("DATA_DIR", cfg.Storage.Dir)
	cfg.Storage.DSN = getEnv("STORAGE_DSN", cfg.Storage.DSN)
	cfg.Storage.Profile = getEnv("STORAGE_PROFILE", cfg.Storage.Profile)
	cfg.Storage.QuotaBytes = int64(getIntFromEnv("STORAGE_QUOTA_BYTES", int(cfg.Storage.QuotaBytes)))

	cfg.Tracker.AutosaveInterval = getDurationFromEnv("AUTOSAVE_INTERVAL", cfg.Tracker.AutosaveInterval)
	cfg.Tracker.AutoCompleteAfter = getDurationFromEnv("AUTO_COMPLETE_AFTER", cfg.Tracker.AutoCompleteAfter)
	cfg.Tracker.PassingScore = getIntFromEnv("PASSING_SCORE", cfg.Tracker.PassingScore)
	cfg.Tracker.RulesFile = getEnv("RULES_FILE", cfg.Tracker.RulesFile)

	if url := os.Getenv("API_BASE_URL"); url != "" {
		cfg.API.BaseURL = strings.TrimSuffix(url, "/")
	}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Channel = getEnv("REDIS_CHANNEL", cfg.Redis.Channel)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getIntFromEnv(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		i, err := strconv.Atoi(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse int from env var %s: %v\n", key, err)
			return fallback
		}
		return i
	}
	return fallback
}

func getDurationFromEnv(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to parse duration from env var %s: %v\n", key, err)
			return fallback
		}
		return d
	}
	return fallback
}
