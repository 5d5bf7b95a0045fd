package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// WriteFile writes cfg as YAML to path, creating parent directories.
// An existing file is left untouched unless overwrite is set.
func WriteFile(path string, cfg *Config, overwrite bool) error {
	if !filepath.IsAbs(path) {
		abspath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = abspath
	}

	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config file %q already exists", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().
		Str("config_file", path).
		Int("total_bytes", len(data)).
		Msg("Wrote configuration file")
	return nil
}
