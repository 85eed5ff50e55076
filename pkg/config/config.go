// Package config loads runtime settings for the form catalog.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable behavior of the catalog.
type Config struct {
	// MaxNestingDepth bounds field nesting inside a section.
	MaxNestingDepth int `yaml:"max_nesting_depth"`
	// EnableBulkImport gates the tabular import path.
	EnableBulkImport bool `yaml:"enable_bulk_import"`
	// EnableCategorization gates the form type taxonomy operations.
	EnableCategorization bool `yaml:"enable_categorization"`
	// Database selects the persistence backend.
	Database Database `yaml:"database"`
}

// Database configures persistence. An empty Path selects the in-memory
// store.
type Database struct {
	Path string `yaml:"path"`
}

// Default returns the settings used when no config file is given.
func Default() Config {
	return Config{
		MaxNestingDepth:      10,
		EnableBulkImport:     true,
		EnableCategorization: true,
	}
}

// Load reads a YAML config file, filling unset values from Default.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects settings outside their supported ranges.
func (c Config) Validate() error {
	if c.MaxNestingDepth < 1 {
		return fmt.Errorf("config: max_nesting_depth must be at least 1, got %d", c.MaxNestingDepth)
	}
	return nil
}
