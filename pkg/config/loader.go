package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Initialize loads system.yaml (and an optional .env) from configDir,
// expands environment variables, merges it over Defaults(), and
// validates the result. Grounded on the teacher's
// pkg/config/loader.go Initialize entry point.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.InfoContext(ctx, "loading thorium configuration")

	if err := loadDotEnv(configDir); err != nil {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("config: loading system.yaml: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.InfoContext(ctx, "configuration loaded",
		"api_addr", cfg.System.APIAddr,
		"scalers", len(cfg.Scalers),
	)
	return cfg, nil
}

func loadDotEnv(configDir string) error {
	path := filepath.Join(configDir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, "system.yaml")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No user config at all: run on defaults alone, same as the
		// teacher tolerates a missing tarsy.yaml during local dev.
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}

	expanded := ExpandEnv(raw)
	var user Config
	if err := yaml.Unmarshal(expanded, &user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	merged := Defaults()
	if err := mergo.Merge(merged, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("config: merging user config over defaults: %w", err)
	}
	return merged, nil
}
