package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the configuration to the global config file.
func Save(cfg *Config) error {
	return SaveToFile(cfg, GlobalConfigPath())
}

// SaveToFile writes the configuration to a specific file path. API keys are
// omitted; they come from the environment or are set explicitly with
// SetConfigFieldAt.
func SaveToFile(cfg *Config, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	out := *cfg
	out.Providers = make(map[string]*ProviderConfig, len(cfg.Providers))
	for id, p := range cfg.Providers {
		if p == nil {
			continue
		}
		cp := *p
		cp.APIKey = ""
		out.Providers[id] = &cp
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil { //nolint:gosec // Restrictive permissions for security.
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return nil
}
