// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvBackendURL  = "DEEPRXIV_BACKEND_URL"
	EnvToken       = "DEEPRXIV_TOKEN"
	EnvModel       = "DEEPRXIV_MODEL"
	EnvPersonality = "DEEPRXIV_PERSONALITY"

	// EnvOTLPEndpoint is the standard OpenTelemetry collector variable.
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

var (
	// Global is a singleton instance
	Global DeepRxivConfig
	once   sync.Once
)

// Load ensures the config is loaded into the Global variable
func Load() error {
	var err error
	once.Do(func() {
		err = loadInternal()
	})
	return err
}

// Path returns the default config location, ~/.deeprxiv/deeprxiv.yaml.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".deeprxiv", "deeprxiv.yaml"), nil
}

func loadInternal() error {
	configPath, err := Path()
	if err != nil {
		return err
	}
	cfg, err := LoadFrom(configPath)
	if err != nil {
		return err
	}
	Global = cfg
	return nil
}

// LoadFrom reads the config at path, creating it with defaults when it
// does not exist. Missing fields keep their default values. Environment
// overrides are applied before validation.
func LoadFrom(configPath string) (DeepRxivConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", configPath)
		if err := createDefault(configPath); err != nil {
			return DeepRxivConfig{}, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return DeepRxivConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return DeepRxivConfig{}, fmt.Errorf("failed to parse the config file %s: %w", configPath, err)
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return DeepRxivConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *DeepRxivConfig) {
	if v := os.Getenv(EnvBackendURL); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		cfg.Backend.Token = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Chat.Model = v
	}
	if v := os.Getenv(EnvPersonality); v != "" {
		cfg.UX.Personality = v
	}
	if v := os.Getenv(EnvOTLPEndpoint); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	// The file may later hold a token.
	return os.WriteFile(path, data, 0600)
}
