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
	"strings"

	"github.com/go-playground/validator/v10"
)

type DeepRxivConfig struct {
	// Backend: where the DeepRxiv API lives and how to authenticate
	Backend BackendConfig `yaml:"backend"`

	// Chat: per-request defaults for new messages
	Chat ChatConfig `yaml:"chat"`

	// Storage: where local state (hidden sessions, sources) is kept
	Storage StorageConfig `yaml:"storage"`

	// Logging: level and optional JSON log directory
	Logging LoggingConfig `yaml:"logging"`

	// UX: terminal output preferences
	UX UXConfig `yaml:"ux"`

	// Proxy: the local API proxy started by `deeprxiv serve`
	Proxy ProxyConfig `yaml:"proxy"`

	// Telemetry: where controller and proxy spans are exported
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type BackendConfig struct {
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Token is sent as a bearer token. Prefer DEEPRXIV_TOKEN over storing
	// it here.
	Token string `yaml:"token,omitempty"`

	// RequestsPerSecond limits outgoing requests; 0 disables the limit.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

type ChatConfig struct {
	Model         string `yaml:"model" validate:"required"`
	QueryMode     string `yaml:"query_mode" validate:"oneof=enhanced raw"`
	ContentChunks int    `yaml:"content_chunks" validate:"min=1,max=20"`
	SectionChunks int    `yaml:"section_chunks" validate:"min=1,max=20"`
	ReturnImages  bool   `yaml:"return_images"`
	IsPublic      bool   `yaml:"is_public"`
	UserID        *int64 `yaml:"user_id,omitempty"`
}

type StorageConfig struct {
	// StateDir holds the badger state store. "~" expands to the home dir.
	StateDir string `yaml:"state_dir" validate:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type UXConfig struct {
	// Personality is full, standard, minimal, or machine. Empty picks one
	// from the terminal.
	Personality string `yaml:"personality,omitempty" validate:"omitempty,oneof=full standard minimal machine"`
}

type ProxyConfig struct {
	ListenAddr     string   `yaml:"listen_addr" validate:"required,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type TelemetryConfig struct {
	// Exporter is none, stdout, or otlp. stdout spans go to stderr.
	Exporter     string `yaml:"exporter" validate:"omitempty,oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
	OTLPInsecure bool   `yaml:"otlp_insecure,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() DeepRxivConfig {
	return DeepRxivConfig{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
		},
		Chat: ChatConfig{
			Model:         "sonar",
			QueryMode:     "enhanced",
			ContentChunks: 3,
			SectionChunks: 3,
			ReturnImages:  true,
			IsPublic:      true,
		},
		Storage: StorageConfig{
			StateDir: "~/.deeprxiv/state",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Proxy: ProxyConfig{
			ListenAddr:     "127.0.0.1:3000",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Telemetry: TelemetryConfig{
			Exporter: "none",
		},
	}
}

var configValidate = validator.New()

// Validate checks field constraints. Errors name the offending yaml path.
func (c *DeepRxivConfig) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StatePath returns StateDir with a leading "~" expanded.
func (c *DeepRxivConfig) StatePath() string {
	return ExpandHome(c.Storage.StateDir)
}

// ExpandHome expands a leading "~" to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
