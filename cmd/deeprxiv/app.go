// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deeprxiv/deeprxiv/cmd/deeprxiv/config"
	"github.com/deeprxiv/deeprxiv/pkg/chat"
	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/logging"
	"github.com/deeprxiv/deeprxiv/pkg/store"
	"github.com/deeprxiv/deeprxiv/pkg/telemetry"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/spf13/cobra"
)

var (
	appConfig         config.DeepRxivConfig
	appLogger         = logging.Default()
	telemetryShutdown telemetry.Shutdown
)

// setupGlobals loads the config, applies flag overrides, and initialises
// personality, logging and tracing. It runs before every command.
func setupGlobals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if personalityLevel != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
	} else {
		ux.InitPersonality(cfg.UX.Personality)
	}

	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	appLogger = logging.New(logging.Config{
		Level:  level,
		LogDir: cfg.Logging.Dir,
		JSON:   cfg.Logging.JSON,
	})
	slog.SetDefault(appLogger.Slog())

	shutdown, err := telemetry.Init(cmd.Context(), telemetryConfig(cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	telemetryShutdown = shutdown
	appConfig = cfg
	return nil
}

func telemetryConfig(cfg config.TelemetryConfig) telemetry.Config {
	return telemetry.Config{
		ServiceName:    "deeprxiv",
		ServiceVersion: version,
		Exporter:       cfg.Exporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
	}
}

// flushTelemetry exports buffered spans before the process exits.
func flushTelemetry() {
	if telemetryShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetryShutdown(ctx); err != nil {
		appLogger.Warn("failed to flush spans", "error", err)
	}
}

func loadConfig() (config.DeepRxivConfig, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	if err := config.Load(); err != nil {
		return config.DeepRxivConfig{}, err
	}
	return config.Global, nil
}

// =============================================================================
// App
// =============================================================================

// cliApp holds the dependencies shared by the backend-facing commands.
type cliApp struct {
	cfg    config.DeepRxivConfig
	logger *slog.Logger
	client *deeprxiv.Client
	store  store.StateStore
}

// newApp builds the client and opens the state store. A store that cannot
// be opened (another deeprxiv holds the lock, say) degrades to memory.
func newApp(cfg config.DeepRxivConfig, logger *slog.Logger) *cliApp {
	client := deeprxiv.NewClient(deeprxiv.Config{
		BaseURL:           cfg.Backend.BaseURL,
		Token:             deeprxiv.NewToken(cfg.Backend.Token),
		RequestsPerSecond: cfg.Backend.RequestsPerSecond,
		Burst:             cfg.Backend.Burst,
		Logger:            logger,
	})
	logger.Debug("backend client ready",
		"base_url", client.BaseURL(),
		"token_present", cfg.Backend.Token != "",
	)
	return &cliApp{
		cfg:    cfg,
		logger: logger,
		client: client,
		store:  openStateStore(cfg.StatePath(), logger),
	}
}

func openStateStore(path string, logger *slog.Logger) store.StateStore {
	storeCfg := store.DefaultConfig(path)
	storeCfg.Logger = logger
	st, err := store.Open(storeCfg)
	if err != nil {
		logger.Warn("state store unavailable, keeping state in memory", "path", path, "error", err)
		return store.NewMemory()
	}
	return st
}

// chatOptions maps the chat config section to controller options.
func chatOptions(cfg config.ChatConfig, model string) chat.Options {
	opts := chat.Options{
		Model:         cfg.Model,
		QueryMode:     deeprxiv.QueryMode(cfg.QueryMode),
		ContentChunks: cfg.ContentChunks,
		SectionChunks: cfg.SectionChunks,
		ReturnImages:  cfg.ReturnImages,
		IsPublic:      cfg.IsPublic,
		UserID:        cfg.UserID,
	}
	if model != "" {
		opts.Model = model
	}
	return opts
}

// newController creates a controller over the app's client and store.
func (a *cliApp) newController(model string) (*chat.Controller, error) {
	ctrl, err := chat.NewController(chat.Config{
		API:     a.client,
		Store:   a.store,
		Options: chatOptions(a.cfg.Chat, model),
		Logger:  a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat controller: %w", err)
	}
	return ctrl, nil
}

func (a *cliApp) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close state store", "error", err)
	}
}
