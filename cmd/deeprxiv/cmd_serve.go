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
	"github.com/deeprxiv/deeprxiv/cmd/deeprxiv/config"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
	"github.com/deeprxiv/deeprxiv/services/proxy"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func runServeCommand(cmd *cobra.Command, args []string) error {
	cfg := proxyConfig(appConfig, listenAddr)
	srv, err := proxy.New(cfg)
	if err != nil {
		return err
	}
	ux.Success("Proxy listening on http://" + cfg.ListenAddr + " → " + srv.BackendURL() + "/api")
	return srv.Run(cmd.Context())
}

// proxyConfig maps the config file and --listen to proxy settings. The
// registry also carries the Go runtime and process collectors.
func proxyConfig(cfg config.DeepRxivConfig, listen string) proxy.Config {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	addr := cfg.Proxy.ListenAddr
	if listen != "" {
		addr = listen
	}
	return proxy.Config{
		BackendURL:     cfg.Backend.BaseURL,
		ListenAddr:     addr,
		AllowedOrigins: cfg.Proxy.AllowedOrigins,
		Registry:       reg,
		Logger:         appLogger.Slog(),
		GinMode:        gin.ReleaseMode,
	}
}
