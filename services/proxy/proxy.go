// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proxy is a local HTTP proxy in front of the DeepRxiv backend.
//
// Browser frontends call /api/proxy/{path}; the proxy forwards to
// {backend}/api/{path}. The CLI can point its base URL at the proxy root
// and call /api/{path} directly; both spellings reach the same backend
// route. Streaming responses (text/event-stream) are passed through chunk
// by chunk with a flush after each write.
//
// # Routes
//
//	GET  /health        liveness
//	GET  /metrics       Prometheus exposition
//	ANY  /api/*path     forward to the backend
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	// DefaultBackendURL is the backend root the proxy forwards to.
	DefaultBackendURL = "http://127.0.0.1:8000"

	// DefaultListenAddr is where Run listens when none is configured.
	DefaultListenAddr = "127.0.0.1:3000"

	// DefaultServiceName labels the proxy's request spans.
	DefaultServiceName = "deeprxiv-proxy"

	shutdownTimeout = 5 * time.Second
)

// Upstream timeouts for non-streaming requests.
const (
	statusTimeout = 2 * time.Second
	rootTimeout   = 3 * time.Second
	getTimeout    = 5 * time.Second
	postTimeout   = 60 * time.Second
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the proxy server.
type Config struct {
	// BackendURL is the backend root, without the /api suffix.
	// Default: DefaultBackendURL
	BackendURL string

	// ListenAddr is the address Run listens on.
	// Default: DefaultListenAddr
	ListenAddr string

	// AllowedOrigins lists CORS origins. "*" allows any origin. Empty
	// disables CORS headers.
	AllowedOrigins []string

	// HTTPClient sends upstream requests. It must not set a Timeout, or
	// long streams are cut off.
	// Default: &http.Client{}
	HTTPClient *http.Client

	// Registry receives the proxy's collectors and backs /metrics.
	// Default: a fresh registry
	Registry *prometheus.Registry

	// Logger receives request logs. Nil means slog.Default().
	Logger *slog.Logger

	// GinMode sets the Gin framework mode: "debug", "release", or "test".
	// Empty leaves the process-wide mode alone.
	GinMode string

	// ServiceName names the server spans recorded for each request.
	// Default: DefaultServiceName
	ServiceName string

	// UpstreamTimeout bounds the wait for backend response headers. An
	// event-stream response is not bounded once its headers arrive.
	// Default: 0, which picks a per-method deadline (2s HEAD, 5s GET,
	// 60s otherwise)
	UpstreamTimeout time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	return cfg
}

// =============================================================================
// Server
// =============================================================================

// Server is the proxy. Create it with New.
type Server struct {
	config  Config
	backend *url.URL
	router  *gin.Engine
	metrics *metrics
	logger  *slog.Logger
}

// New builds the proxy and registers its routes.
//
// # Outputs
//
//   - *Server: ready to Run, or to serve through Router in tests
//   - error: the backend URL is not an absolute http(s) URL
func New(cfg Config) (*Server, error) {
	cfg = applyConfigDefaults(cfg)

	backend, err := url.Parse(strings.TrimRight(cfg.BackendURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if backend.Scheme != "http" && backend.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", cfg.BackendURL)
	}
	if backend.Host == "" {
		return nil, fmt.Errorf("backend url %q has no host", cfg.BackendURL)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &Server{
		config:  cfg,
		backend: backend,
		metrics: newMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}
	s.initRouter()
	return s, nil
}

func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())
	if len(s.config.AllowedOrigins) > 0 {
		s.router.Use(corsMiddleware(s.config.AllowedOrigins))
	}

	s.router.GET("/health", handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})))
	s.router.Any("/api/*path", s.handleForward)
}

// Router returns the configured engine. Tests serve it through httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// BackendURL returns the backend root requests are forwarded to.
func (s *Server) BackendURL() string {
	return s.backend.String()
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down, giving in-flight requests a few seconds to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("proxy listening",
			"addr", s.config.ListenAddr,
			"backend", s.backend.String(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("proxy server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("proxy shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("proxy shutdown: %w", err)
	}
	return nil
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
