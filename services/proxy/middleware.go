// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metrics
// =============================================================================

type metrics struct {
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	upstreamLatency *prometheus.HistogramVec
	upstreamErrors  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "deeprxiv",
				Subsystem: "proxy",
				Name:      "requests_total",
				Help:      "Proxied requests by method and status code",
			},
			[]string{"method", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deeprxiv",
				Subsystem: "proxy",
				Name:      "request_duration_seconds",
				Help:      "Time to serve a request, including streamed bodies",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"method"},
		),
		upstreamLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "deeprxiv",
				Subsystem: "proxy",
				Name:      "upstream_latency_seconds",
				Help:      "Time until the backend returned response headers",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method"},
		),
		upstreamErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "deeprxiv",
				Subsystem: "proxy",
				Name:      "upstream_errors_total",
				Help:      "Backend connection and read failures",
			},
		),
	}
}

// metricsMiddleware records every request except scrapes of /metrics.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.metrics.requests.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		s.metrics.duration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// =============================================================================
// Logging
// =============================================================================

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			attrs = append(attrs, "query", q)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("proxy request", attrs...)
			return
		}
		s.logger.Debug("proxy request", attrs...)
	}
}

// =============================================================================
// CORS
// =============================================================================

// corsMiddleware answers preflights and tags responses for the allowed
// origins. "*" in allowed matches any origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	wildcard := false
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		set[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (wildcard || set[strings.TrimRight(origin, "/")]) {
			if wildcard {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, HEAD, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, X-Request-ID")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
