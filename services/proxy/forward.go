// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deeprxiv/deeprxiv/pkg/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// maxRequestBody bounds a forwarded request body.
const maxRequestBody = 1 << 20

// forwardedRequestHeaders are copied from the client to the backend.
var forwardedRequestHeaders = []string{
	"Accept",
	"Authorization",
	"Content-Type",
	"X-Request-ID",
}

// forwardedResponseHeaders are copied from the backend to the client.
var forwardedResponseHeaders = []string{
	"Cache-Control",
	"Content-Disposition",
	"Content-Type",
	"ETag",
	"Last-Modified",
}

// handleForward forwards /api/{path} and /api/proxy/{path} to
// {backend}/api/{path}.
func (s *Server) handleForward(c *gin.Context) {
	path := backendPath(c.Param("path"))
	target := s.backend.String() + "/api" + path
	if c.Request.URL.RawQuery != "" {
		target += "?" + c.Request.URL.RawQuery
	}

	var body io.Reader
	if c.Request.Body != nil && c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
			return
		}
		if len(payload) > maxRequestBody {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Request body too large"})
			return
		}
		if len(bytes.TrimSpace(payload)) > 0 {
			if isJSONRequest(c.Request) && !json.Valid(payload) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON in request body"})
				return
			}
			body = bytes.NewReader(payload)
		}
	}

	// Bounds the wait for headers; stopped below when an event stream starts.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	var deadline *time.Timer
	if !acceptsEventStream(c.Request) {
		deadline = time.AfterFunc(s.upstreamTimeout(c.Request.Method, path), cancel)
		defer deadline.Stop()
	}

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, target, body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build upstream request"})
		return
	}
	for _, h := range forwardedRequestHeaders {
		if v := c.Request.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if req.Header.Get("X-Request-ID") == "" {
		req.Header.Set("X-Request-ID", uuid.New().String())
	}
	telemetry.InjectContext(ctx, req.Header)

	start := time.Now()
	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		s.metrics.upstreamErrors.Inc()
		s.logger.Error("backend unreachable",
			"method", c.Request.Method,
			"path", path,
			"request_id", req.Header.Get("X-Request-ID"),
			"error", err,
		)
		if c.Request.Method == http.MethodHead {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Cannot connect to backend server. Please ensure the backend is running at " + s.backend.String() + "/api",
		})
		return
	}
	defer resp.Body.Close()
	s.metrics.upstreamLatency.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())

	if c.Request.Method == http.MethodHead {
		// HEAD status check: any backend error means offline.
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			c.Status(http.StatusOK)
		} else {
			c.Status(http.StatusServiceUnavailable)
		}
		return
	}

	if isEventStream(resp.Header.Get("Content-Type")) && resp.StatusCode < 300 {
		if deadline != nil && !deadline.Stop() {
			s.metrics.upstreamErrors.Inc()
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Backend did not respond in time"})
			return
		}
		s.streamResponse(c, resp)
		return
	}
	s.copyResponse(c, resp, path)
}

// copyResponse relays a buffered response. Empty error bodies are replaced
// with a generic JSON error.
func (s *Server) copyResponse(c *gin.Context, resp *http.Response, path string) {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		s.metrics.upstreamErrors.Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to read backend response"})
		return
	}

	if resp.StatusCode >= 400 && len(bytes.TrimSpace(payload)) == 0 {
		c.JSON(resp.StatusCode, gin.H{"error": "Backend server error"})
		return
	}

	for _, h := range forwardedResponseHeaders {
		if v := resp.Header.Get(h); v != "" {
			c.Header(h, v)
		}
	}
	if isImagePath(path) && resp.StatusCode < 300 {
		c.Header("Cache-Control", "public, max-age=86400")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(resp.StatusCode, contentType, payload)
}

// streamResponse relays an event stream, flushing after every chunk so the
// client renders tokens as they arrive.
func (s *Server) streamResponse(c *gin.Context, resp *http.Response) {
	SetSSEHeaders(c.Writer)
	c.Status(resp.StatusCode)
	c.Writer.Flush()

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Writer.Write(buf[:n]); werr != nil {
				s.logger.Debug("client went away mid-stream", "error", werr)
				return
			}
			c.Writer.Flush()
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) && c.Request.Context().Err() == nil {
			s.metrics.upstreamErrors.Inc()
			s.logger.Warn("backend stream ended with error", "error", err)
		}
		return
	}
}

// SetSSEHeaders sets the headers an event stream needs to reach the
// client unbuffered.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// =============================================================================
// Helpers
// =============================================================================

// backendPath drops the optional /proxy prefix. It returns "" for the API
// root and "/{rest}" otherwise.
func backendPath(param string) string {
	p := strings.TrimPrefix(param, "/")
	if p == "proxy" {
		p = ""
	} else {
		p = strings.TrimPrefix(p, "proxy/")
	}
	if p == "" {
		return ""
	}
	return "/" + p
}

func (s *Server) upstreamTimeout(method, path string) time.Duration {
	if s.config.UpstreamTimeout > 0 {
		return s.config.UpstreamTimeout
	}
	return upstreamTimeout(method, path)
}

func upstreamTimeout(method, path string) time.Duration {
	switch {
	case method == http.MethodHead:
		return statusTimeout
	case path == "" && method == http.MethodGet:
		return rootTimeout
	case method == http.MethodGet:
		return getTimeout
	default:
		return postTimeout
	}
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func isEventStream(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "text/event-stream")
}

func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return ct == "" || strings.Contains(ct, "json")
}

func isImagePath(path string) bool {
	return strings.Contains(path, "image/") || strings.Contains(path, "images/")
}
