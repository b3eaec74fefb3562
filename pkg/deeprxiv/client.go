// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package deeprxiv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 4096

// =============================================================================
// HTTP Client Interface
// =============================================================================

// HTTPClient is the transport used by Client.
//
// *http.Client satisfies it. Tests inject fakes that record requests or
// return canned responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8000".
	// Empty means DefaultBaseURL.
	BaseURL string

	// Token is sent as a bearer token when non-nil.
	Token *Token

	// RequestsPerSecond limits outgoing requests. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Values below 1 become 1.
	Burst int

	// Logger receives request diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Client
// =============================================================================

// Client talks to the DeepRxiv backend.
//
// Every method takes a context; streaming requests have no client-side
// timeout, so cancelling ctx is the only way to abandon a hung stream.
//
// Thread Safety:
//
//	Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    HTTPClient
	token   *Token
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewClient creates a client backed by an *http.Client with no timeout.
func NewClient(cfg Config) *Client {
	return NewClientWithHTTP(&http.Client{}, cfg)
}

// NewClientWithHTTP creates a client with an injected transport.
func NewClientWithHTTP(httpClient HTTPClient, cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		token:   cfg.Token,
		limiter: limiter,
		logger:  logger,
	}
}

// BaseURL returns the backend root this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Sessions
// =============================================================================

// CreateSession creates a chat session on the backend.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*ChatSession, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid create session request: %w", err)
	}
	var session ChatSession
	if err := c.doJSON(ctx, "create session", http.MethodPost, "/api/chat/create", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession loads a session and its messages.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("get session: session id is required")
	}
	var session ChatSession
	path := "/api/chat/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, "get session", http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSharedSession loads a public session by its share token.
func (c *Client) GetSharedSession(ctx context.Context, shareURL string) (*ChatSession, error) {
	if shareURL == "" {
		return nil, fmt.Errorf("get shared session: share url is required")
	}
	var session ChatSession
	path := "/api/chat/share/" + url.PathEscape(shareURL)
	if err := c.doJSON(ctx, "get shared session", http.MethodGet, path, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ListSessions lists the user's sessions and, optionally, public ones.
// The backend returns at most 50, most recently updated first.
func (c *Client) ListSessions(ctx context.Context, opts ListSessionsOptions) ([]ChatSession, error) {
	q := url.Values{}
	if opts.UserID != nil {
		q.Set("user_id", strconv.FormatInt(*opts.UserID, 10))
	}
	q.Set("include_public", strconv.FormatBool(opts.IncludePublic))

	var sessions []ChatSession
	if err := c.doJSON(ctx, "list sessions", http.MethodGet, "/api/chat/sessions?"+q.Encode(), nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ShareSession asks the backend for a share token. Non-2xx responses are
// reported as *ShareError.
func (c *Client) ShareSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("share session: session id is required")
	}
	var out ShareResponse
	path := "/api/chat/" + url.PathEscape(sessionID) + "/share"
	err := c.doJSON(ctx, "share session", http.MethodPost, path, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return "", &ShareError{SessionID: sessionID, StatusCode: apiErr.StatusCode, Body: apiErr.Body}
	}
	if err != nil {
		return "", err
	}
	return out.ShareURL, nil
}

// SubmitFeedback records a thumbs up/down or suggested answer for a message.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("invalid feedback request: %w", err)
	}
	return c.doJSON(ctx, "submit feedback", http.MethodPost, "/api/chat/feedback", req, nil)
}

// =============================================================================
// Messages
// =============================================================================

// StreamMessage posts a message and returns the open streaming body.
//
// The caller owns the returned body and must close it. A response without a
// body is reported as *StreamError; non-2xx statuses as *APIError; transport
// failures as *NetworkError.
func (c *Client) StreamMessage(ctx context.Context, req SendMessageRequest) (io.ReadCloser, error) {
	req.Stream = true
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message request: %w", err)
	}

	resp, err := c.do(ctx, "send message", http.MethodPost, "/api/chat/message", req, "text/event-stream")
	if err != nil {
		return nil, err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &StreamError{Err: ErrNoBody}
	}
	return resp.Body, nil
}

// =============================================================================
// Papers, Images, Models
// =============================================================================

// ListPapers lists papers known to the backend. With processedOnly, papers
// still being processed are filtered out.
func (c *Client) ListPapers(ctx context.Context, processedOnly bool) ([]Paper, error) {
	var papers []Paper
	if err := c.doJSON(ctx, "list papers", http.MethodGet, "/api/papers", nil, &papers); err != nil {
		return nil, err
	}
	if !processedOnly {
		return papers, nil
	}
	out := papers[:0]
	for _, p := range papers {
		if p.Processed {
			out = append(out, p)
		}
	}
	return out, nil
}

// ProcessPaper submits an arXiv URL for processing. The backend fetches the
// PDF and extracts text and figures synchronously, so the returned paper is
// usually already processed; poll PaperStatus when it is not.
func (c *Client) ProcessPaper(ctx context.Context, arxivURL string) (*Paper, error) {
	req := ProcessRequest{URL: arxivURL}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid process request: %w", err)
	}
	var paper Paper
	if err := c.doJSON(ctx, "process paper", http.MethodPost, "/api/process", req, &paper); err != nil {
		return nil, err
	}
	return &paper, nil
}

// GetPaper loads a paper with its extracted text and figures.
func (c *Client) GetPaper(ctx context.Context, arxivID string) (*PaperDetail, error) {
	if arxivID == "" {
		return nil, fmt.Errorf("get paper: arxiv id is required")
	}
	var paper PaperDetail
	path := "/api/paper/" + url.PathEscape(arxivID)
	if err := c.doJSON(ctx, "get paper", http.MethodGet, path, nil, &paper); err != nil {
		return nil, err
	}
	return &paper, nil
}

// PaperStatus reports whether a submitted paper has finished processing.
func (c *Client) PaperStatus(ctx context.Context, arxivID string) (*ProcessingStatus, error) {
	if arxivID == "" {
		return nil, fmt.Errorf("paper status: arxiv id is required")
	}
	var status ProcessingStatus
	path := "/api/status/" + url.PathEscape(arxivID)
	if err := c.doJSON(ctx, "paper status", http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListImages lists the images extracted from a paper.
func (c *Client) ListImages(ctx context.Context, arxivID string) ([]PaperImage, error) {
	if arxivID == "" {
		return nil, fmt.Errorf("list images: arxiv id is required")
	}
	var images []PaperImage
	path := "/api/images/" + url.PathEscape(arxivID)
	if err := c.doJSON(ctx, "list images", http.MethodGet, path, nil, &images); err != nil {
		return nil, err
	}
	return images, nil
}

// ListModels lists the models the backend can answer with.
func (c *Client) ListModels(ctx context.Context) (map[string]ModelInfo, error) {
	var out ModelsResponse
	if err := c.doJSON(ctx, "list models", http.MethodGet, "/api/chat/models", nil, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// =============================================================================
// Request Plumbing
// =============================================================================

// doJSON performs a request and decodes a JSON response into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.do(ctx, op, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close response body", "op", op, "error", cerr)
		}
	}()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// do sends a request and returns the response if its status is 2xx.
// On any error the response body is already closed.
func (c *Client) do(ctx context.Context, op, method, path string, body any, accept string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit: %w", op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	requestID := uuid.New().String()
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth, err := c.token.authorization()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	c.logger.Debug("backend request", "op", op, "method", method, "path", path, "request_id", requestID)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("backend request failed",
			"op", op,
			"request_id", requestID,
			"error", err,
		)
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			c.logger.Error("backend returned error (failed to read body)",
				"op", op,
				"request_id", requestID,
				"status_code", resp.StatusCode,
				"read_error", readErr,
			)
		} else {
			c.logger.Error("backend returned error",
				"op", op,
				"request_id", requestID,
				"status_code", resp.StatusCode,
				"response_body", string(bodyBytes),
			)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	return resp, nil
}
