// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package deeprxiv contains the wire types, request validation, and HTTP
// client for the DeepRxiv backend API.
//
// The backend owns all state: papers, chat sessions, and messages. This
// package only constructs requests and decodes responses. Streaming message
// bodies are returned open so the caller can consume them incrementally
// (see pkg/ux for the stream reader and pkg/chat for message assembly).
package deeprxiv

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Roles, Modes, Models
// =============================================================================

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// QueryMode selects how the backend retrieves context for an answer.
type QueryMode string

const (
	// QueryModeEnhanced lets the backend search the web in addition to the paper.
	QueryModeEnhanced QueryMode = "enhanced"

	// QueryModeRaw restricts retrieval to the paper's own chunks.
	QueryModeRaw QueryMode = "raw"
)

// Model names offered by the backend. The reasoning variants interleave a
// chain of thought with the answer in the content stream.
const (
	ModelSonar             = "sonar"
	ModelSonarPro          = "sonar-pro"
	ModelSonarReasoning    = "sonar-reasoning"
	ModelSonarReasoningPro = "sonar-reasoning-pro"
)

// DefaultModel is used when no model is configured.
const DefaultModel = ModelSonar

// IsReasoningModel reports whether the model emits its chain of thought
// ahead of the answer in the content stream.
func IsReasoningModel(model string) bool {
	switch model {
	case ModelSonarReasoning, ModelSonarReasoningPro:
		return true
	}
	return strings.Contains(strings.ToLower(model), "reasoning")
}

// =============================================================================
// Flexible Scalars
// =============================================================================

// PageRef holds a page identifier the backend sends as either a JSON string
// or a JSON number. The zero value means the field was absent or null.
type PageRef string

// UnmarshalJSON accepts strings, numbers, and null.
func (p *PageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PageRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = PageRef(n.String())
	return nil
}

// MarshalJSON emits numeric refs as numbers and everything else as strings.
func (p PageRef) MarshalJSON() ([]byte, error) {
	if p == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseFloat(string(p), 64); err == nil {
		return []byte(p), nil
	}
	return json.Marshal(string(p))
}

// String returns the raw page identifier.
func (p PageRef) String() string { return string(p) }

// timestampLayouts are tried in order. The backend serializes naive UTC
// datetimes without a zone suffix.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp is a time.Time that tolerates the backend's zone-less format.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON parses RFC 3339 and naive ISO 8601 timestamps as UTC.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		parsed, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			t.Time = parsed
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// MarshalJSON emits RFC 3339, or null for the zero time.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// =============================================================================
// Core Types
// =============================================================================

// Source is one retrieval hit the backend used to ground an answer.
//
// Type is usually "content" (a raw text chunk), "section", or
// "subsection". Sources are transient; they are produced fresh for every
// assistant response.
type Source struct {
	Index           string   `json:"index,omitempty"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
	PageNumber      PageRef  `json:"page_number,omitempty"`
	SectionID       string   `json:"section_id,omitempty"`
	ChunkIndex      *int     `json:"chunk_index,omitempty"`
	EstimatedPage   PageRef  `json:"estimated_page,omitempty"`
	ArxivID         string   `json:"arxiv_id,omitempty"`
	Text            string   `json:"text,omitempty"`
}

// Source types the sidebar knows how to group.
const (
	SourceTypeContent    = "content"
	SourceTypeSection    = "section"
	SourceTypeSubsection = "subsection"
)

// ImageRef is an image attached to an assistant response.
type ImageRef struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// UnmarshalJSON accepts a bare URL string, the backend's {url, title,
// description} shape, and the upstream search API's {image_url, origin_url}
// shape.
func (i *ImageRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*i = ImageRef{URL: s}
		return nil
	}
	var raw struct {
		URL         string `json:"url"`
		ImageURL    string `json:"image_url"`
		OriginURL   string `json:"origin_url"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = ImageRef{URL: raw.URL, Title: raw.Title, Description: raw.Description}
	if i.URL == "" {
		i.URL = raw.ImageURL
	}
	if i.Description == "" && raw.OriginURL != "" {
		i.Description = raw.OriginURL
	}
	return nil
}

// ChatMessage is a single turn in a chat session.
//
// ID is the backend's numeric id and is zero for messages that only exist
// locally (optimistic user messages, in-progress assistant messages).
// LocalID is assigned on the client for every message it creates.
type ChatMessage struct {
	ID                int64            `json:"id,omitempty"`
	LocalID           string           `json:"local_id,omitempty"`
	Role              Role             `json:"role"`
	Content           string           `json:"content"`
	ChainOfThought    string           `json:"chain_of_thought,omitempty"`
	Sources           []Source         `json:"sources,omitempty"`
	Citations         []string         `json:"citations,omitempty"`
	Images            []ImageRef       `json:"images,omitempty"`
	HighlightedImages []map[string]any `json:"highlighted_images,omitempty"`
	ModelUsed         string           `json:"model_used,omitempty"`
	QueryMode         QueryMode        `json:"query_mode,omitempty"`
	ThumbsUp          *bool            `json:"thumbs_up,omitempty"`
	ThumbsDown        *bool            `json:"thumbs_down,omitempty"`
	CreatedAt         Timestamp        `json:"created_at,omitempty"`
	IsStreaming       bool             `json:"-"`
	Error             string           `json:"-"`
}

// ChatSession is a conversation bound (optionally) to one paper.
type ChatSession struct {
	ID           int64         `json:"id,omitempty"`
	SessionID    string        `json:"session_id"`
	Title        string        `json:"title"`
	PaperID      *int64        `json:"paper_id,omitempty"`
	PaperTitle   string        `json:"paper_title,omitempty"`
	ArxivID      string        `json:"arxiv_id,omitempty"`
	IsPublic     bool          `json:"is_public"`
	ShareURL     string        `json:"share_url,omitempty"`
	CreatedAt    Timestamp     `json:"created_at,omitempty"`
	UpdatedAt    Timestamp     `json:"updated_at,omitempty"`
	MessageCount int           `json:"message_count,omitempty"`
	Messages     []ChatMessage `json:"messages,omitempty"`
}

// Paper returns the session's paper binding, or nil if it has none.
func (s *ChatSession) Paper() *PaperRef {
	if s == nil {
		return nil
	}
	ref := &PaperRef{ID: s.PaperID, ArxivID: s.ArxivID, Title: s.PaperTitle}
	if ref.Empty() {
		return nil
	}
	return ref
}

// Paper is a paper known to the backend.
type Paper struct {
	ID        int64  `json:"id"`
	ArxivID   string `json:"arxiv_id"`
	Title     string `json:"title"`
	Authors   string `json:"authors"`
	Abstract  string `json:"abstract"`
	Processed bool   `json:"processed"`
}

// Ref returns a PaperRef pointing at this paper.
func (p Paper) Ref() *PaperRef {
	id := p.ID
	return &PaperRef{ID: &id, ArxivID: p.ArxivID, Title: p.Title}
}

// PaperRef identifies the paper a chat is about, by database id, arXiv id,
// or both.
type PaperRef struct {
	ID      *int64 `json:"id,omitempty"`
	ArxivID string `json:"arxiv_id,omitempty"`
	Title   string `json:"title,omitempty"`
}

// Empty reports whether the ref identifies no paper.
func (r *PaperRef) Empty() bool {
	return r == nil || (r.ID == nil && r.ArxivID == "")
}

// PaperImage is an image extracted from a paper's PDF.
type PaperImage struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	URL  string `json:"url"`
}

// PaperDetail is the body of GET /api/paper/{arxiv_id}.
type PaperDetail struct {
	Paper
	PDFURL        string            `json:"pdf_url"`
	ExtractedText string            `json:"extracted_text"`
	Images        []ExtractedFigure `json:"images"`
	CreatedAt     Timestamp         `json:"created_at,omitempty"`
	UpdatedAt     Timestamp         `json:"updated_at,omitempty"`
}

// ExtractedFigure is one figure region the backend cut out of the PDF.
type ExtractedFigure struct {
	ID   string `json:"id"`
	Page int    `json:"page"`
	Path string `json:"path,omitempty"`
}

// ProcessingStatus is the body of GET /api/status/{arxiv_id}.
type ProcessingStatus struct {
	ArxivID   string `json:"arxiv_id"`
	Processed bool   `json:"processed"`
}

// ModelInfo describes one model the backend can answer with.
type ModelInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Type          string   `json:"type"`
	ContextLength string   `json:"context_length"`
	Features      []string `json:"features"`
}

// ModelsResponse is the body of GET /api/chat/models.
type ModelsResponse struct {
	Models map[string]ModelInfo `json:"models"`
}

// ShareResponse is the body of POST /api/chat/{id}/share.
type ShareResponse struct {
	ShareURL string `json:"share_url"`
}

// =============================================================================
// Requests
// =============================================================================

// CreateSessionRequest is the body of POST /api/chat/create.
type CreateSessionRequest struct {
	Title    string `json:"title" validate:"required,max=255"`
	PaperID  *int64 `json:"paper_id,omitempty"`
	ArxivID  string `json:"arxiv_id,omitempty"`
	IsPublic bool   `json:"is_public"`
	UserID   *int64 `json:"user_id,omitempty"`
}

// SendMessageRequest is the body of POST /api/chat/message.
type SendMessageRequest struct {
	SessionID     string    `json:"session_id" validate:"required"`
	Message       string    `json:"message" validate:"required"`
	Model         string    `json:"model" validate:"required"`
	Stream        bool      `json:"stream"`
	ContentChunks int       `json:"content_chunks" validate:"min=1,max=20"`
	SectionChunks int       `json:"section_chunks" validate:"min=1,max=20"`
	QueryMode     QueryMode `json:"query_mode" validate:"oneof=enhanced raw"`
	ReturnImages  bool      `json:"return_images"`
}

// ProcessRequest is the body of POST /api/process.
type ProcessRequest struct {
	URL string `json:"url" validate:"required,url"`
}

// FeedbackRequest is the body of POST /api/chat/feedback.
type FeedbackRequest struct {
	MessageID       int64  `json:"message_id" validate:"required,gt=0"`
	ThumbsUp        *bool  `json:"thumbs_up,omitempty"`
	ThumbsDown      *bool  `json:"thumbs_down,omitempty"`
	SuggestedAnswer string `json:"suggested_answer,omitempty"`
}

// ListSessionsOptions filters GET /api/chat/sessions.
type ListSessionsOptions struct {
	UserID        *int64
	IncludePublic bool
}

// requestValidate is shared across all request types; validator caches
// struct metadata and is safe for concurrent use.
var requestValidate = validator.New()

// Validate checks the request against its struct tags.
func (r *CreateSessionRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Validate checks the request against its struct tags.
func (r *SendMessageRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Validate checks the request against its struct tags.
func (r *FeedbackRequest) Validate() error {
	return requestValidate.Struct(r)
}

// Validate checks the request against its struct tags.
func (r *ProcessRequest) Validate() error {
	return requestValidate.Struct(r)
}
