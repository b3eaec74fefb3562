// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package deeprxiv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// recordingHTTPClient returns a canned response and records every request.
type recordingHTTPClient struct {
	requests []*http.Request
	bodies   []string
	resp     *http.Response
	err      error
}

func (c *recordingHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.requests = append(c.requests, req)
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		c.bodies = append(c.bodies, string(b))
	} else {
		c.bodies = append(c.bodies, "")
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.resp, nil
}

func cannedResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL})
}

// =============================================================================
// Session Tests
// =============================================================================

func TestClient_CreateSession(t *testing.T) {
	var got map[string]any
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":7,"session_id":"sess-1","title":"New Chat","paper_id":42,
			"arxiv_id":"1706.03762","is_public":true,"created_at":"2025-05-01T10:00:00.123456",
			"updated_at":"2025-05-01T10:00:00","messages":[]}`)
	})

	paperID := int64(42)
	session, err := client.CreateSession(context.Background(), CreateSessionRequest{
		Title:    "New Chat",
		PaperID:  &paperID,
		IsPublic: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-1", session.SessionID)
	require.NotNil(t, session.PaperID)
	assert.Equal(t, int64(42), *session.PaperID)
	assert.Equal(t, 2025, session.CreatedAt.Year())
	assert.Equal(t, "New Chat", got["title"])
	assert.Equal(t, float64(42), got["paper_id"])
	assert.Equal(t, true, got["is_public"])
	assert.NotContains(t, got, "arxiv_id")
}

func TestClient_CreateSession_RejectsEmptyTitle(t *testing.T) {
	fake := &recordingHTTPClient{}
	client := NewClientWithHTTP(fake, Config{})

	_, err := client.CreateSession(context.Background(), CreateSessionRequest{})
	require.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestClient_GetSession_DecodesMessages(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sess-1", r.URL.Path)
		io.WriteString(w, `{"session_id":"sess-1","title":"Chat","arxiv_id":"2401.00001","is_public":false,
			"messages":[
				{"id":1,"role":"user","content":"hi","created_at":"2025-05-01T10:00:00"},
				{"id":2,"role":"assistant","content":"hello","sources":[
					{"index":"C1","type":"content","title":"Intro","estimated_page":3,"chunk_index":0},
					{"index":"S1","type":"section","title":"Method","page_number":"4","section_id":"s-2"}
				],"created_at":"2025-05-01T10:00:01Z"}
			]}`)
	})

	session, err := client.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)

	assistant := session.Messages[1]
	assert.Equal(t, RoleAssistant, assistant.Role)
	require.Len(t, assistant.Sources, 2)
	assert.Equal(t, PageRef("3"), assistant.Sources[0].EstimatedPage)
	require.NotNil(t, assistant.Sources[0].ChunkIndex)
	assert.Equal(t, 0, *assistant.Sources[0].ChunkIndex)
	assert.Equal(t, PageRef("4"), assistant.Sources[1].PageNumber)

	ref := session.Paper()
	require.NotNil(t, ref)
	assert.Equal(t, "2401.00001", ref.ArxivID)
}

func TestClient_ListSessions_Query(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions", r.URL.Path)
		assert.Equal(t, "9", r.URL.Query().Get("user_id"))
		assert.Equal(t, "true", r.URL.Query().Get("include_public"))
		io.WriteString(w, `[{"session_id":"a","title":"A","is_public":true,"message_count":3},
			{"session_id":"b","title":"B","is_public":false}]`)
	})

	userID := int64(9)
	sessions, err := client.ListSessions(context.Background(), ListSessionsOptions{UserID: &userID, IncludePublic: true})
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, 3, sessions[0].MessageCount)
}

func TestClient_ShareSession(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/chat/sess-1/share", r.URL.Path)
			io.WriteString(w, `{"share_url":"abc-123"}`)
		})
		shareURL, err := client.ShareSession(context.Background(), "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "abc-123", shareURL)
	})

	t.Run("non-2xx is ShareError", func(t *testing.T) {
		client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"detail":"not yours"}`)
		})
		_, err := client.ShareSession(context.Background(), "sess-1")
		var shareErr *ShareError
		require.ErrorAs(t, err, &shareErr)
		assert.Equal(t, http.StatusForbidden, shareErr.StatusCode)
		assert.Contains(t, shareErr.Body, "not yours")
	})
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestClient_StreamMessage_ReturnsOpenBody(t *testing.T) {
	var got SendMessageRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/message", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content\",\"content\":\"hi\"}\n\ndata: {\"type\":\"done\"}\n\n")
	})

	body, err := client.StreamMessage(context.Background(), SendMessageRequest{
		SessionID:     "sess-1",
		Message:       "What is attention?",
		Model:         ModelSonar,
		ContentChunks: 3,
		SectionChunks: 3,
		QueryMode:     QueryModeEnhanced,
		ReturnImages:  true,
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"done"`)
	assert.True(t, got.Stream)
	assert.Equal(t, 3, got.ContentChunks)
	assert.Equal(t, QueryModeEnhanced, got.QueryMode)
}

func TestClient_StreamMessage_Validation(t *testing.T) {
	fake := &recordingHTTPClient{}
	client := NewClientWithHTTP(fake, Config{})

	tests := []struct {
		name string
		req  SendMessageRequest
	}{
		{"missing session", SendMessageRequest{Message: "x", Model: "sonar", ContentChunks: 3, SectionChunks: 3, QueryMode: QueryModeRaw}},
		{"missing message", SendMessageRequest{SessionID: "s", Model: "sonar", ContentChunks: 3, SectionChunks: 3, QueryMode: QueryModeRaw}},
		{"zero chunks", SendMessageRequest{SessionID: "s", Message: "x", Model: "sonar", SectionChunks: 3, QueryMode: QueryModeRaw}},
		{"bad mode", SendMessageRequest{SessionID: "s", Message: "x", Model: "sonar", ContentChunks: 3, SectionChunks: 3, QueryMode: "fancy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.StreamMessage(context.Background(), tt.req)
			require.Error(t, err)
		})
	}
	assert.Empty(t, fake.requests)
}

func TestClient_StreamMessage_NoBody(t *testing.T) {
	fake := &recordingHTTPClient{resp: &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}}
	client := NewClientWithHTTP(fake, Config{})

	_, err := client.StreamMessage(context.Background(), SendMessageRequest{
		SessionID: "s", Message: "x", Model: "sonar", ContentChunks: 3, SectionChunks: 3, QueryMode: QueryModeRaw,
	})
	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestClient_NetworkError(t *testing.T) {
	fake := &recordingHTTPClient{err: errors.New("connection refused")}
	client := NewClientWithHTTP(fake, Config{})

	_, err := client.ListPapers(context.Background(), false)
	require.Error(t, err)
	assert.True(t, IsNetworkError(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClient_APIError(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusNotFound, `{"detail":"Paper not found"}`)}
	client := NewClientWithHTTP(fake, Config{})

	_, err := client.ListImages(context.Background(), "0000.00000")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "/api/images/0000.00000", fake.requests[0].URL.Path)
}

// =============================================================================
// Papers / Models / Feedback
// =============================================================================

func TestClient_ListPapers_ProcessedOnly(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusOK, `[
		{"id":1,"arxiv_id":"a","title":"A","processed":true},
		{"id":2,"arxiv_id":"b","title":"B","processed":false},
		{"id":3,"arxiv_id":"c","title":"C","processed":true}]`)}
	client := NewClientWithHTTP(fake, Config{})

	papers, err := client.ListPapers(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "a", papers[0].ArxivID)
	assert.Equal(t, "c", papers[1].ArxivID)
}

func TestClient_ProcessPaper(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/process", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://arxiv.org/abs/1706.03762", body["url"])
		_, _ = io.WriteString(w, `{"arxiv_id":"1706.03762","title":"Attention Is All You Need","authors":"Vaswani et al.","processed":true}`)
	})

	paper, err := client.ProcessPaper(context.Background(), "https://arxiv.org/abs/1706.03762")
	require.NoError(t, err)
	assert.Equal(t, "1706.03762", paper.ArxivID)
	assert.Equal(t, "Vaswani et al.", paper.Authors)
	assert.True(t, paper.Processed)
}

func TestClient_ProcessPaper_InvalidURL(t *testing.T) {
	fake := &recordingHTTPClient{}
	client := NewClientWithHTTP(fake, Config{})

	_, err := client.ProcessPaper(context.Background(), "not a url")
	require.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestClient_ProcessPaper_BackendRejects(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"Invalid arXiv URL format"}`)
	})

	_, err := client.ProcessPaper(context.Background(), "https://example.com/paper")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestClient_GetPaper(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/paper/1706.03762", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":7,"arxiv_id":"1706.03762","title":"Attention",
			"pdf_url":"https://arxiv.org/pdf/1706.03762.pdf","extracted_text":"The dominant sequence",
			"images":[{"id":"f1","page":2,"path":"/tmp/image_f1.png"}],
			"processed":true,"created_at":"2025-01-02T03:04:05","updated_at":null}`)
	})

	paper, err := client.GetPaper(context.Background(), "1706.03762")
	require.NoError(t, err)
	assert.Equal(t, int64(7), paper.ID)
	assert.Equal(t, "https://arxiv.org/pdf/1706.03762.pdf", paper.PDFURL)
	assert.Equal(t, "The dominant sequence", paper.ExtractedText)
	require.Len(t, paper.Images, 1)
	assert.Equal(t, 2, paper.Images[0].Page)
	assert.Equal(t, 2025, paper.CreatedAt.Year())
	assert.True(t, paper.UpdatedAt.IsZero())
}

func TestClient_GetPaper_NotFound(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Paper not found"}`)
	})

	_, err := client.GetPaper(context.Background(), "0000.00000")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = client.GetPaper(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_PaperStatus(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/status/2005.14165", r.URL.Path)
		_, _ = io.WriteString(w, `{"arxiv_id":"2005.14165","processed":false}`)
	})

	status, err := client.PaperStatus(context.Background(), "2005.14165")
	require.NoError(t, err)
	assert.Equal(t, "2005.14165", status.ArxivID)
	assert.False(t, status.Processed)

	_, err = client.PaperStatus(context.Background(), "")
	assert.Error(t, err)
}

func TestClient_ListModels(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusOK, `{"models":{
		"sonar-reasoning":{"name":"Sonar Reasoning","description":"d","type":"reasoning","context_length":"128k","features":["cot"]}}}`)}
	client := NewClientWithHTTP(fake, Config{})

	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	require.Contains(t, models, "sonar-reasoning")
	assert.Equal(t, []string{"cot"}, models["sonar-reasoning"].Features)
}

func TestClient_SubmitFeedback(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusOK, `{"message":"Feedback submitted successfully"}`)}
	client := NewClientWithHTTP(fake, Config{})

	up := true
	require.NoError(t, client.SubmitFeedback(context.Background(), FeedbackRequest{MessageID: 5, ThumbsUp: &up}))
	assert.JSONEq(t, `{"message_id":5,"thumbs_up":true}`, fake.bodies[0])

	err := client.SubmitFeedback(context.Background(), FeedbackRequest{})
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}

func TestClient_BearerToken(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusOK, `[]`)}
	client := NewClientWithHTTP(fake, Config{Token: NewToken("s3cret")})

	_, err := client.ListPapers(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", fake.requests[0].Header.Get("Authorization"))
}

func TestClient_DefaultBaseURL(t *testing.T) {
	client := NewClientWithHTTP(&recordingHTTPClient{}, Config{BaseURL: ""})
	assert.Equal(t, DefaultBaseURL, client.BaseURL())

	client = NewClientWithHTTP(&recordingHTTPClient{}, Config{BaseURL: "http://example.test/"})
	assert.Equal(t, "http://example.test", client.BaseURL())
}

func TestClient_RateLimiterHonorsContext(t *testing.T) {
	fake := &recordingHTTPClient{resp: cannedResponse(http.StatusOK, `[]`)}
	client := NewClientWithHTTP(fake, Config{RequestsPerSecond: 0.001, Burst: 1})

	_, err := client.ListPapers(context.Background(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = client.ListPapers(ctx, false)
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}

// =============================================================================
// Type Tests
// =============================================================================

func TestPageRef_Unmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want PageRef
	}{
		{`3`, "3"},
		{`"iv"`, "iv"},
		{`null`, ""},
		{`2.5`, "2.5"},
	}
	for _, tt := range tests {
		var p PageRef
		require.NoError(t, json.Unmarshal([]byte(tt.in), &p), tt.in)
		assert.Equal(t, tt.want, p, tt.in)
	}
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, IsReasoningModel(ModelSonarReasoning))
	assert.True(t, IsReasoningModel(ModelSonarReasoningPro))
	assert.True(t, IsReasoningModel("custom-Reasoning-v2"))
	assert.False(t, IsReasoningModel(ModelSonar))
	assert.False(t, IsReasoningModel(ModelSonarPro))
}

func TestMissingPaperError_Is(t *testing.T) {
	err := error(&MissingPaperError{SessionID: "s"})
	assert.ErrorIs(t, err, ErrMissingPaper)
	assert.Contains(t, err.Error(), "session s")
}

func TestImageRef_Unmarshal(t *testing.T) {
	var images []ImageRef
	require.NoError(t, json.Unmarshal([]byte(`[
		"https://img.test/a.png",
		{"url":"/api/image/1","title":"Figure 1","description":"Architecture"},
		{"image_url":"https://img.test/b.png","origin_url":"https://arxiv.org/abs/1706.03762"}
	]`), &images))
	require.Len(t, images, 3)
	assert.Equal(t, "https://img.test/a.png", images[0].URL)
	assert.Equal(t, "Figure 1", images[1].Title)
	assert.Equal(t, "https://img.test/b.png", images[2].URL)
	assert.Equal(t, "https://arxiv.org/abs/1706.03762", images[2].Description)
}
