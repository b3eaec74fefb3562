// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// fakeAPI is an in-memory API. Each StreamMessage call pops the next body
// from streams.
type fakeAPI struct {
	mu sync.Mutex

	sessions  map[string]*deeprxiv.ChatSession
	list      []deeprxiv.ChatSession
	streams   []io.ReadCloser
	streamErr error
	shareErr  error
	createErr error

	// getGate, when set, holds GetSession and CreateSession after they
	// signal on entered, until the gate is closed.
	getGate chan struct{}
	entered chan struct{}

	created  []deeprxiv.CreateSessionRequest
	sent     []deeprxiv.SendMessageRequest
	feedback []deeprxiv.FeedbackRequest
	calls    int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{sessions: make(map[string]*deeprxiv.ChatSession)}
}

func (f *fakeAPI) queueStream(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, io.NopCloser(strings.NewReader(body)))
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// hold blocks on getGate, if one is set.
func (f *fakeAPI) hold() {
	f.mu.Lock()
	gate, entered := f.getGate, f.entered
	f.mu.Unlock()
	if gate == nil {
		return
	}
	if entered != nil {
		entered <- struct{}{}
	}
	<-gate
}

func (f *fakeAPI) CreateSession(ctx context.Context, req deeprxiv.CreateSessionRequest) (*deeprxiv.ChatSession, error) {
	f.hold()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	s := &deeprxiv.ChatSession{
		ID:        int64(len(f.created)),
		SessionID: fmt.Sprintf("sess-%d", len(f.created)),
		Title:     req.Title,
		PaperID:   req.PaperID,
		ArxivID:   req.ArxivID,
		IsPublic:  req.IsPublic,
	}
	f.sessions[s.SessionID] = s
	return s, nil
}

func (f *fakeAPI) GetSession(ctx context.Context, sessionID string) (*deeprxiv.ChatSession, error) {
	f.hold()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, &deeprxiv.APIError{StatusCode: 404, Body: `{"detail":"Chat session not found"}`}
	}
	cp := *s
	return &cp, nil
}

func (f *fakeAPI) ListSessions(ctx context.Context, opts deeprxiv.ListSessionsOptions) ([]deeprxiv.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return append([]deeprxiv.ChatSession(nil), f.list...), nil
}

func (f *fakeAPI) ShareSession(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.shareErr != nil {
		return "", f.shareErr
	}
	return "share-" + sessionID, nil
}

func (f *fakeAPI) SubmitFeedback(ctx context.Context, req deeprxiv.FeedbackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.feedback = append(f.feedback, req)
	return nil
}

func (f *fakeAPI) StreamMessage(ctx context.Context, req deeprxiv.SendMessageRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sent = append(f.sent, req)
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if len(f.streams) == 0 {
		return nil, &deeprxiv.StreamError{Err: deeprxiv.ErrNoBody}
	}
	body := f.streams[0]
	f.streams = f.streams[1:]
	return body, nil
}

var _ API = (*fakeAPI)(nil)

// sse joins data lines into a stream body.
func sse(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: ")
		b.WriteString(l)
		b.WriteString("\n\n")
	}
	return b.String()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func int64Ptr(v int64) *int64 { return &v }

func paperRef() *deeprxiv.PaperRef {
	return &deeprxiv.PaperRef{ID: int64Ptr(7), ArxivID: "1706.03762", Title: "Attention Is All You Need"}
}
