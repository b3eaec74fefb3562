// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat is the chat session controller: the current session, its
// messages, the paper binding, and the send-and-stream lifecycle.
//
// # Architecture
//
//	Controller.SendMessage
//	  → deeprxiv.Client.StreamMessage   (HTTP, returns open body)
//	  → ux.StreamReader                 (lines → events)
//	  → MessageAssembler                (events → assistant message)
//	  → ux.StreamRenderer (optional)    (live terminal output)
//	  → store.StateStore                (deduplicated sources)
//
// # Thread Safety
//
// A Controller is safe for concurrent use. Only one send runs at a time;
// a second SendMessage while one is in flight returns ErrBusy. Reads such
// as ListSessions, State, and Messages may run alongside a send.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/sources"
	"github.com/deeprxiv/deeprxiv/pkg/store"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
)

const (
	// DefaultTitle is the title given to new sessions until the first
	// message renames them.
	DefaultTitle = "New Chat"

	// FailurePlaceholder replaces the assistant text when a send fails.
	FailurePlaceholder = "Sorry, I encountered an error. Please try again."

	// autoTitleRunes is the length of a title derived from the first
	// message.
	autoTitleRunes = 50

	tracerName = "github.com/deeprxiv/deeprxiv/pkg/chat"
)

// API is the subset of *deeprxiv.Client the controller uses.
type API interface {
	CreateSession(ctx context.Context, req deeprxiv.CreateSessionRequest) (*deeprxiv.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*deeprxiv.ChatSession, error)
	ListSessions(ctx context.Context, opts deeprxiv.ListSessionsOptions) ([]deeprxiv.ChatSession, error)
	ShareSession(ctx context.Context, sessionID string) (string, error)
	SubmitFeedback(ctx context.Context, req deeprxiv.FeedbackRequest) error
	StreamMessage(ctx context.Context, req deeprxiv.SendMessageRequest) (io.ReadCloser, error)
}

var _ API = (*deeprxiv.Client)(nil)

// Options are the per-controller request defaults.
type Options struct {
	Model         string
	QueryMode     deeprxiv.QueryMode
	ContentChunks int
	SectionChunks int
	ReturnImages  bool
	IsPublic      bool
	UserID        *int64
}

// DefaultOptions mirrors the web frontend's defaults.
func DefaultOptions() Options {
	return Options{
		Model:         deeprxiv.DefaultModel,
		QueryMode:     deeprxiv.QueryModeEnhanced,
		ContentChunks: 3,
		SectionChunks: 3,
		ReturnImages:  true,
		IsPublic:      true,
	}
}

// Config wires a Controller's dependencies. API is required; everything
// else has a default.
type Config struct {
	API     API
	Store   store.StateStore
	Options Options
	Logger  *slog.Logger
	Metrics *Metrics
	Tracer  trace.Tracer
}

// SendOption adjusts a single SendMessage call.
type SendOption func(*sendOptions)

type sendOptions struct {
	observer ux.StreamRenderer
	model    string
}

// WithObserver streams live updates of this send to r. The controller
// calls r.Finalize before SendMessage returns.
func WithObserver(r ux.StreamRenderer) SendOption {
	return func(o *sendOptions) { o.observer = r }
}

// WithModel overrides the model for this send.
func WithModel(model string) SendOption {
	return func(o *sendOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// =============================================================================
// Controller
// =============================================================================

// Controller owns one chat's client-side state.
type Controller struct {
	api     API
	store   store.StateStore
	opts    Options
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	mu             sync.Mutex
	state          State
	session        *deeprxiv.ChatSession
	messages       []deeprxiv.ChatMessage
	selected       *deeprxiv.PaperRef
	currentSources []deeprxiv.Source

	// generation changes whenever messages is replaced. A send only writes
	// into the list it appended to.
	generation uint64
}

// NewController creates an idle controller with no session.
func NewController(cfg Config) (*Controller, error) {
	if cfg.API == nil {
		return nil, errors.New("chat: API is required")
	}
	c := &Controller{
		api:            cfg.API,
		store:          cfg.Store,
		opts:           cfg.Options,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		currentSources: []deeprxiv.Source{},
	}
	if c.store == nil {
		c.store = store.NewMemory()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	defaults := DefaultOptions()
	if c.opts.Model == "" {
		c.opts.Model = defaults.Model
	}
	if c.opts.QueryMode == "" {
		c.opts.QueryMode = defaults.QueryMode
	}
	if c.opts.ContentChunks == 0 {
		c.opts.ContentChunks = defaults.ContentChunks
	}
	if c.opts.SectionChunks == 0 {
		c.opts.SectionChunks = defaults.SectionChunks
	}
	return c, nil
}

// =============================================================================
// Accessors
// =============================================================================

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session, or nil.
func (c *Controller) Session() *deeprxiv.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Messages = nil
	return &s
}

// Messages returns a copy of the message list.
func (c *Controller) Messages() []deeprxiv.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]deeprxiv.ChatMessage(nil), c.messages...)
}

// CurrentSources returns the deduplicated sources of the latest answer.
func (c *Controller) CurrentSources() []deeprxiv.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]deeprxiv.Source{}, c.currentSources...)
}

// Groups returns CurrentSources split for the sidebar.
func (c *Controller) Groups() sources.Groups {
	return sources.Group(c.CurrentSources())
}

// Paper returns the paper a send would use: the explicit selection, else
// the session's bound paper, else nil.
func (c *Controller) Paper() *deeprxiv.PaperRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paperLocked()
}

func (c *Controller) paperLocked() *deeprxiv.PaperRef {
	if !c.selected.Empty() {
		return c.selected
	}
	return c.session.Paper()
}

// =============================================================================
// Session Operations
// =============================================================================

// SelectPaper sets the explicit paper selection. A nil ref clears it.
func (c *Controller) SelectPaper(ref *deeprxiv.PaperRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ref.Empty() {
		c.selected = nil
		return
	}
	cp := *ref
	c.selected = &cp
}

// CreateSession creates a backend session for paper (or the current
// selection when paper is nil) and makes it current.
func (c *Controller) CreateSession(ctx context.Context, paper *deeprxiv.PaperRef) (*deeprxiv.ChatSession, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if paper.Empty() {
		paper = c.selected
	}
	c.mu.Unlock()

	return c.createSession(ctx, paper, false)
}

// createSession creates and installs a session. A send that holds the
// Sending state passes forSend; any other caller fails with ErrBusy if a
// send started while the request was in flight.
func (c *Controller) createSession(ctx context.Context, paper *deeprxiv.PaperRef, forSend bool) (*deeprxiv.ChatSession, error) {
	req := deeprxiv.CreateSessionRequest{
		Title:    DefaultTitle,
		IsPublic: c.opts.IsPublic,
		UserID:   c.opts.UserID,
	}
	if !paper.Empty() {
		req.PaperID = paper.ID
		req.ArxivID = paper.ArxivID
	}

	session, err := c.api.CreateSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if session.Paper().Empty() && !paper.Empty() {
		session.PaperID = paper.ID
		session.ArxivID = paper.ArxivID
		session.PaperTitle = paper.Title
	}

	c.mu.Lock()
	if !forSend && c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.session = session
	c.messages = nil
	c.generation++
	c.currentSources = []deeprxiv.Source{}
	if !paper.Empty() {
		cp := *paper
		c.selected = &cp
	}
	out := *session
	c.mu.Unlock()

	c.logger.Info("chat session created",
		"session_id", session.SessionID,
		"arxiv_id", session.ArxivID,
	)
	c.rememberSession(ctx, session.SessionID)
	return &out, nil
}

// LoadSession fetches a session with its history and makes it current.
//
// The session's paper becomes the selection. Current sources are restored
// from the last assistant message that carried any.
func (c *Controller) LoadSession(ctx context.Context, sessionID string) (*deeprxiv.ChatSession, error) {
	if c.State() != StateIdle {
		return nil, ErrBusy
	}

	session, err := c.api.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	messages := make([]deeprxiv.ChatMessage, len(session.Messages))
	copy(messages, session.Messages)
	current := []deeprxiv.Source{}
	for i := range messages {
		if messages[i].LocalID == "" {
			messages[i].LocalID = uuid.New().String()
		}
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == deeprxiv.RoleAssistant && len(messages[i].Sources) > 0 {
			current = sources.Deduplicate(messages[i].Sources)
			break
		}
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	c.session = session
	c.messages = messages
	c.generation++
	c.selected = session.Paper()
	c.currentSources = current
	out := *session
	c.mu.Unlock()

	if err := c.store.SaveSources(ctx, session.SessionID, current); err != nil {
		c.logger.Warn("failed to save current sources", "session_id", session.SessionID, "error", err)
	}
	c.rememberSession(ctx, session.SessionID)

	c.logger.Debug("chat session loaded",
		"session_id", session.SessionID,
		"messages", len(messages),
		"sources", len(current),
	)
	return &out, nil
}

// Resume loads the last session this store remembers. It returns
// ErrNoSession if there is none.
func (c *Controller) Resume(ctx context.Context) (*deeprxiv.ChatSession, error) {
	last, err := c.store.LastSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last session: %w", err)
	}
	if last == "" {
		return nil, ErrNoSession
	}
	return c.LoadSession(ctx, last)
}

// ListSessions returns the backend's sessions minus those hidden locally.
func (c *Controller) ListSessions(ctx context.Context, opts deeprxiv.ListSessionsOptions) ([]deeprxiv.ChatSession, error) {
	if opts.UserID == nil {
		opts.UserID = c.opts.UserID
	}
	all, err := c.api.ListSessions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	hidden, err := c.store.HiddenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read hidden sessions: %w", err)
	}

	visible := make([]deeprxiv.ChatSession, 0, len(all))
	for _, s := range all {
		if !hidden[s.SessionID] {
			visible = append(visible, s)
		}
	}
	return visible, nil
}

// HideSession hides a session from ListSessions. Nothing is deleted on the
// backend. Hiding the current session clears it.
func (c *Controller) HideSession(ctx context.Context, sessionID string) error {
	if err := c.store.HideSession(ctx, sessionID); err != nil {
		return fmt.Errorf("hide session %s: %w", sessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.SessionID == sessionID && c.state == StateIdle {
		c.session = nil
		c.messages = nil
		c.generation++
		c.currentSources = []deeprxiv.Source{}
	}
	return nil
}

// Share makes the current session public and returns its share URL.
func (c *Controller) Share(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return "", ErrNoSession
	}
	sessionID := c.session.SessionID
	c.mu.Unlock()

	shareURL, err := c.api.ShareSession(ctx, sessionID)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	if c.session != nil && c.session.SessionID == sessionID {
		c.session.IsPublic = true
		c.session.ShareURL = shareURL
	}
	c.mu.Unlock()
	return shareURL, nil
}

// Feedback rates a stored assistant message and mirrors the rating
// locally on success.
func (c *Controller) Feedback(ctx context.Context, messageID int64, thumbsUp, thumbsDown *bool, suggested string) error {
	req := deeprxiv.FeedbackRequest{
		MessageID:       messageID,
		ThumbsUp:        thumbsUp,
		ThumbsDown:      thumbsDown,
		SuggestedAnswer: suggested,
	}
	if err := c.api.SubmitFeedback(ctx, req); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].ThumbsUp = thumbsUp
			c.messages[i].ThumbsDown = thumbsDown
		}
	}
	return nil
}

// =============================================================================
// SendMessage
// =============================================================================

// SendMessage sends text to the current session and streams the answer.
//
// # Description
//
// Checks run in order, and none of them touches the network:
//
//  1. blank text → ErrEmptyMessage
//  2. controller not idle → ErrBusy
//  3. no selected or bound paper → *deeprxiv.MissingPaperError
//
// A session is created if none is current. The user message is appended
// at once and the assistant message grows as events arrive. When metadata
// arrives its deduplicated sources replace the current sources and are
// saved to the store.
//
// # Outputs
//
//   - deeprxiv.ChatMessage: the final assistant message. On failure its
//     Content is FailurePlaceholder and Error holds the cause.
//   - error: nil, or the failure (*deeprxiv.NetworkError,
//     *deeprxiv.StreamError, *deeprxiv.APIError, ctx.Err()). The
//     controller is idle again in every case.
func (c *Controller) SendMessage(ctx context.Context, text string, opts ...SendOption) (deeprxiv.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return deeprxiv.ChatMessage{}, ErrEmptyMessage
	}

	so := sendOptions{model: c.opts.Model}
	for _, opt := range opts {
		opt(&so)
	}
	if so.observer != nil {
		defer so.observer.Finalize()
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return deeprxiv.ChatMessage{}, ErrBusy
	}
	paper := c.paperLocked()
	if paper.Empty() {
		sessionID := ""
		if c.session != nil {
			sessionID = c.session.SessionID
		}
		c.mu.Unlock()
		return deeprxiv.ChatMessage{}, &deeprxiv.MissingPaperError{SessionID: sessionID}
	}
	paper = &deeprxiv.PaperRef{ID: paper.ID, ArxivID: paper.ArxivID, Title: paper.Title}
	if err := c.transitionLocked(StateSending); err != nil {
		c.mu.Unlock()
		return deeprxiv.ChatMessage{}, err
	}
	hasSession := c.session != nil
	generation := c.generation
	c.mu.Unlock()

	ctx, span := c.tracer.Start(ctx, "chat.send_message", trace.WithAttributes(
		attribute.String("chat.model", so.model),
		attribute.String("chat.arxiv_id", paper.ArxivID),
	))
	defer span.End()

	timer := c.metrics.startStream()
	s := &send{c: c, span: span, timer: timer, observer: so.observer, assistantIdx: -1, generation: generation}

	if so.observer != nil {
		so.observer.OnStatus(ctx, "Thinking...")
	}

	if !hasSession {
		if _, err := c.createSession(ctx, paper, true); err != nil {
			return s.fail(ctx, err)
		}
	}

	sessionID, generation, err := c.appendUserMessage(text)
	if err != nil {
		return s.fail(ctx, err)
	}
	s.generation = generation
	span.SetAttributes(attribute.String("chat.session_id", sessionID))

	req := deeprxiv.SendMessageRequest{
		SessionID:     sessionID,
		Message:       text,
		Model:         so.model,
		Stream:        true,
		ContentChunks: c.opts.ContentChunks,
		SectionChunks: c.opts.SectionChunks,
		QueryMode:     c.opts.QueryMode,
		ReturnImages:  c.opts.ReturnImages,
	}
	body, err := c.api.StreamMessage(ctx, req)
	if err != nil {
		return s.fail(ctx, err)
	}
	defer body.Close()

	asm := NewMessageAssembler(deeprxiv.ChatMessage{
		LocalID:   uuid.New().String(),
		QueryMode: c.opts.QueryMode,
		ModelUsed: so.model,
		CreatedAt: deeprxiv.Timestamp{Time: time.Now().UTC()},
	}, so.model, so.observer)
	s.asm = asm

	c.mu.Lock()
	if err := c.transitionLocked(StateStreaming); err != nil {
		c.mu.Unlock()
		return s.fail(ctx, err)
	}
	if c.generation == s.generation {
		c.messages = append(c.messages, asm.Message())
		s.assistantIdx = len(c.messages) - 1
	}
	c.mu.Unlock()

	reader := ux.NewSSEStreamReader(ux.NewSSEParser(),
		ux.WithReaderLogger(c.logger),
		ux.WithMalformedHook(func(error) { c.metrics.MalformedLinesTotal.Inc() }),
	)
	readErr := reader.Read(ctx, body, func(event ux.StreamEvent) error {
		s.events++
		timer.event(event.Type())
		asm.Apply(ctx, event)
		s.sync(ctx, event)
		return nil
	})

	finishErr := asm.Finish()
	if readErr != nil {
		return s.fail(ctx, readErr)
	}
	if finishErr != nil {
		return s.fail(ctx, finishErr)
	}
	return s.succeed(ctx)
}

// appendUserMessage adds the optimistic user message and applies the
// auto-title. It returns the session id to send to and the generation of
// the list the message went into.
func (c *Controller) appendUserMessage(text string) (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return "", 0, ErrNoSession
	}

	firstUserMessage := true
	for _, m := range c.messages {
		if m.Role == deeprxiv.RoleUser {
			firstUserMessage = false
			break
		}
	}
	if firstUserMessage && c.session.Title == DefaultTitle {
		c.session.Title = autoTitle(text)
	}

	c.messages = append(c.messages, deeprxiv.ChatMessage{
		LocalID:   uuid.New().String(),
		Role:      deeprxiv.RoleUser,
		Content:   text,
		CreatedAt: deeprxiv.Timestamp{Time: time.Now().UTC()},
	})
	c.session.MessageCount++
	return c.session.SessionID, c.generation, nil
}

// autoTitle returns the first autoTitleRunes runes of text.
func autoTitle(text string) string {
	if utf8.RuneCountInString(text) <= autoTitleRunes {
		return text
	}
	return string([]rune(text)[:autoTitleRunes])
}

func (c *Controller) transitionLocked(to State) error {
	if err := checkTransition(c.state, to); err != nil {
		return err
	}
	c.logger.Debug("chat state transition", "from", c.state.String(), "to", to.String())
	c.state = to
	return nil
}

func (c *Controller) rememberSession(ctx context.Context, sessionID string) {
	if err := c.store.SetLastSession(ctx, sessionID); err != nil {
		c.logger.Warn("failed to remember session", "session_id", sessionID, "error", err)
	}
}

// =============================================================================
// send (one in-flight SendMessage)
// =============================================================================

type send struct {
	c            *Controller
	span         trace.Span
	timer        *streamTimer
	observer     ux.StreamRenderer
	asm          *MessageAssembler
	assistantIdx int
	generation   uint64
	events       int
}

// ownsSlotLocked reports whether the assistant message this send appended
// is still in the controller's list. Callers hold c.mu.
func (s *send) ownsSlotLocked() bool {
	c := s.c
	return c.generation == s.generation && s.assistantIdx >= 0 && s.assistantIdx < len(c.messages)
}

// sync copies the assembler's message into the list and, on metadata,
// replaces the current sources.
func (s *send) sync(ctx context.Context, event ux.StreamEvent) {
	c := s.c
	msg := s.asm.Message()

	var (
		sessionID string
		current   []deeprxiv.Source
	)
	c.mu.Lock()
	if !s.ownsSlotLocked() {
		c.mu.Unlock()
		return
	}
	c.messages[s.assistantIdx] = msg
	if meta, ok := event.Payload.(ux.MetadataEvent); ok {
		current = sources.Deduplicate(meta.Sources)
		c.currentSources = current
		if c.session != nil {
			sessionID = c.session.SessionID
		}
	}
	c.mu.Unlock()

	if current != nil && sessionID != "" {
		if err := c.store.SaveSources(ctx, sessionID, current); err != nil {
			c.logger.Warn("failed to save current sources", "session_id", sessionID, "error", err)
		}
	}
}

func (s *send) succeed(ctx context.Context) (deeprxiv.ChatMessage, error) {
	c := s.c
	msg := s.asm.Message()

	c.mu.Lock()
	if s.ownsSlotLocked() {
		c.messages[s.assistantIdx] = msg
		if c.session != nil {
			c.session.MessageCount++
		}
	}
	err := c.transitionLocked(StateIdle)
	c.mu.Unlock()

	if s.observer != nil {
		s.observer.OnDone(ctx)
	}
	s.timer.finish(statusSuccess)
	s.span.SetAttributes(attribute.Int("chat.events", s.events))
	s.span.SetStatus(codes.Ok, "")
	return msg, err
}

// fail substitutes the placeholder, passes through Error, and returns to
// Idle.
func (s *send) fail(ctx context.Context, cause error) (deeprxiv.ChatMessage, error) {
	c := s.c

	var msg deeprxiv.ChatMessage
	if s.asm != nil {
		msg = s.asm.Message()
	} else {
		msg = deeprxiv.ChatMessage{
			LocalID:   uuid.New().String(),
			Role:      deeprxiv.RoleAssistant,
			CreatedAt: deeprxiv.Timestamp{Time: time.Now().UTC()},
		}
	}
	msg.Content = FailurePlaceholder
	msg.IsStreaming = false
	msg.Error = cause.Error()

	c.mu.Lock()
	switch {
	case s.ownsSlotLocked():
		c.messages[s.assistantIdx] = msg
	case s.assistantIdx < 0 && c.session != nil && c.generation == s.generation:
		c.messages = append(c.messages, msg)
	}
	if err := c.transitionLocked(StateError); err != nil {
		c.logger.Error("unexpected state on failure", "error", err)
	}
	if err := c.transitionLocked(StateIdle); err != nil {
		c.logger.Error("unexpected state on failure", "error", err)
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.logger.Error("send message failed", "error", cause, "events", s.events)
	if s.observer != nil {
		s.observer.OnError(ctx, cause)
	}
	s.timer.finish(statusError)
	s.span.RecordError(cause)
	s.span.SetStatus(codes.Error, cause.Error())
	return msg, cause
}
