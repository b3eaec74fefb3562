// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/store"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
)

// =============================================================================
// Helpers
// =============================================================================

type harness struct {
	api     *fakeAPI
	store   *store.Memory
	metrics *Metrics
	spans   *tracetest.SpanRecorder
	ctrl    *Controller
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		api:     newFakeAPI(),
		store:   store.NewMemory(),
		metrics: NewMetrics(prometheus.NewRegistry()),
		spans:   tracetest.NewSpanRecorder(),
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctrl, err := NewController(Config{
		API:     h.api,
		Store:   h.store,
		Options: opts,
		Logger:  quietLogger(),
		Metrics: h.metrics,
		Tracer:  tp.Tracer("test"),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

// countingTransport counts round trips and fails each one.
type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) Do(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return nil, errors.New("unexpected request")
}

const (
	doneLine = `{"type":"done"}`
)

// =============================================================================
// Construction
// =============================================================================

func TestNewController_RequiresAPI(t *testing.T) {
	_, err := NewController(Config{})
	require.Error(t, err)
}

func TestNewController_Defaults(t *testing.T) {
	ctrl, err := NewController(Config{API: newFakeAPI()})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, ctrl.State())
	assert.Nil(t, ctrl.Session())
	assert.Empty(t, ctrl.Messages())
	assert.NotNil(t, ctrl.CurrentSources())
	assert.Equal(t, DefaultOptions().Model, ctrl.opts.Model)
	assert.Equal(t, 3, ctrl.opts.ContentChunks)
}

// =============================================================================
// SendMessage
// =============================================================================

func TestSendMessage_ConcatenatesContent(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"content","content":"ab"}`,
		`{"type":"content","content":"cd"}`,
		`{"type":"metadata","citations":[],"sources":[]}`,
		doneLine,
	))

	msg, err := h.ctrl.SendMessage(context.Background(), "  hello  ")
	require.NoError(t, err)

	assert.Equal(t, "abcd", msg.Content)
	assert.Equal(t, deeprxiv.RoleAssistant, msg.Role)
	assert.False(t, msg.IsStreaming)
	assert.Empty(t, msg.Error)
	assert.Equal(t, StateIdle, h.ctrl.State())

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, deeprxiv.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].LocalID)
	assert.Equal(t, "abcd", msgs[1].Content)

	require.Len(t, h.api.created, 1)
	assert.Equal(t, DefaultTitle, h.api.created[0].Title)
	assert.Equal(t, int64(7), *h.api.created[0].PaperID)
	assert.Equal(t, "1706.03762", h.api.created[0].ArxivID)

	require.Len(t, h.api.sent, 1)
	sent := h.api.sent[0]
	assert.Equal(t, "sess-1", sent.SessionID)
	assert.Equal(t, "hello", sent.Message)
	assert.True(t, sent.Stream)
	assert.Equal(t, deeprxiv.ModelSonar, sent.Model)
	assert.Equal(t, deeprxiv.QueryModeEnhanced, sent.QueryMode)

	last, err := h.store.LastSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-1", last)
}

func TestSendMessage_ReasoningModelSplitsThoughts(t *testing.T) {
	h := newHarness(t, Options{Model: deeprxiv.ModelSonarReasoning})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"content","content":"thinking..."}`,
		`{"type":"content","content":"\nfinal"}`,
		`{"type":"content","content":" answer"}`,
		doneLine,
	))

	obs := ux.NewBufferStreamRenderer()
	msg, err := h.ctrl.SendMessage(context.Background(), "why?", WithObserver(obs))
	require.NoError(t, err)

	assert.Equal(t, "thinking...", msg.ChainOfThought)
	assert.Equal(t, "final answer", msg.Content)
	assert.Equal(t, []string{
		"status", "chain_of_thought", "content", "content", "done",
	}, obs.Calls())
	assert.Equal(t, "final answer", obs.Result().Answer)
}

func TestSendMessage_WithModelOverrides(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(`{"type":"content","content":"x\ny"}`, doneLine))

	msg, err := h.ctrl.SendMessage(context.Background(), "q", WithModel(deeprxiv.ModelSonarReasoningPro))
	require.NoError(t, err)
	assert.Equal(t, deeprxiv.ModelSonarReasoningPro, h.api.sent[0].Model)
	assert.Equal(t, "x", msg.ChainOfThought)
	assert.Equal(t, "y", msg.Content)
}

func TestSendMessage_SkipsMalformedLine(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"content","content":"one "}`,
		`{not json`,
		`{"type":"mystery"}`,
		`{"type":"content","content":"two"}`,
		doneLine,
	))

	msg, err := h.ctrl.SendMessage(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "one two", msg.Content)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.MalformedLinesTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.EventsTotal.WithLabelValues("content")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StreamsTotal.WithLabelValues(statusSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ActiveStreams))
}

func TestSendMessage_MissingPaperMakesNoRequest(t *testing.T) {
	transport := &countingTransport{}
	client := deeprxiv.NewClientWithHTTP(transport, deeprxiv.Config{Logger: quietLogger()})
	ctrl, err := NewController(Config{API: client, Logger: quietLogger()})
	require.NoError(t, err)

	_, err = ctrl.SendMessage(context.Background(), "hello")

	var missing *deeprxiv.MissingPaperError
	require.True(t, errors.As(err, &missing))
	assert.True(t, errors.Is(err, deeprxiv.ErrMissingPaper))
	assert.Equal(t, int32(0), transport.calls.Load())
	assert.Equal(t, StateIdle, ctrl.State())
	assert.Empty(t, ctrl.Messages())
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())

	_, err := h.ctrl.SendMessage(context.Background(), " \n\t ")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Equal(t, 0, h.api.callCount())
}

func TestSendMessage_UsesSessionPaper(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.sessions["s-bound"] = &deeprxiv.ChatSession{
		SessionID: "s-bound",
		Title:     "Bound",
		PaperID:   int64Ptr(3),
		ArxivID:   "2101.00001",
	}
	_, err := h.ctrl.LoadSession(context.Background(), "s-bound")
	require.NoError(t, err)
	h.ctrl.SelectPaper(nil)

	h.api.queueStream(sse(`{"type":"content","content":"ok"}`, doneLine))
	_, err = h.ctrl.SendMessage(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, h.api.created)
	assert.Equal(t, "s-bound", h.api.sent[0].SessionID)
}

func TestSendMessage_SourcesDeduplicatedAndStored(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"content","content":"answer"}`,
		`{"type":"metadata","citations":["https://arxiv.org/abs/1706.03762"],"sources":[`+
			`{"type":"content","title":"Chunk A","estimated_page":1,"chunk_index":0},`+
			`{"type":"content","title":"Chunk A again","estimated_page":1,"chunk_index":0},`+
			`{"type":"content","title":"Chunk B","estimated_page":2,"chunk_index":1},`+
			`{"type":"section","title":"Introduction","section_id":"s1"},`+
			`{"type":"subsection","title":"Introduction"}`+
			`]}`,
		doneLine,
	))

	msg, err := h.ctrl.SendMessage(context.Background(), "q")
	require.NoError(t, err)

	assert.Len(t, msg.Sources, 5, "the message keeps the raw list")
	assert.Equal(t, []string{"https://arxiv.org/abs/1706.03762"}, msg.Citations)

	groups := h.ctrl.Groups()
	assert.Equal(t, 3, groups.Len())
	assert.Len(t, groups.RawContent, 2)
	assert.Len(t, groups.Sections, 1)

	saved, err := h.store.LoadSources(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, saved, 3)
	assert.Equal(t, h.ctrl.CurrentSources(), saved)
}

func TestSendMessage_SourcesReplacedByNextAnswer(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"metadata","sources":[{"type":"section","title":"A","section_id":"a"}]}`,
		doneLine,
	))
	h.api.queueStream(sse(
		`{"type":"metadata","sources":[]}`,
		doneLine,
	))

	_, err := h.ctrl.SendMessage(context.Background(), "one")
	require.NoError(t, err)
	assert.Len(t, h.ctrl.CurrentSources(), 1)

	_, err = h.ctrl.SendMessage(context.Background(), "two")
	require.NoError(t, err)
	assert.Empty(t, h.ctrl.CurrentSources())
	assert.Len(t, h.api.created, 1, "the second send reuses the session")

	saved, err := h.store.LoadSources(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestSendMessage_BusyWhileStreaming(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())

	pr, pw := io.Pipe()
	h.api.mu.Lock()
	h.api.streams = append(h.api.streams, pr)
	h.api.mu.Unlock()

	type result struct {
		msg deeprxiv.ChatMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := h.ctrl.SendMessage(context.Background(), "first")
		done <- result{msg, err}
	}()

	_, err := pw.Write([]byte(sse(`{"type":"content","content":"partial"}`)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)

	_, err = h.ctrl.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.ctrl.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = h.ctrl.LoadSession(context.Background(), "sess-1")
	assert.ErrorIs(t, err, ErrBusy)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsStreaming)

	_, err = pw.Write([]byte(sse(doneLine)))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, "partial", r.msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not finish")
	}
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Len(t, h.api.sent, 1)
}

// startGatedSend opens a session, holds the fake backend's next
// GetSession/CreateSession in call, and streams a send until it is
// Streaming. The returned writer feeds the rest of the stream.
func startGatedSend(t *testing.T, h *harness, call func() error) (*io.PipeWriter, <-chan error, <-chan error, chan struct{}) {
	t.Helper()
	h.ctrl.SelectPaper(paperRef())
	_, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	gate := make(chan struct{})
	h.api.mu.Lock()
	h.api.getGate = gate
	h.api.entered = make(chan struct{}, 4)
	entered := h.api.entered
	h.api.mu.Unlock()

	callErr := make(chan error, 1)
	go func() { callErr <- call() }()
	<-entered

	pr, pw := io.Pipe()
	h.api.mu.Lock()
	h.api.streams = append(h.api.streams, pr)
	h.api.mu.Unlock()

	sendErr := make(chan error, 1)
	go func() {
		_, err := h.ctrl.SendMessage(context.Background(), "hi")
		sendErr <- err
	}()
	_, err = pw.Write([]byte(sse(`{"type":"content","content":"partial"}`)))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.ctrl.State() == StateStreaming
	}, time.Second, 5*time.Millisecond)
	return pw, callErr, sendErr, gate
}

func finishGatedSend(t *testing.T, h *harness, pw *io.PipeWriter, sendErr <-chan error) {
	t.Helper()
	_, err := pw.Write([]byte(sse(`{"type":"content","content":" answer"}`, doneLine)))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	select {
	case err := <-sendErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not finish")
	}

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.Equal(t, "sess-1", h.ctrl.Session().SessionID)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestLoadSession_BusyWhenSendStartsDuringFetch(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.sessions["sess-old"] = &deeprxiv.ChatSession{
		SessionID: "sess-old",
		Title:     "Old",
		ArxivID:   "1706.03762",
		Messages:  []deeprxiv.ChatMessage{{Role: deeprxiv.RoleUser, Content: "earlier"}},
	}

	pw, loadErr, sendErr, gate := startGatedSend(t, h, func() error {
		_, err := h.ctrl.LoadSession(context.Background(), "sess-old")
		return err
	})
	close(gate)
	assert.ErrorIs(t, <-loadErr, ErrBusy)

	finishGatedSend(t, h, pw, sendErr)
}

func TestCreateSession_BusyWhenSendStartsDuringRequest(t *testing.T) {
	h := newHarness(t, Options{})

	pw, createErr, sendErr, gate := startGatedSend(t, h, func() error {
		_, err := h.ctrl.CreateSession(context.Background(), nil)
		return err
	})
	close(gate)
	assert.ErrorIs(t, <-createErr, ErrBusy)

	finishGatedSend(t, h, pw, sendErr)
}

func TestSend_StaleSlotIsNotWritten(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	_, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	s := &send{
		c:            h.ctrl,
		span:         trace.SpanFromContext(context.Background()),
		timer:        h.metrics.startStream(),
		asm:          NewMessageAssembler(deeprxiv.ChatMessage{}, "sonar", nil),
		assistantIdx: 1,
		generation:   h.ctrl.generation - 1,
	}
	assert.NotPanics(t, func() {
		s.sync(context.Background(), ux.StreamEvent{Payload: ux.ContentEvent{Content: "late"}})
		_, _ = s.fail(context.Background(), errors.New("late failure"))
	})
	assert.Empty(t, h.ctrl.Messages())
	assert.Equal(t, StateIdle, h.ctrl.State())
}

func TestSendMessage_AutoTitle(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(doneLine))
	h.api.queueStream(sse(doneLine))

	long := strings.Repeat("é", 60)
	_, err := h.ctrl.SendMessage(context.Background(), long)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 50), h.ctrl.Session().Title)

	_, err = h.ctrl.SendMessage(context.Background(), "a different question")
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 50), h.ctrl.Session().Title)
}

func TestAutoTitle(t *testing.T) {
	assert.Equal(t, "short", autoTitle("short"))
	exact := strings.Repeat("x", 50)
	assert.Equal(t, exact, autoTitle(exact))
	assert.Equal(t, exact, autoTitle(exact+"yz"))
}

func TestSendMessage_ErrorEventShowsPlaceholder(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"content","content":"half an ans"}`,
		`{"type":"error","content":"upstream model timed out"}`,
		doneLine,
	))

	obs := ux.NewBufferStreamRenderer()
	msg, err := h.ctrl.SendMessage(context.Background(), "q", WithObserver(obs))

	var streamErr *deeprxiv.StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "upstream model timed out", streamErr.Message)
	assert.Equal(t, FailurePlaceholder, msg.Content)
	assert.Equal(t, err.Error(), msg.Error)
	assert.Equal(t, StateIdle, h.ctrl.State())

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, FailurePlaceholder, msgs[1].Content)
	assert.Contains(t, obs.Calls(), "error")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StreamsTotal.WithLabelValues(statusError)))
}

func TestSendMessage_TransportFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.streamErr = &deeprxiv.NetworkError{Op: "stream message", Err: errors.New("connection refused")}

	msg, err := h.ctrl.SendMessage(context.Background(), "q")
	assert.True(t, deeprxiv.IsNetworkError(err))
	assert.Equal(t, FailurePlaceholder, msg.Content)
	assert.Equal(t, StateIdle, h.ctrl.State())

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, deeprxiv.RoleUser, msgs[0].Role)
	assert.Equal(t, FailurePlaceholder, msgs[1].Content)
}

func TestSendMessage_CreateSessionFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.createErr = &deeprxiv.APIError{StatusCode: 500, Body: "boom"}

	_, err := h.ctrl.SendMessage(context.Background(), "q")
	var apiErr *deeprxiv.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, StateIdle, h.ctrl.State())
	assert.Nil(t, h.ctrl.Session())
	assert.Empty(t, h.ctrl.Messages())
	assert.Empty(t, h.api.sent)
}

func TestSendMessage_ReadFailureMidStream(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	body := io.MultiReader(
		strings.NewReader(sse(`{"type":"content","content":"par"}`)),
		errReader{errors.New("connection reset")},
	)
	h.api.mu.Lock()
	h.api.streams = append(h.api.streams, io.NopCloser(body))
	h.api.mu.Unlock()

	msg, err := h.ctrl.SendMessage(context.Background(), "q")
	assert.True(t, deeprxiv.IsStreamError(err))
	assert.Equal(t, FailurePlaceholder, msg.Content)
	assert.Equal(t, StateIdle, h.ctrl.State())
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func TestSendMessage_RecordsSpan(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(`{"type":"content","content":"hi"}`, doneLine))

	_, err := h.ctrl.SendMessage(context.Background(), "q")
	require.NoError(t, err)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "chat.send_message", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "sess-1", attrs["chat.session_id"])
	assert.Equal(t, "1706.03762", attrs["chat.arxiv_id"])
	assert.Equal(t, "2", attrs["chat.events"])
}

func TestSendMessage_FailedSpanHasErrorStatus(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.streamErr = errors.New("nope")

	_, err := h.ctrl.SendMessage(context.Background(), "q")
	require.Error(t, err)

	ended := h.spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}

// =============================================================================
// Session Operations
// =============================================================================

func TestCreateSession_UsesSelection(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())

	s, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, s.Title)
	assert.Equal(t, "1706.03762", s.ArxivID)
	assert.Equal(t, "1706.03762", h.ctrl.Paper().ArxivID)
	assert.True(t, h.api.created[0].IsPublic)
}

func TestCreateSession_ResetsMessages(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	h.api.queueStream(sse(
		`{"type":"metadata","sources":[{"type":"section","title":"A"}]}`,
		doneLine,
	))
	_, err := h.ctrl.SendMessage(context.Background(), "q")
	require.NoError(t, err)
	require.NotEmpty(t, h.ctrl.Messages())

	_, err = h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, h.ctrl.Messages())
	assert.Empty(t, h.ctrl.CurrentSources())
	assert.Equal(t, "sess-2", h.ctrl.Session().SessionID)
}

func TestLoadSession_RestoresHistoryAndSources(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.sessions["s-old"] = &deeprxiv.ChatSession{
		SessionID:  "s-old",
		Title:      "Earlier",
		PaperID:    int64Ptr(9),
		ArxivID:    "1810.04805",
		PaperTitle: "BERT",
		Messages: []deeprxiv.ChatMessage{
			{ID: 1, Role: deeprxiv.RoleUser, Content: "q1"},
			{ID: 2, Role: deeprxiv.RoleAssistant, Content: "a1", Sources: []deeprxiv.Source{
				{Type: "section", Title: "Old", SectionID: "o"},
			}},
			{ID: 3, Role: deeprxiv.RoleUser, Content: "q2"},
			{ID: 4, Role: deeprxiv.RoleAssistant, Content: "a2", Sources: []deeprxiv.Source{
				{Type: "section", Title: "Pretraining", SectionID: "p"},
				{Type: "section", Title: "Pretraining", SectionID: "p"},
				{Type: "subsection", Title: "Pretraining"},
			}},
			{ID: 5, Role: deeprxiv.RoleAssistant, Content: "no sources"},
		},
	}

	s, err := h.ctrl.LoadSession(context.Background(), "s-old")
	require.NoError(t, err)
	assert.Equal(t, "Earlier", s.Title)

	msgs := h.ctrl.Messages()
	require.Len(t, msgs, 5)
	for _, m := range msgs {
		assert.NotEmpty(t, m.LocalID)
	}

	current := h.ctrl.CurrentSources()
	require.Len(t, current, 1)
	assert.Equal(t, "Pretraining", current[0].Title)

	paper := h.ctrl.Paper()
	require.NotNil(t, paper)
	assert.Equal(t, "1810.04805", paper.ArxivID)
	assert.Equal(t, "BERT", paper.Title)

	saved, err := h.store.LoadSources(context.Background(), "s-old")
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestLoadSession_NotFound(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.ctrl.LoadSession(context.Background(), "missing")
	var apiErr *deeprxiv.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Nil(t, h.ctrl.Session())
}

func TestResume(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.ctrl.Resume(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	h.api.sessions["s-last"] = &deeprxiv.ChatSession{SessionID: "s-last", Title: "Last"}
	require.NoError(t, h.store.SetLastSession(context.Background(), "s-last"))

	s, err := h.ctrl.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-last", s.SessionID)
	assert.Equal(t, "s-last", h.ctrl.Session().SessionID)
}

func TestListSessions_FiltersHidden(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.list = []deeprxiv.ChatSession{
		{SessionID: "a", Title: "A"},
		{SessionID: "b", Title: "B"},
		{SessionID: "c", Title: "C"},
	}
	require.NoError(t, h.ctrl.HideSession(context.Background(), "b"))

	got, err := h.ctrl.ListSessions(context.Background(), deeprxiv.ListSessionsOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].SessionID)
	assert.Equal(t, "c", got[1].SessionID)
}

func TestHideSession_ClearsCurrent(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	_, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, h.ctrl.HideSession(context.Background(), "sess-1"))
	assert.Nil(t, h.ctrl.Session())
	assert.Empty(t, h.ctrl.Messages())
	assert.NotNil(t, h.ctrl.Paper(), "the paper selection survives")
}

func TestShare(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.ctrl.Share(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	h.ctrl.SelectPaper(paperRef())
	_, err = h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	url, err := h.ctrl.Share(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "share-sess-1", url)
	assert.True(t, h.ctrl.Session().IsPublic)
	assert.Equal(t, "share-sess-1", h.ctrl.Session().ShareURL)
}

func TestShare_PassesThroughShareError(t *testing.T) {
	h := newHarness(t, Options{})
	h.ctrl.SelectPaper(paperRef())
	_, err := h.ctrl.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	h.api.shareErr = &deeprxiv.ShareError{SessionID: "sess-1", StatusCode: 403}
	_, err = h.ctrl.Share(context.Background())

	var shareErr *deeprxiv.ShareError
	require.True(t, errors.As(err, &shareErr))
	assert.Equal(t, 403, shareErr.StatusCode)
	assert.Empty(t, h.ctrl.Session().ShareURL)
}

func TestFeedback_UpdatesLocalMessage(t *testing.T) {
	h := newHarness(t, Options{})
	h.api.sessions["s"] = &deeprxiv.ChatSession{
		SessionID: "s",
		Messages: []deeprxiv.ChatMessage{
			{ID: 11, Role: deeprxiv.RoleAssistant, Content: "answer"},
		},
	}
	_, err := h.ctrl.LoadSession(context.Background(), "s")
	require.NoError(t, err)

	up := true
	require.NoError(t, h.ctrl.Feedback(context.Background(), 11, &up, nil, ""))

	require.Len(t, h.api.feedback, 1)
	assert.Equal(t, int64(11), h.api.feedback[0].MessageID)
	msgs := h.ctrl.Messages()
	require.NotNil(t, msgs[0].ThumbsUp)
	assert.True(t, *msgs[0].ThumbsUp)
	assert.Nil(t, msgs[0].ThumbsDown)
}
