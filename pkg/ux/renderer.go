// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the terminal user experience for the DeepRxiv CLI.
//
// This file contains stream renderers that display assistant messages as
// they stream in.
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse, read, or manage HTTP, and they
//	do not decide which text is chain of thought; the message assembler in
//	pkg/chat does that and calls OnContent or OnChainOfThought accordingly.
//
// Renderer Types:
//
//   - TerminalStreamRenderer: Interactive terminal with spinner and colors
//   - BufferStreamRenderer: In-memory buffer for testing
package ux

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/sources"
)

// =============================================================================
// Stream Result
// =============================================================================

// StreamResult is what a renderer accumulated over one assistant message.
type StreamResult struct {
	Id             string
	CreatedAt      int64
	Answer         string
	ChainOfThought string
	Citations      []string
	Images         []deeprxiv.ImageRef
	Sources        []deeprxiv.Source
	ModelUsed      string
	Error          string
	FirstTokenAt   int64
	CompletedAt    int64
	ContentEvents  int
	TotalEvents    int
}

func newStreamResult() *StreamResult {
	return &StreamResult{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Stream Renderer Interface
// =============================================================================

// StreamRenderer renders one streaming assistant message.
//
// Lifecycle:
//
//  1. Create renderer with New*StreamRenderer()
//  2. Call On* methods as the message is assembled
//  3. Call Finalize() when the stream ends (always, even on error)
//  4. Call Result() to get the accumulated result
//
// Thread Safety:
//
//	Implementations are safe for concurrent calls.
type StreamRenderer interface {
	// OnStatus shows progress before the first token (e.g. "Thinking...").
	OnStatus(ctx context.Context, message string)

	// OnContent renders a fragment of the visible answer.
	OnContent(ctx context.Context, text string)

	// OnChainOfThought renders a fragment of a reasoning model's chain of
	// thought, styled apart from the answer.
	OnChainOfThought(ctx context.Context, text string)

	// OnMetadata renders sources, citations, and images once the message
	// is finalized.
	OnMetadata(ctx context.Context, meta MetadataEvent)

	// OnError renders a stream failure. After OnError only Finalize
	// should be called.
	OnError(ctx context.Context, err error)

	// OnDone signals stream completion.
	OnDone(ctx context.Context)

	// Finalize stops spinners and flushes output. Safe to call repeatedly.
	Finalize()

	// Result returns the accumulated result. May be called before Finalize.
	Result() *StreamResult
}

// =============================================================================
// Terminal Stream Renderer
// =============================================================================

// terminalStreamRenderer renders to an interactive terminal.
//
// Personality Modes:
//
//   - PersonalityFull/Standard: spinner, streamed tokens, sidebar boxes
//   - PersonalityMinimal: streamed tokens, plain source list
//   - PersonalityMachine: buffered "THINKING:", "ANSWER:", "SOURCE:" lines
type terminalStreamRenderer struct {
	writer      io.Writer
	personality PersonalityLevel
	spinner     *Spinner
	result      *StreamResult
	mu          sync.Mutex

	answerBuilder   strings.Builder
	thoughtBuilder  strings.Builder
	hasWrittenToken bool
	inThought       bool
	finalized       bool
}

// NewTerminalStreamRenderer creates a renderer for interactive output.
//
// Parameters:
//   - w: The output writer. If nil, defaults to os.Stdout.
//   - personality: Controls output styling.
//
// Example:
//
//	renderer := NewTerminalStreamRenderer(os.Stdout, GetPersonality().Level)
//	defer renderer.Finalize()
func NewTerminalStreamRenderer(w io.Writer, personality PersonalityLevel) StreamRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalStreamRenderer{
		writer:      w,
		personality: personality,
		result:      newStreamResult(),
	}
}

// OnStatus starts or updates the spinner; machine mode prints STATUS.
func (r *terminalStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "STATUS: %s\n", message)
		return
	}
	if r.hasWrittenToken {
		return
	}
	if r.spinner == nil {
		r.spinner = NewSpinner(message).WithWriter(r.writer)
		r.spinner.Start()
	} else {
		r.spinner.UpdateMessage(message)
	}
}

// OnContent prints the fragment immediately; machine mode buffers it.
func (r *terminalStreamRenderer) OnContent(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.markFirstTokenLocked()
	r.answerBuilder.WriteString(text)
	r.result.ContentEvents++
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		return
	}
	if r.inThought {
		r.inThought = false
		fmt.Fprintln(r.writer)
		fmt.Fprintln(r.writer)
	}
	fmt.Fprint(r.writer, text)
}

// OnChainOfThought prints the fragment in muted style.
func (r *terminalStreamRenderer) OnChainOfThought(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.markFirstTokenLocked()
	r.thoughtBuilder.WriteString(text)
	r.result.TotalEvents++

	if r.personality == PersonalityMachine {
		return
	}
	if !r.inThought && r.thoughtBuilder.Len() == len(text) && r.personality != PersonalityMinimal {
		fmt.Fprint(r.writer, Styles.Subtitle.Render("Thinking: "))
	}
	r.inThought = true
	fmt.Fprint(r.writer, Styles.Muted.Render(text))
}

// OnMetadata prints the sidebar: grouped sources, citations, and images.
func (r *terminalStreamRenderer) OnMetadata(ctx context.Context, meta MetadataEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.Citations = meta.Citations
	r.result.Images = meta.Images
	r.result.Sources = meta.Sources
	r.result.ModelUsed = meta.ModelUsed
	r.result.TotalEvents++
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		// Sources follow the answer in machine mode; see OnDone.
		return
	}

	if r.answerBuilder.Len() > 0 && !strings.HasSuffix(r.answerBuilder.String(), "\n") {
		fmt.Fprintln(r.writer)
	}
	sidebar := RenderSidebar(sources.Group(sources.Deduplicate(meta.Sources)), meta.Citations, meta.Images, r.personality)
	if sidebar != "" {
		fmt.Fprintln(r.writer)
		fmt.Fprint(r.writer, sidebar)
	}
}

// OnDone flushes machine output and terminates the answer line.
func (r *terminalStreamRenderer) OnDone(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		if thought := r.thoughtBuilder.String(); thought != "" {
			fmt.Fprintf(r.writer, "THINKING: %s\n", thought)
		}
		if answer := r.answerBuilder.String(); answer != "" {
			fmt.Fprintf(r.writer, "ANSWER: %s\n", answer)
		}
		fmt.Fprint(r.writer, RenderSidebar(sources.Group(sources.Deduplicate(r.result.Sources)), r.result.Citations, r.result.Images, PersonalityMachine))
		if r.result.ModelUsed != "" {
			fmt.Fprintf(r.writer, "MODEL: %s\n", r.result.ModelUsed)
		}
		fmt.Fprintln(r.writer, "DONE")
		return
	}

	if r.result.Sources == nil && r.answerBuilder.Len() > 0 && !strings.HasSuffix(r.answerBuilder.String(), "\n") {
		fmt.Fprintln(r.writer)
	}
}

// OnError stops the spinner and prints the error.
func (r *terminalStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
	r.result.TotalEvents++
	r.stopSpinnerLocked()

	if r.personality == PersonalityMachine {
		fmt.Fprintf(r.writer, "ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(r.writer, "\n%s %s\n",
		IconError.Render(),
		Styles.Error.Render(fmt.Sprintf("Stream error: %v", err)))
}

// Finalize stops the spinner and records the final result.
func (r *terminalStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.stopSpinnerLocked()

	r.result.Answer = r.answerBuilder.String()
	r.result.ChainOfThought = r.thoughtBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

// Result returns a copy of the accumulated result.
func (r *terminalStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	result.ChainOfThought = r.thoughtBuilder.String()
	return &result
}

func (r *terminalStreamRenderer) markFirstTokenLocked() {
	if r.hasWrittenToken {
		return
	}
	r.hasWrittenToken = true
	r.result.FirstTokenAt = time.Now().UnixMilli()
	r.stopSpinnerLocked()
}

func (r *terminalStreamRenderer) stopSpinnerLocked() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

// =============================================================================
// Buffer Stream Renderer
// =============================================================================

// bufferStreamRenderer records calls in memory. Used in tests.
type bufferStreamRenderer struct {
	result    *StreamResult
	calls     []string
	mu        sync.Mutex
	finalized bool

	answerBuilder  strings.Builder
	thoughtBuilder strings.Builder
}

// BufferStreamRenderer is a StreamRenderer that also exposes the sequence
// of calls it received.
type BufferStreamRenderer interface {
	StreamRenderer

	// Calls returns the method names received, in order, e.g.
	// ["content", "content", "metadata", "done"].
	Calls() []string
}

// NewBufferStreamRenderer creates an in-memory renderer.
func NewBufferStreamRenderer() BufferStreamRenderer {
	return &bufferStreamRenderer{result: newStreamResult()}
}

func (r *bufferStreamRenderer) record(call string) bool {
	if r.finalized {
		return false
	}
	r.calls = append(r.calls, call)
	r.result.TotalEvents++
	return true
}

func (r *bufferStreamRenderer) OnStatus(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record("status")
}

func (r *bufferStreamRenderer) OnContent(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record("content") {
		return
	}
	if r.result.FirstTokenAt == 0 {
		r.result.FirstTokenAt = time.Now().UnixMilli()
	}
	r.answerBuilder.WriteString(text)
	r.result.ContentEvents++
}

func (r *bufferStreamRenderer) OnChainOfThought(ctx context.Context, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record("chain_of_thought") {
		return
	}
	r.thoughtBuilder.WriteString(text)
}

func (r *bufferStreamRenderer) OnMetadata(ctx context.Context, meta MetadataEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record("metadata") {
		return
	}
	r.result.Citations = meta.Citations
	r.result.Images = meta.Images
	r.result.Sources = meta.Sources
	r.result.ModelUsed = meta.ModelUsed
}

func (r *bufferStreamRenderer) OnError(ctx context.Context, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record("error") {
		return
	}
	r.result.Error = err.Error()
	r.result.CompletedAt = time.Now().UnixMilli()
}

func (r *bufferStreamRenderer) OnDone(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record("done") {
		return
	}
	r.result.CompletedAt = time.Now().UnixMilli()
}

func (r *bufferStreamRenderer) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return
	}
	r.finalized = true
	r.result.Answer = r.answerBuilder.String()
	r.result.ChainOfThought = r.thoughtBuilder.String()
	if r.result.CompletedAt == 0 {
		r.result.CompletedAt = time.Now().UnixMilli()
	}
}

func (r *bufferStreamRenderer) Result() *StreamResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := *r.result
	result.Answer = r.answerBuilder.String()
	result.ChainOfThought = r.thoughtBuilder.String()
	return &result
}

func (r *bufferStreamRenderer) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	calls := make([]string, len(r.calls))
	copy(calls, r.calls)
	return calls
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamRenderer = (*terminalStreamRenderer)(nil)
var _ BufferStreamRenderer = (*bufferStreamRenderer)(nil)
