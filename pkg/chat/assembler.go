// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"context"
	"strings"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
	"github.com/deeprxiv/deeprxiv/pkg/ux"
)

// MessageAssembler folds stream events into one assistant message.
//
// For reasoning models the streamed text opens with the model's chain of
// thought, ended by the first newline of the whole content stream:
//
//	"thinking..." + "\nfinal" + " answer"
//	→ chain_of_thought "thinking...", content "final answer"
//
// The split happens once; later newlines are content. The separating
// newline belongs to neither field.
//
// MessageAssembler is not safe for concurrent use. It is driven by the
// single read loop of one send.
type MessageAssembler struct {
	msg       deeprxiv.ChatMessage
	reasoning bool
	split     bool
	observer  ux.StreamRenderer

	metadata    *ux.MetadataEvent
	streamError string
}

// NewMessageAssembler starts an assistant message for model. observer may
// be nil.
func NewMessageAssembler(msg deeprxiv.ChatMessage, model string, observer ux.StreamRenderer) *MessageAssembler {
	msg.Role = deeprxiv.RoleAssistant
	msg.IsStreaming = true
	return &MessageAssembler{
		msg:       msg,
		reasoning: deeprxiv.IsReasoningModel(model),
		observer:  observer,
	}
}

// Apply folds one event into the message.
func (a *MessageAssembler) Apply(ctx context.Context, event ux.StreamEvent) {
	switch p := event.Payload.(type) {
	case ux.ContentEvent:
		a.applyContent(ctx, p.Content)
	case ux.MetadataEvent:
		a.applyMetadata(ctx, p)
	case ux.ErrorEvent:
		if a.streamError == "" {
			a.streamError = p.Message
		}
	case ux.DoneEvent:
		// The reader stops after done; Finish does the bookkeeping.
	}
}

func (a *MessageAssembler) applyContent(ctx context.Context, text string) {
	if !a.reasoning || a.split {
		a.appendContent(ctx, text)
		return
	}

	thought, rest, found := strings.Cut(text, "\n")
	if thought != "" {
		a.msg.ChainOfThought += thought
		if a.observer != nil {
			a.observer.OnChainOfThought(ctx, thought)
		}
	}
	if !found {
		return
	}
	a.split = true
	if rest != "" {
		a.appendContent(ctx, rest)
	}
}

func (a *MessageAssembler) appendContent(ctx context.Context, text string) {
	a.msg.Content += text
	if a.observer != nil {
		a.observer.OnContent(ctx, text)
	}
}

func (a *MessageAssembler) applyMetadata(ctx context.Context, meta ux.MetadataEvent) {
	a.msg.IsStreaming = false
	a.msg.Citations = meta.Citations
	a.msg.Images = meta.Images
	a.msg.Sources = meta.Sources
	if meta.ModelUsed != "" {
		a.msg.ModelUsed = meta.ModelUsed
	}

	switch {
	case a.reasoning && a.msg.ChainOfThought != "":
		// Streamed thoughts win.
	case meta.ChainOfThought != "":
		a.msg.ChainOfThought = meta.ChainOfThought
	}

	a.metadata = &meta
	if a.observer != nil {
		a.observer.OnMetadata(ctx, meta)
	}
}

// Message returns a copy of the message as assembled so far.
func (a *MessageAssembler) Message() deeprxiv.ChatMessage {
	return a.msg
}

// Metadata returns the metadata event, if one arrived.
func (a *MessageAssembler) Metadata() (ux.MetadataEvent, bool) {
	if a.metadata == nil {
		return ux.MetadataEvent{}, false
	}
	return *a.metadata, true
}

// Finish marks the message complete. It returns a *deeprxiv.StreamError if
// the backend sent an error event.
func (a *MessageAssembler) Finish() error {
	a.msg.IsStreaming = false
	if a.streamError != "" {
		return &deeprxiv.StreamError{Message: a.streamError}
	}
	return nil
}
