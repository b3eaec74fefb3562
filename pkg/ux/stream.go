// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// =============================================================================
// Event Types
// =============================================================================

// StreamEventType is the "type" tag of a streamed chat event.
type StreamEventType string

const (
	// StreamEventContent carries a fragment of the answer text.
	StreamEventContent StreamEventType = "content"

	// StreamEventMetadata finalizes a message with sources and citations.
	StreamEventMetadata StreamEventType = "metadata"

	// StreamEventDone terminates the stream.
	StreamEventDone StreamEventType = "done"

	// StreamEventError reports a backend failure mid-stream. The backend
	// still sends done afterwards.
	StreamEventError StreamEventType = "error"
)

// Payload is one variant of the closed set of stream events.
//
// The unexported method seals the set: only ContentEvent, MetadataEvent,
// DoneEvent, and ErrorEvent implement it. Consumers switch on the concrete
// type.
type Payload interface {
	EventType() StreamEventType
	payload()
}

// ContentEvent appends text to the in-progress assistant message.
type ContentEvent struct {
	Content string
}

// MetadataEvent finalizes the in-progress assistant message.
type MetadataEvent struct {
	Citations      []string
	Images         []deeprxiv.ImageRef
	Sources        []deeprxiv.Source
	ChainOfThought string
	ModelUsed      string
}

// DoneEvent ends the read loop.
type DoneEvent struct{}

// ErrorEvent carries an error message produced by the backend.
type ErrorEvent struct {
	Message string
}

func (ContentEvent) EventType() StreamEventType  { return StreamEventContent }
func (MetadataEvent) EventType() StreamEventType { return StreamEventMetadata }
func (DoneEvent) EventType() StreamEventType     { return StreamEventDone }
func (ErrorEvent) EventType() StreamEventType    { return StreamEventError }

func (ContentEvent) payload()  {}
func (MetadataEvent) payload() {}
func (DoneEvent) payload()     {}
func (ErrorEvent) payload()    {}

// =============================================================================
// Stream Event Envelope
// =============================================================================

// StreamEvent is a parsed event plus client-side bookkeeping.
//
// Fields:
//   - Id: Client-generated UUID, unique per event
//   - CreatedAt: Unix milliseconds when the event was parsed
//   - Index: Zero-based position among valid events in this stream
//   - Payload: The decoded event variant (never nil)
type StreamEvent struct {
	Id        string
	CreatedAt int64
	Index     int
	Payload   Payload
}

// Type returns the event's type tag.
func (e StreamEvent) Type() StreamEventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// IsTerminal reports whether the read loop should stop after this event.
func (e StreamEvent) IsTerminal() bool {
	return e.Type() == StreamEventDone
}

// StreamCallback receives each valid event in stream order. Returning an
// error stops the read loop and the error is returned from Read.
type StreamCallback func(event StreamEvent) error
