// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the terminal user experience for the DeepRxiv CLI.
//
// This file contains the parser for the chat streaming format.
// Parsers are responsible for converting raw lines into StreamEvent structs.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They do not perform I/O, rendering, or state management.
//	This separation enables easy testing and format extensibility.
package ux

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses the chat stream's "data: <json>" lines into StreamEvents.
//
// Wire format:
//
//	data: {"type":"content","content":"Attention is"}\n
//	\n
//	data: {"type":"metadata","citations":[...],"sources":[...]}\n
//	\n
//	data: {"type":"done"}\n
//
// Thread Safety:
//
//	SSEParser implementations must be safe for concurrent use.
//	The default implementation is stateless and inherently thread-safe.
type SSEParser interface {
	// ParseLine parses a single line of stream input.
	//
	// Parameters:
	//   - line: One line from the stream (without trailing newline)
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for lines that carry none
	//   - error: *deeprxiv.MalformedEventError for undecodable payloads
	//
	// Line handling:
	//   - Empty lines: Returns nil, nil (event delimiter)
	//   - Comment lines (":"): Returns nil, nil (keep-alives)
	//   - Data lines ("data:" with or without a space): Parses JSON payload
	//   - Other lines: Returns nil, nil
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a JSON payload without the "data:" prefix.
	//
	// Unknown or missing type tags are rejected with a MalformedEventError
	// wrapping deeprxiv.ErrUnknownEventType.
	ParseRawJSON(jsonData []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

// sseParser implements SSEParser. It is stateless.
type sseParser struct{}

// NewSSEParser creates a new stream parser.
//
// Example:
//
//	parser := NewSSEParser()
//	event, _ := parser.ParseLine(`data: {"type":"done"}`)
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single stream line.
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	if line == "" || strings.HasPrefix(line, ":") {
		return nil, nil
	}

	payload, ok := cutDataPrefix(line)
	if !ok {
		return nil, nil
	}
	return p.ParseRawJSON([]byte(payload))
}

// ParseRawJSON decodes one event payload into the tagged union.
func (p *sseParser) ParseRawJSON(jsonData []byte) (*StreamEvent, error) {
	var raw struct {
		Type           string              `json:"type"`
		Content        string              `json:"content"`
		Citations      []string            `json:"citations"`
		Images         []deeprxiv.ImageRef `json:"images"`
		Sources        []deeprxiv.Source   `json:"sources"`
		ChainOfThought string              `json:"chain_of_thought"`
		ModelUsed      string              `json:"model_used"`
		Error          string              `json:"error"`
		Message        string              `json:"message"`
	}

	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, &deeprxiv.MalformedEventError{Line: string(jsonData), Err: err}
	}

	var payload Payload
	switch StreamEventType(raw.Type) {
	case StreamEventContent:
		payload = ContentEvent{Content: raw.Content}
	case StreamEventMetadata:
		payload = MetadataEvent{
			Citations:      raw.Citations,
			Images:         raw.Images,
			Sources:        raw.Sources,
			ChainOfThought: raw.ChainOfThought,
			ModelUsed:      raw.ModelUsed,
		}
	case StreamEventDone:
		payload = DoneEvent{}
	case StreamEventError:
		payload = ErrorEvent{Message: firstNonEmpty(raw.Content, raw.Error, raw.Message, "unknown backend error")}
	default:
		return nil, &deeprxiv.MalformedEventError{
			Line: string(jsonData),
			Err:  fmt.Errorf("%w: %q", deeprxiv.ErrUnknownEventType, raw.Type),
		}
	}

	return &StreamEvent{
		Id:        uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Payload:   payload,
	}, nil
}

// cutDataPrefix strips "data:" and one optional space.
func cutDataPrefix(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
