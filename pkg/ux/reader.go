// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides the terminal user experience for the DeepRxiv CLI.
//
// This file contains the stream reader that consumes an io.Reader and emits
// parsed events via callbacks.
//
// Single Responsibility:
//
//	Readers handle I/O and event sequencing. They use parsers to convert
//	lines to events, but do not render output or assemble messages.
//
// Fault Isolation:
//
//	A line that fails to parse is logged and skipped. It never aborts the
//	stream; the next line is processed normally.
package ux

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// defaultChunkSize is the read buffer size. Lines longer than this are
// reassembled by the LineBuffer.
const defaultChunkSize = 4096

// =============================================================================
// Stream Reader Interface
// =============================================================================

// StreamReader reads a streaming chat response and invokes a callback for
// each valid event.
//
// Thread Safety:
//
//	A StreamReader may be shared, but a single Read call must not be run
//	concurrently with another on the same io.Reader.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser())
//	err := reader.Read(ctx, body, func(event StreamEvent) error {
//	    if c, ok := event.Payload.(ContentEvent); ok {
//	        fmt.Print(c.Content)
//	    }
//	    return nil
//	})
type StreamReader interface {
	// Read processes a stream, invoking callback for each event.
	//
	// Parameters:
	//   - ctx: Checked between reads. When cancelled, Read returns ctx.Err().
	//   - r: The source to read from. Caller is responsible for closing.
	//   - callback: Invoked for each parsed event. Return error to stop.
	//
	// Returns:
	//   - nil when a done event arrives or the stream reaches EOF
	//   - *deeprxiv.StreamError when reading from r fails
	//   - ctx.Err() on cancellation
	//   - the callback's error if it returned one
	Read(ctx context.Context, r io.Reader, callback StreamCallback) error
}

// ReaderOption configures an SSE stream reader.
type ReaderOption func(*sseStreamReader)

// WithReaderLogger sets the logger used for skipped lines.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *sseStreamReader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMalformedHook registers a function called for every line that fails
// to parse, after it is logged. Used for metrics.
func WithMalformedHook(hook func(err error)) ReaderOption {
	return func(r *sseStreamReader) {
		r.onMalformed = hook
	}
}

// WithChunkSize overrides the read buffer size.
func WithChunkSize(n int) ReaderOption {
	return func(r *sseStreamReader) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// =============================================================================
// SSE Stream Reader
// =============================================================================

// sseStreamReader implements StreamReader on top of LineBuffer + SSEParser.
type sseStreamReader struct {
	parser      SSEParser
	logger      *slog.Logger
	onMalformed func(err error)
	chunkSize   int
}

// NewSSEStreamReader creates a new stream reader.
//
// Example:
//
//	reader := NewSSEStreamReader(NewSSEParser(), WithReaderLogger(logger))
func NewSSEStreamReader(parser SSEParser, opts ...ReaderOption) StreamReader {
	r := &sseStreamReader{
		parser:    parser,
		logger:    slog.Default(),
		chunkSize: defaultChunkSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read is a single sequential loop: read a chunk, split it into complete
// lines, handle each line, repeat.
func (r *sseStreamReader) Read(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	if reader == nil {
		return &deeprxiv.StreamError{Err: deeprxiv.ErrNoBody}
	}

	var lines LineBuffer
	buf := make([]byte, r.chunkSize)
	eventIndex := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, readErr := reader.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				done, err := r.handleLine(line, &eventIndex, callback)
				if err != nil || done {
					return err
				}
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			if tail := lines.Flush(); tail != "" {
				if _, err := r.handleLine(tail, &eventIndex, callback); err != nil {
					return err
				}
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &deeprxiv.StreamError{Err: readErr}
	}
}

// handleLine parses and dispatches one line. It reports done=true after a
// terminal event.
func (r *sseStreamReader) handleLine(line string, eventIndex *int, callback StreamCallback) (bool, error) {
	event, err := r.parser.ParseLine(line)
	if err != nil {
		r.logger.Warn("skipping malformed stream event",
			"event_index", *eventIndex,
			"error", err,
		)
		if r.onMalformed != nil {
			r.onMalformed(err)
		}
		return false, nil
	}

	if event == nil {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, ":") {
			r.logger.Debug("skipping non-data stream line", "line", trimmed)
		}
		return false, nil
	}

	event.Index = *eventIndex
	*eventIndex++

	if err := callback(*event); err != nil {
		return false, err
	}
	return event.IsTerminal(), nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ StreamReader = (*sseStreamReader)(nil)
