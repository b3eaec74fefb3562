// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package deeprxiv

import (
	"errors"
	"fmt"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrMissingPaper is matched by every *MissingPaperError via errors.Is.
	ErrMissingPaper = errors.New("no paper selected for this chat")

	// ErrUnknownEventType is returned for stream events with an unrecognized
	// type tag. It is always wrapped in a *MalformedEventError.
	ErrUnknownEventType = errors.New("unknown stream event type")

	// ErrNoBody is returned when a streaming response has no body to read.
	ErrNoBody = errors.New("response has no body")
)

// =============================================================================
// Typed Errors
// =============================================================================

// NetworkError reports a failed round trip to the backend: the connection
// could not be made or the transport broke before a response arrived.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StreamError reports that a streaming response could not be consumed to
// completion. Either Err (a read failure) or Message (an error event sent by
// the backend) is set.
type StreamError struct {
	Message string
	Err     error
}

func (e *StreamError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("stream error: %s: %v", e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("stream error: %v", e.Err)
	default:
		return "stream error: " + e.Message
	}
}

func (e *StreamError) Unwrap() error { return e.Err }

// MissingPaperError is returned when a message is sent into a chat that has
// neither an explicitly selected paper nor a paper bound to its session.
type MissingPaperError struct {
	SessionID string
}

func (e *MissingPaperError) Error() string {
	if e.SessionID == "" {
		return ErrMissingPaper.Error()
	}
	return fmt.Sprintf("%s (session %s)", ErrMissingPaper.Error(), e.SessionID)
}

func (e *MissingPaperError) Is(target error) bool { return target == ErrMissingPaper }

// MalformedEventError reports a stream line that could not be decoded into a
// known event. The stream reader logs and skips these; they never abort a
// stream.
type MalformedEventError struct {
	Line string
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed stream event %q: %v", truncate(e.Line, 120), e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, truncate(e.Body, 200))
}

// ShareError is returned when the share endpoint rejects a request.
type ShareError struct {
	SessionID  string
	StatusCode int
	Body       string
}

func (e *ShareError) Error() string {
	return fmt.Sprintf("share session %s failed (%d): %s", e.SessionID, e.StatusCode, truncate(e.Body, 200))
}

// =============================================================================
// Helpers
// =============================================================================

// IsNetworkError reports whether err is, or wraps, a *NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsStreamError reports whether err is, or wraps, a *StreamError.
func IsStreamError(err error) bool {
	var streamErr *StreamError
	return errors.As(err, &streamErr)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
