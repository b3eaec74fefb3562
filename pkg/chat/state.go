// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an operation needs the controller idle but a
	// message is being sent or streamed.
	ErrBusy = errors.New("a message is already being sent")

	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoSession is returned by operations that need a current session.
	ErrNoSession = errors.New("no current chat session")

	// ErrInvalidTransition marks a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// State is the controller's send lifecycle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions lists every allowed edge.
//
//	Idle → Sending → Streaming → Idle
//	          ↘          ↘
//	           Error ──────→ Idle
var transitions = map[State][]State{
	StateIdle:      {StateSending},
	StateSending:   {StateStreaming, StateError},
	StateStreaming: {StateIdle, StateError},
	StateError:     {StateIdle},
}

// CanTransition reports whether s → to is allowed.
func (s State) CanTransition(to State) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition, annotated with both
// states, for a disallowed edge.
func checkTransition(from, to State) error {
	if from.CanTransition(to) {
		return nil
	}
	return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, from, to)
}
