// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists the small amount of client-side chat state that
// outlives a process: the deduplicated sources currently shown for each
// session, the set of sessions the user hid, and the last active session.
//
// Two implementations are provided. BadgerStore is the on-disk store used
// by the CLI. Memory is used by tests and by commands that should not touch
// disk.
package store

import (
	"context"
	"sync"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// StateStore is the persisted-state dependency of the chat controller.
//
// All methods are safe for concurrent use.
type StateStore interface {
	// SaveSources replaces the current sources for a session.
	// The most recent call wins.
	SaveSources(ctx context.Context, sessionID string, sources []deeprxiv.Source) error

	// LoadSources returns the current sources for a session, or an empty
	// slice if none were saved.
	LoadSources(ctx context.Context, sessionID string) ([]deeprxiv.Source, error)

	// HideSession records a local soft delete.
	HideSession(ctx context.Context, sessionID string) error

	// UnhideSession reverses HideSession. Unknown ids are ignored.
	UnhideSession(ctx context.Context, sessionID string) error

	// HiddenSessions returns the set of hidden session ids.
	HiddenSessions(ctx context.Context) (map[string]bool, error)

	// SetLastSession remembers the session to resume next time.
	SetLastSession(ctx context.Context, sessionID string) error

	// LastSession returns the remembered session id, or "".
	LastSession(ctx context.Context) (string, error)

	Close() error
}

// =============================================================================
// Memory
// =============================================================================

// Memory is an in-process StateStore.
type Memory struct {
	mu      sync.RWMutex
	sources map[string][]deeprxiv.Source
	hidden  map[string]bool
	last    string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sources: make(map[string][]deeprxiv.Source),
		hidden:  make(map[string]bool),
	}
}

func (m *Memory) SaveSources(ctx context.Context, sessionID string, sources []deeprxiv.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[sessionID] = append([]deeprxiv.Source{}, sources...)
	return nil
}

func (m *Memory) LoadSources(ctx context.Context, sessionID string) ([]deeprxiv.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]deeprxiv.Source{}, m.sources[sessionID]...), nil
}

func (m *Memory) HideSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hidden[sessionID] = true
	return nil
}

func (m *Memory) UnhideSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hidden, sessionID)
	return nil
}

func (m *Memory) HiddenSessions(ctx context.Context) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.hidden))
	for id := range m.hidden {
		out[id] = true
	}
	return out, nil
}

func (m *Memory) SetLastSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = sessionID
	return nil
}

func (m *Memory) LastSession(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, nil
}

func (m *Memory) Close() error { return nil }

var _ StateStore = (*Memory)(nil)
