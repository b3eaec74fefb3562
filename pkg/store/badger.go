// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/deeprxiv/deeprxiv/pkg/deeprxiv"
)

// Key layout:
//
//	sources/{session_id}  → JSON []deeprxiv.Source
//	hidden/{session_id}   → RFC 3339 time the session was hidden
//	meta/last_session     → session id
const (
	prefixSources  = "sources/"
	prefixHidden   = "hidden/"
	keyLastSession = "meta/last_session"
)

// Config holds configuration for a BadgerStore.
type Config struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64
}

// DefaultConfig returns the on-disk defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration that never touches disk.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// =============================================================================
// BadgerStore
// =============================================================================

// BadgerStore is a StateStore backed by an embedded BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger

	stopGC    chan struct{}
	gcDone    chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) a BadgerStore.
//
// Outputs:
//
//	*BadgerStore - Call Close when done.
//	error - Non-nil if Path is empty for an on-disk store or badger fails
//	to open (for example, another process holds the directory lock).
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BadgerStore{db: db, logger: logger}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens a BadgerStore with InMemoryConfig.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("state store value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.Update(fn)
}

func (s *BadgerStore) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

// SaveSources replaces the stored source list for a session.
func (s *BadgerStore) SaveSources(ctx context.Context, sessionID string, sources []deeprxiv.Source) error {
	if sources == nil {
		sources = []deeprxiv.Source{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSources+sessionID), data)
	})
}

// LoadSources returns a session's sources, or an empty list if none are stored.
func (s *BadgerStore) LoadSources(ctx context.Context, sessionID string) ([]deeprxiv.Source, error) {
	sources := []deeprxiv.Source{}
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSources + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sources)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load sources for %s: %w", sessionID, err)
	}
	return sources, nil
}

// HideSession marks a session hidden, recording when.
func (s *BadgerStore) HideSession(ctx context.Context, sessionID string) error {
	stamp := []byte(time.Now().UTC().Format(time.RFC3339))
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixHidden+sessionID), stamp)
	})
}

// UnhideSession clears the hidden mark. Unknown ids are not an error.
func (s *BadgerStore) UnhideSession(ctx context.Context, sessionID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixHidden + sessionID))
	})
}

// HiddenSessions returns the set of hidden session ids.
func (s *BadgerStore) HiddenSessions(ctx context.Context) (map[string]bool, error) {
	hidden := make(map[string]bool)
	prefix := []byte(prefixHidden)

	err := s.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			hidden[string(it.Item().Key()[len(prefix):])] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list hidden sessions: %w", err)
	}
	return hidden, nil
}

// SetLastSession records the session to reopen with --resume.
func (s *BadgerStore) SetLastSession(ctx context.Context, sessionID string) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set([]byte(keyLastSession), []byte(sessionID))
	})
}

// LastSession returns the recorded session id, or "" if none.
func (s *BadgerStore) LastSession(ctx context.Context) (string, error) {
	var last string
	err := s.view(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyLastSession))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		last = string(val)
		return err
	})
	return last, err
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopGC != nil {
			close(s.stopGC)
			<-s.gcDone
		}
		err = s.db.Close()
	})
	return err
}

var _ StateStore = (*BadgerStore)(nil)
