// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger implements the record store contract on BadgerDB.
//
// BadgerDB is an embedded key/value store with low-latency local access.
// Task documents are stored as opaque JSON values; the raw change feed
// is implemented on badger's Subscribe mechanism, which delivers
// committed writes for a key prefix.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	badgerpb "github.com/dgraph-io/badger/v4/pb"

	"github.com/AleutianAI/AleutianTasks/services/tasks/storage"
)

// Config holds configuration for a badger-backed record store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing: no disk
// I/O, no sync, GC disabled.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
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
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a badger-backed record store.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db *badger.DB

	// closeCh signals Close to all watch subscriptions.
	closeCh   chan struct{}
	closeOnce sync.Once
	watchWg   sync.WaitGroup

	gcStopCh chan struct{}
	gcDoneCh chan struct{}

	cfg Config
}

// Compile-time contract check.
var _ storage.RecordStore = (*Store)(nil)

// Open creates and opens a badger-backed record store.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist, and
//	starts the value log GC loop when GCInterval is set.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or the database cannot be opened.
//
// Thread Safety: The returned Store is safe for concurrent use.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{
		db:      db,
		closeCh: make(chan struct{}),
		cfg:     cfg,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStopCh = make(chan struct{})
		s.gcDoneCh = make(chan struct{})
		go s.runGC()
	}

	return s, nil
}

// OpenInMemory opens an in-memory store for testing. Data is lost on
// Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Get returns the document stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrKeyNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put stores the document under key, replacing any prior value.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("put %s: %w", key, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete removes the key. Returns storage.ErrKeyNotFound if absent.
//
// Badger's delete is a blind tombstone write, so existence is checked
// inside the same transaction.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, storage.ErrKeyNotFound)
	}
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("delete %s: %w", key, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List calls fn for every record whose key starts with prefix.
func (s *Store) List(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix([]byte(prefix)); it.Next() {
			item := it.Item()
			key := string(item.KeyCopy(nil))
			value, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Watch returns a channel of raw change events for keys starting with
// prefix.
//
// Description:
//
//	Subscribes to badger's committed-write stream for the prefix. Every
//	matching set or delete produces one Change on the returned channel.
//	The channel is closed when ctx is cancelled or the store is closed.
//
// Inputs:
//
//	ctx - Controls the subscription lifetime.
//	prefix - Key prefix to match. Empty matches all keys.
//
// Outputs:
//
//	<-chan Change - Raw change events. Closed on cancellation.
//	error - Non-nil if the store is closed.
//
// Thread Safety: Safe for concurrent use; each call is an independent
// subscription.
func (s *Store) Watch(ctx context.Context, prefix string) (<-chan storage.Change, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	out := make(chan storage.Change, 16)

	s.watchWg.Add(2)

	// Tie the subscription to the store lifetime as well as ctx.
	go func() {
		defer s.watchWg.Done()
		select {
		case <-s.closeCh:
			cancel()
		case <-subCtx.Done():
		}
	}()

	go func() {
		defer s.watchWg.Done()
		defer close(out)
		defer cancel()

		err := s.db.Subscribe(subCtx, func(kvs *badger.KVList) error {
			for _, kv := range kvs.Kv {
				change := storage.Change{
					Key:     string(kv.Key),
					Deleted: len(kv.Value) == 0,
				}
				select {
				case out <- change:
				case <-subCtx.Done():
					return subCtx.Err()
				}
			}
			return nil
		}, []badgerpb.Match{{Prefix: []byte(prefix)}})

		if err != nil && !errors.Is(err, context.Canceled) && s.cfg.Logger != nil {
			s.cfg.Logger.Error("badger subscription ended",
				slog.String("prefix", prefix),
				slog.String("error", err.Error()))
		}
	}()

	return out, nil
}

// Close stops GC and watch subscriptions, then closes the database.
// Safe to call multiple times.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		if s.gcStopCh != nil {
			close(s.gcStopCh)
			<-s.gcDoneCh
		}
		s.watchWg.Wait()
		err = s.db.Close()
	})
	return err
}

// Sync flushes pending writes to disk. No-op for in-memory stores.
func (s *Store) Sync() error {
	if s.cfg.InMemory {
		return nil
	}
	return s.db.Sync()
}

// check validates the context and store state before an operation.
func (s *Store) check(ctx context.Context) error {
	select {
	case <-s.closeCh:
		return storage.ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return nil
}

// runGC triggers value log garbage collection at the configured
// interval until Close.
func (s *Store) runGC() {
	defer close(s.gcDoneCh)

	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStopCh:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.cfg.GCDiscardRatio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && s.cfg.Logger != nil {
				// ErrNoRewrite means no GC was needed, not an error.
				s.cfg.Logger.Warn("badger value log GC error",
					slog.String("error", err.Error()))
			}
		}
	}
}
