// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage defines the record store contract consumed by the
// task store.
//
// A record store is a document-oriented key/value backend: opaque byte
// documents addressed by string keys, with a raw per-record change feed.
// The task store layers all tree semantics on top of this contract; the
// backend itself knows nothing about tasks or paths.
//
// The production implementation is storage/badger (embedded BadgerDB).
package storage

import (
	"context"
	"errors"
)

// Sentinel errors for record store implementations.
var (
	// ErrKeyNotFound indicates the key is absent.
	ErrKeyNotFound = errors.New("key not found")

	// ErrConflict indicates an optimistic concurrency conflict on write.
	ErrConflict = errors.New("write conflict")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("record store is closed")
)

// Change is one event on the raw change feed.
//
// A change carries the key only; consumers re-fetch the current document
// to resolve it. Deleted is a hint, not a guarantee: a consumer may
// observe Deleted=false and still get ErrKeyNotFound on re-fetch if a
// delete raced the resolution.
type Change struct {
	// Key is the key of the changed record.
	Key string

	// Deleted is true when the change was a removal.
	Deleted bool
}

// RecordStore is the document KV contract the task store is built on.
//
// Thread Safety: implementations must be safe for concurrent use.
type RecordStore interface {
	// Get returns the document stored under key.
	//
	// Returns ErrKeyNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the document under key, replacing any prior value.
	//
	// Returns ErrConflict on an optimistic concurrency conflict.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key.
	//
	// Returns ErrKeyNotFound if the key is absent.
	Delete(ctx context.Context, key string) error

	// List calls fn for every record whose key starts with prefix.
	//
	// Iteration order is unspecified. A non-nil error from fn aborts
	// the scan and is returned.
	List(ctx context.Context, prefix string, fn func(key string, value []byte) error) error

	// Watch returns a channel of raw change events for keys starting
	// with prefix.
	//
	// The channel is closed when ctx is cancelled or the store is
	// closed. Delivery is at-least-once and asynchronous relative to
	// the write that caused it; no ordering guarantee is made across
	// rapid successive writes to the same key.
	Watch(ctx context.Context, prefix string) (<-chan Change, error)

	// Close releases the backing store. Further calls fail with
	// ErrClosed.
	Close() error
}
