// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tasks

import (
	"sync"
	"time"
)

// UndoKind tags the operation an undo entry reverses.
type UndoKind string

// Undo entry kinds. Each kind has exactly one inverse, applied by
// Store.Undo.
const (
	UndoCreate          UndoKind = "CREATE"
	UndoDelete          UndoKind = "DELETE"
	UndoMove            UndoKind = "MOVE"
	UndoStateChange     UndoKind = "STATE_CHANGE"
	UndoAttributeChange UndoKind = "ATTRIBUTE_CHANGE"
)

// UndoEntry snapshots one structural or state operation.
//
// Snapshots are deep copies taken at operation time, so a later external
// mutation of the live task cannot corrupt a pending entry. The entry is
// a tagged variant; Store.Undo dispatches on Kind to replay the inverse
// operation.
type UndoEntry struct {
	// Kind is the operation this entry reverses.
	Kind UndoKind

	// Task is the snapshot of the affected task at operation time.
	// For Delete and Move this is the pre-operation state; for Create
	// it is the task as created.
	Task *Task

	// PriorParent is the parent identifier before the operation.
	// Set for Move and Delete.
	PriorParent string

	// Subtree snapshots the deleted descendants for Delete entries,
	// in unspecified order. Restore sorts ancestors-first.
	Subtree []*Task

	// At is when the operation was recorded.
	At time.Time
}

// UndoLog is a bounded LIFO command log.
//
// Entries are pushed in operation order and popped most-recent-first.
// When the log is full the oldest entry is evicted silently; undo is not
// redo-compatible (no forward replay list is retained).
//
// Thread Safety: safe for concurrent use.
type UndoLog struct {
	mu    sync.Mutex
	stack *ringStack[*UndoEntry]
}

// DefaultUndoDepth is the default bound on the undo log.
const DefaultUndoDepth = 100

// NewUndoLog creates an undo log holding at most depth entries.
// A non-positive depth falls back to DefaultUndoDepth.
func NewUndoLog(depth int) *UndoLog {
	if depth <= 0 {
		depth = DefaultUndoDepth
	}
	return &UndoLog{stack: newRingStack[*UndoEntry](depth)}
}

// Record pushes an entry, evicting the oldest when full.
func (l *UndoLog) Record(e *UndoEntry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stack.Push(e)
}

// PopLast removes and returns the most recent entry.
//
// Returns ErrEmptyUndoLog when no operation is left to undo.
func (l *UndoLog) PopLast() (*UndoEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.stack.PopNewest()
	if !ok {
		return nil, ErrEmptyUndoLog
	}
	return e, nil
}

// Depth returns the current number of entries.
func (l *UndoLog) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stack.Len()
}

// Clear drops all entries.
func (l *UndoLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stack.Clear()
}

// ringStack is a fixed-size circular LIFO stack.
//
// Push is O(1) with bounded memory; when full, the oldest element is
// overwritten. PopNewest removes the most recently pushed element.
//
// Thread Safety: NOT safe for concurrent use; caller must synchronize.
type ringStack[T any] struct {
	data  []T
	head  int // Next write position
	count int // Current number of elements
	cap   int // Maximum capacity
}

// newRingStack creates a ring stack with the given capacity.
func newRingStack[T any](capacity int) *ringStack[T] {
	if capacity <= 0 {
		capacity = 100 // Default
	}
	return &ringStack[T]{
		data: make([]T, capacity),
		cap:  capacity,
	}
}

// Push adds an item. If the stack is full, the oldest item is
// overwritten.
func (r *ringStack[T]) Push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// PopNewest removes and returns the most recently pushed item.
func (r *ringStack[T]) PopNewest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}

	// head points to the next write, so newest is at head-1.
	r.head--
	if r.head < 0 {
		r.head = r.cap - 1
	}
	item := r.data[r.head]
	r.data[r.head] = zero // Clear reference
	r.count--

	return item, true
}

// Len returns the current number of elements.
func (r *ringStack[T]) Len() int {
	return r.count
}

// Clear removes all elements.
func (r *ringStack[T]) Clear() {
	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.head = 0
	r.count = 0
}
