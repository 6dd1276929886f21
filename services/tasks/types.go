// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks implements the hierarchical task store.
//
// Tasks form an arbitrarily deep tree. Each task is persisted as a single
// document in a record store, keyed by its identifier, and carries its full
// ancestor path. The path is the sole source of structural truth: parent,
// children, and subtree relationships are derived from path scans rather
// than from a persisted adjacency structure (see pathindex.go).
//
// The package exposes:
//   - Store: create/update/delete/move/copy operations plus lifecycle
//     state transitions (store.go)
//   - UndoLog: a bounded command log reversing the last N operations
//     (undo.go)
//   - Watch: per-task change subscriptions resolving raw record changes
//     to typed tasks (watch.go)
//
// Concurrency model: a Store instance assumes a single logical writer.
// Mutating operations are serialized internally; multi-record operations
// (delete-subtree, move-subtree) are not transactional in the backing
// store and order their writes to bound the window a concurrent reader
// can observe (descendants before ancestors on delete).
package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RootTaskID is the identifier of the distinguished root task.
//
// The root is lazily materialized on first access, owns the path
// [RootTaskID], and can never be deleted or moved.
const RootTaskID = "root"

// State is the lifecycle state of a task.
type State string

// Lifecycle states. The canonical forward cycle is
// NotStarted -> InProgress -> Done -> NotStarted; Blocked is reachable
// only by an explicit set and is not part of the cycle.
const (
	StateNotStarted State = "NOT_STARTED"
	StateInProgress State = "IN_PROGRESS"
	StateBlocked    State = "BLOCKED"
	StateDone       State = "DONE"
)

// Legacy state names accepted on decode and normalized to the
// canonical set. Older stores persisted CREATED/STARTED.
const (
	legacyStateCreated State = "CREATED"
	legacyStateStarted State = "STARTED"
)

// Valid reports whether s is one of the canonical states.
func (s State) Valid() bool {
	switch s {
	case StateNotStarted, StateInProgress, StateBlocked, StateDone:
		return true
	}
	return false
}

// Next returns the successor of s on the canonical forward cycle.
//
// Done wraps back to NotStarted; there is no terminal state. Blocked is
// outside the cycle and advances to InProgress (unblocking resumes work).
func (s State) Next() State {
	switch s {
	case StateNotStarted:
		return StateInProgress
	case StateInProgress:
		return StateDone
	case StateDone:
		return StateNotStarted
	case StateBlocked:
		return StateInProgress
	default:
		return StateNotStarted
	}
}

// normalize maps legacy state names onto the canonical set.
func (s State) normalize() State {
	switch s {
	case legacyStateCreated:
		return StateNotStarted
	case legacyStateStarted:
		return StateInProgress
	default:
		return s
	}
}

// UnmarshalJSON decodes a state, accepting legacy names.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	*s = State(raw).normalize()
	return nil
}

// StateChange is one entry in a task's append-only change log.
//
// The log captures every lifecycle transition for audit and statistics
// consumers. It is appended by the transition caller (AdvanceState), not
// by the raw state setter; see Store.SetState for the asymmetry.
type StateChange struct {
	Time     time.Time `json:"time"`
	NewState State     `json:"newState"`
}

// Task is a single node in the task tree.
//
// Identity is immutable once assigned. Path is the only structural field
// that changes after creation (on move): it is the ordered sequence of
// ancestor identifiers from the root to and including the task itself,
// so Path[len(Path)-1] == ID always holds.
type Task struct {
	// ID uniquely identifies the task. Immutable.
	ID string `json:"id"`

	// Text is the display text.
	Text string `json:"text"`

	// State is the current lifecycle state.
	State State `json:"internalState"`

	// Path is the ancestor chain, root first, ending in ID.
	// Sole source of structural truth.
	Path []string `json:"path"`

	// SubTaskIDs is a derived convenience cache of immediate child IDs.
	// It may be stale or absent; parent/child queries must go through
	// the path index instead.
	SubTaskIDs []string `json:"subTaskIds,omitempty"`

	// DueDate is an optional due date.
	DueDate *time.Time `json:"dueDate,omitempty"`

	// ChangeLog records every lifecycle transition, oldest first.
	ChangeLog []StateChange `json:"changeLog,omitempty"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"createdAt"`
}

// NewTask creates a task with a fresh identifier and initial state.
//
// The path is left empty; Store.Create computes it from the parent.
func NewTask(text string) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Text:      text,
		State:     StateNotStarted,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy of the task.
//
// Undo entries snapshot tasks by value so a later mutation of the live
// task cannot corrupt a pending entry.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Path = append([]string(nil), t.Path...)
	if t.SubTaskIDs != nil {
		c.SubTaskIDs = append([]string(nil), t.SubTaskIDs...)
	}
	if t.ChangeLog != nil {
		c.ChangeLog = append([]StateChange(nil), t.ChangeLog...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return &c
}

// IsRoot reports whether the task is the distinguished root.
func (t *Task) IsRoot() bool {
	return t.ID == RootTaskID
}

// Depth returns the task's depth in the tree. The root has depth 0.
func (t *Task) Depth() int {
	if len(t.Path) == 0 {
		return 0
	}
	return len(t.Path) - 1
}

// validate checks the structural invariants that every persisted task
// must satisfy.
func (t *Task) validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has empty id")
	}
	if len(t.Path) == 0 {
		return fmt.Errorf("task %s: path is empty", t.ID)
	}
	if t.Path[len(t.Path)-1] != t.ID {
		return fmt.Errorf("task %s: path does not end in own id", t.ID)
	}
	seen := 0
	for _, p := range t.Path {
		if p == t.ID {
			seen++
		}
	}
	if seen > 1 {
		return fmt.Errorf("task %s: path contains own id %d times", t.ID, seen)
	}
	return nil
}

// Stats summarizes the store for reporting consumers.
type Stats struct {
	// Total is the number of tasks excluding the root.
	Total int

	// ByState counts tasks per lifecycle state, excluding the root.
	ByState map[State]int

	// Transitions is the total number of recorded lifecycle
	// transitions across all change logs.
	Transitions int

	// CompletedToday counts transitions to Done since local midnight.
	CompletedToday int
}
