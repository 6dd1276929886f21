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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianTasks/services/tasks/storage"
)

// keyPrefix namespaces task documents in the record store.
const keyPrefix = "task/"

// taskKey returns the record key for a task identifier.
func taskKey(id string) string {
	return keyPrefix + id
}

// idFromKey strips the key prefix from a record key.
func idFromKey(key string) string {
	return strings.TrimPrefix(key, keyPrefix)
}

// Store implements the hierarchy operations over a record store.
//
// # Description
//
// Store owns the path-rewriting algorithms and the ordering contract for
// multi-record mutations. Every mutating call pushes an entry onto the
// undo log; Undo pops the most recent entry and replays its inverse.
//
// Multi-record operations are not transactional in the backing store.
// Delete removes descendants before ancestors, so a concurrent reader
// can at worst observe a missing descendant of a still-present ancestor,
// never the reverse. A crash mid-move can leave a partially-moved
// subtree; this is a documented failure mode, not hidden.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations are serialized internally; the
// store assumes it is the single logical writer against its record
// store.
type Store struct {
	records storage.RecordStore
	undo    *UndoLog
	logger  *slog.Logger

	// mu serializes mutating operations.
	mu chanMutex
}

// chanMutex is a channel-based mutex so mutations can honor context
// cancellation while waiting.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire store lock: %w", ctx.Err())
	}
}

func (m chanMutex) unlock() {
	<-m
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUndoDepth bounds the undo log to the given number of entries.
func WithUndoDepth(depth int) Option {
	return func(s *Store) {
		s.undo = NewUndoLog(depth)
	}
}

// NewStore creates a task store over the given record store.
//
// The record store is borrowed, not owned: the caller remains
// responsible for closing it.
func NewStore(records storage.RecordStore, opts ...Option) *Store {
	s := &Store{
		records: records,
		undo:    NewUndoLog(DefaultUndoDepth),
		logger:  slog.Default(),
		mu:      make(chanMutex, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "task_store"))
	return s
}

// UndoDepth returns the current number of undoable operations.
func (s *Store) UndoDepth() int {
	return s.undo.Depth()
}

// =============================================================================
// Reads
// =============================================================================

// Get returns the task with the given identifier.
//
// The root is lazily materialized: fetching RootTaskID synthesizes the
// root record if it is absent. Any other absent identifier fails with
// ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Task, error) {
	t, err := s.getTask(ctx, id)
	if err != nil && id == RootTaskID && errors.Is(err, ErrNotFound) {
		if err := s.mu.lock(ctx); err != nil {
			return nil, err
		}
		defer s.mu.unlock()
		return s.ensureRoot(ctx)
	}
	return t, err
}

// List returns every task in the store, including the root.
//
// Order is unspecified (backend scan order).
func (s *Store) List(ctx context.Context) ([]*Task, error) {
	return s.listAll(ctx)
}

// Children returns the immediate children of id.
//
// This is a full scan filtered through the path index; acceptable at
// client-local scale, documented as the scalability limit.
func (s *Store) Children(ctx context.Context, id string) ([]*Task, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return ImmediateChildren(id, all), nil
}

// Subtree returns every transitive descendant of id, excluding id
// itself. Order is unspecified.
func (s *Store) Subtree(ctx context.Context, id string) ([]*Task, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	return SubtreeOf(id, all), nil
}

// Stats summarizes the store for reporting consumers.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByState: make(map[State]int)}
	midnight := time.Now().Truncate(24 * time.Hour)
	for _, t := range all {
		if t.IsRoot() {
			continue
		}
		stats.Total++
		stats.ByState[t.State]++
		stats.Transitions += len(t.ChangeLog)
		for _, c := range t.ChangeLog {
			if c.NewState == StateDone && c.Time.After(midnight) {
				stats.CompletedToday++
			}
		}
	}
	return stats, nil
}

// =============================================================================
// Structural operations
// =============================================================================

// Create persists a new task under the given parent.
//
// # Description
//
// Ensures the root exists (idempotent lazy-init), resolves the parent,
// computes the task's path as parent path plus own identifier, and
// persists the record. An empty parentID means the root. A task with an
// empty ID is assigned a fresh identifier.
//
// # Inputs
//
//   - ctx: Cancellation context.
//   - t: The task to create. Path is computed here; any caller-set path
//     is discarded.
//   - parentID: Parent identifier, or "" for the root.
//
// # Outputs
//
//   - string: The identifier of the created task.
//   - error: ErrParentNotFound if the parent is absent;
//     storage.ErrConflict if the identifier already exists.
func (s *Store) Create(ctx context.Context, t *Task, parentID string) (id string, err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "create", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return "", err
	}
	defer s.mu.unlock()

	if _, err = s.ensureRoot(ctx); err != nil {
		return "", err
	}

	if parentID == "" {
		parentID = RootTaskID
	}
	parent, err := s.getTask(ctx, parentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("create under %s: %w", parentID, ErrParentNotFound)
		}
		return "", err
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.State == "" {
		t.State = StateNotStarted
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if _, err = s.getTask(ctx, t.ID); err == nil {
		return "", fmt.Errorf("create %s: identifier already exists: %w", t.ID, storage.ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	t.Path = append(append([]string(nil), parent.Path...), t.ID)
	if err = s.putTask(ctx, t); err != nil {
		return "", err
	}

	s.recordUndo(ctx, &UndoEntry{Kind: UndoCreate, Task: t.Clone()})
	s.refreshChildCache(ctx, parentID)
	s.logger.Debug("task created",
		slog.String("id", t.ID),
		slog.String("parent", parentID))
	return t.ID, nil
}

// Update merges non-structural field changes into the stored record.
//
// Text, State, DueDate, and ChangeLog are taken from t; the stored path
// is preserved (Update never moves a task). Fails with ErrNotFound if
// the identifier is absent.
func (s *Store) Update(ctx context.Context, t *Task) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "update", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	stored, err := s.getTask(ctx, t.ID)
	if err != nil {
		return err
	}

	snapshot := stored.Clone()
	stored.Text = t.Text
	if t.State != "" {
		if !t.State.Valid() {
			return fmt.Errorf("update %s: %q: %w", t.ID, t.State, ErrInvalidState)
		}
		stored.State = t.State
	}
	stored.DueDate = nil
	if t.DueDate != nil {
		d := *t.DueDate
		stored.DueDate = &d
	}
	if t.ChangeLog != nil {
		stored.ChangeLog = append([]StateChange(nil), t.ChangeLog...)
	}

	if err = s.putTask(ctx, stored); err != nil {
		return err
	}
	s.recordUndo(ctx, &UndoEntry{Kind: UndoAttributeChange, Task: snapshot})
	return nil
}

// Rename updates a task's display text.
func (s *Store) Rename(ctx context.Context, id, text string) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "rename", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	t, err := s.getTask(ctx, id)
	if err != nil {
		return err
	}
	snapshot := t.Clone()
	t.Text = text
	if err = s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordUndo(ctx, &UndoEntry{Kind: UndoAttributeChange, Task: snapshot})
	return nil
}

// SetDueDate sets or clears (nil) a task's due date.
func (s *Store) SetDueDate(ctx context.Context, id string, due *time.Time) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "set_due_date", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	t, err := s.getTask(ctx, id)
	if err != nil {
		return err
	}
	snapshot := t.Clone()
	t.DueDate = nil
	if due != nil {
		d := *due
		t.DueDate = &d
	}
	if err = s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordUndo(ctx, &UndoEntry{Kind: UndoAttributeChange, Task: snapshot})
	return nil
}

// Delete removes a task and every descendant transitively.
//
// # Description
//
// Computes the full subtree via the path index, then removes records
// leaves-first: a concurrent reader may observe a descendant already
// gone while the ancestor remains, never an orphaned descendant. The
// whole deleted subtree is snapshotted into a single undo entry.
//
// # Outputs
//
//   - error: ErrRootDeletion for the root; ErrNotFound if id is absent.
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "delete", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	entry, err := s.deleteLocked(ctx, id)
	if err != nil {
		return err
	}
	s.recordUndo(ctx, entry)
	return nil
}

// deleteLocked removes the subtree rooted at id and returns the undo
// entry describing it. Caller holds the mutation lock.
func (s *Store) deleteLocked(ctx context.Context, id string) (*UndoEntry, error) {
	if id == RootTaskID {
		return nil, fmt.Errorf("delete %s: %w", id, ErrRootDeletion)
	}
	t, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}

	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	subtree := SubtreeOf(id, all)

	// Leaves first: longest paths are deepest.
	sort.Slice(subtree, func(i, j int) bool {
		return len(subtree[i].Path) > len(subtree[j].Path)
	})

	entry := &UndoEntry{
		Kind:        UndoDelete,
		Task:        t.Clone(),
		PriorParent: ParentID(t.Path),
	}
	for _, d := range subtree {
		entry.Subtree = append(entry.Subtree, d.Clone())
	}

	for _, d := range subtree {
		if err := s.removeRecord(ctx, d.ID); err != nil {
			return nil, fmt.Errorf("delete subtree of %s: %w", id, err)
		}
	}
	if err := s.removeRecord(ctx, id); err != nil {
		return nil, err
	}

	recordSubtreeSize(ctx, "delete", len(subtree)+1)
	s.refreshChildCache(ctx, entry.PriorParent)
	s.logger.Info("task deleted",
		slog.String("id", id),
		slog.Int("descendants", len(subtree)))
	return entry, nil
}

// ClearChildren deletes every immediate child of id (and transitively
// their descendants) but not id itself.
//
// Each child removal is recorded as its own undo entry, so children can
// be restored one at a time, most recent first.
func (s *Store) ClearChildren(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "clear_children", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	if _, err = s.getTask(ctx, id); err != nil {
		return err
	}
	all, err := s.listAll(ctx)
	if err != nil {
		return err
	}
	for _, child := range ImmediateChildren(id, all) {
		entry, err := s.deleteLocked(ctx, child.ID)
		if err != nil {
			return fmt.Errorf("clear children of %s: %w", id, err)
		}
		s.recordUndo(ctx, entry)
	}
	return nil
}

// MoveSubtree re-parents a task and rewrites every descendant's path.
//
// # Description
//
// Rejects moves whose destination is the moved task or lies inside its
// subtree (ErrCyclicMove); since every task's path contains the root,
// this also forbids moving the root. The task's new path is the new
// parent's path plus its own identifier; each descendant keeps its
// relative suffix: newPath + oldPath[len(oldTaskPath):].
//
// Descendant updates are independent writes. A crash mid-move can leave
// a partially-moved subtree; this is a documented failure mode.
//
// # Outputs
//
//   - error: ErrNotFound, ErrParentNotFound, or ErrCyclicMove.
func (s *Store) MoveSubtree(ctx context.Context, id, newParentID string) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "move", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	_, err = s.moveLocked(ctx, id, newParentID, true)
	return err
}

// moveLocked implements the move. When recordEntry is false the move is
// an undo replay and must not push a new entry.
func (s *Store) moveLocked(ctx context.Context, id, newParentID string, recordEntry bool) (*Task, error) {
	t, err := s.getTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if newParentID == "" {
		newParentID = RootTaskID
	}
	parent, err := s.getTask(ctx, newParentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("move %s under %s: %w", id, newParentID, ErrParentNotFound)
		}
		return nil, err
	}

	// Cycle guard: the destination must not be the moved task or any
	// of its descendants. A destination inside the subtree carries id
	// in its own path.
	if parent.ID == id || pathContains(parent.Path, id) {
		return nil, fmt.Errorf("move %s under %s: %w", id, newParentID, ErrCyclicMove)
	}

	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}
	subtree := SubtreeOf(id, all)

	oldPath := t.Path
	oldParentID := ParentID(oldPath)
	snapshot := t.Clone()

	newPath := append(append([]string(nil), parent.Path...), id)
	t.Path = newPath
	if err := s.putTask(ctx, t); err != nil {
		return nil, err
	}

	for _, d := range subtree {
		suffix := d.Path[len(oldPath):]
		d.Path = append(append([]string(nil), newPath...), suffix...)
		if err := s.putTask(ctx, d); err != nil {
			return nil, fmt.Errorf("move subtree of %s: %w", id, err)
		}
	}

	if recordEntry {
		s.recordUndo(ctx, &UndoEntry{
			Kind:        UndoMove,
			Task:        snapshot,
			PriorParent: oldParentID,
		})
	}
	recordSubtreeSize(ctx, "move", len(subtree)+1)
	s.refreshChildCache(ctx, oldParentID)
	s.refreshChildCache(ctx, newParentID)
	s.logger.Info("task moved",
		slog.String("id", id),
		slog.String("from", oldParentID),
		slog.String("to", newParentID),
		slog.Int("descendants", len(subtree)))
	return t, nil
}

// CopySubtree copies a task and its descendants under a new parent.
//
// # Description
//
// Every node in the copy gets a fresh identifier, so the new identifier
// set is disjoint from the original and no cycle is possible. Text,
// state, and due date are copied; change-log history is not. Returns
// the identifier of the copy's root.
func (s *Store) CopySubtree(ctx context.Context, id, newParentID string) (copyID string, err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "copy", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return "", err
	}
	defer s.mu.unlock()

	src, err := s.getTask(ctx, id)
	if err != nil {
		return "", err
	}
	if newParentID == "" {
		newParentID = RootTaskID
	}
	parent, err := s.getTask(ctx, newParentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("copy %s under %s: %w", id, newParentID, ErrParentNotFound)
		}
		return "", err
	}

	all, err := s.listAll(ctx)
	if err != nil {
		return "", err
	}

	var copied int
	root, err := s.copyRec(ctx, src, parent, all, &copied)
	if err != nil {
		return "", err
	}

	// One entry for the whole copy: the inverse deletes the new root,
	// which removes every copied descendant with it.
	s.recordUndo(ctx, &UndoEntry{Kind: UndoCreate, Task: root.Clone()})
	recordSubtreeSize(ctx, "copy", copied)
	s.refreshChildCache(ctx, newParentID)
	s.logger.Info("task copied",
		slog.String("src", id),
		slog.String("copy", root.ID),
		slog.Int("nodes", copied))
	return root.ID, nil
}

// copyRec copies src under parent, then recurses over src's immediate
// children from the pre-copy snapshot. Recursion depth equals subtree
// depth.
func (s *Store) copyRec(ctx context.Context, src, parent *Task, all []*Task, copied *int) (*Task, error) {
	c := &Task{
		ID:        uuid.NewString(),
		Text:      src.Text,
		State:     src.State,
		CreatedAt: time.Now().UTC(),
	}
	if src.DueDate != nil {
		d := *src.DueDate
		c.DueDate = &d
	}
	c.Path = append(append([]string(nil), parent.Path...), c.ID)
	if err := s.putTask(ctx, c); err != nil {
		return nil, fmt.Errorf("copy %s: %w", src.ID, err)
	}
	*copied++

	for _, child := range ImmediateChildren(src.ID, all) {
		if _, err := s.copyRec(ctx, child, c, all, copied); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// =============================================================================
// Lifecycle state
// =============================================================================

// SetState rewrites a task's lifecycle state.
//
// This is the raw setter: it does NOT append to the change log. The
// change log is populated by the transition caller (AdvanceState);
// callers setting state directly (e.g. Blocked) own the audit decision.
func (s *Store) SetState(ctx context.Context, id string, state State) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "set_state", start, err) }()

	if !state.Valid() {
		return fmt.Errorf("set state of %s: %q: %w", id, state, ErrInvalidState)
	}

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	t, err := s.getTask(ctx, id)
	if err != nil {
		return err
	}
	snapshot := t.Clone()
	t.State = state
	if err = s.putTask(ctx, t); err != nil {
		return err
	}
	s.recordUndo(ctx, &UndoEntry{Kind: UndoStateChange, Task: snapshot})
	return nil
}

// AdvanceState moves a task one step along the canonical forward cycle
// (NotStarted -> InProgress -> Done -> NotStarted) and appends the
// transition to the change log.
//
// Returns the new state.
func (s *Store) AdvanceState(ctx context.Context, id string) (next State, err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "advance_state", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return "", err
	}
	defer s.mu.unlock()

	t, err := s.getTask(ctx, id)
	if err != nil {
		return "", err
	}
	snapshot := t.Clone()
	next = t.State.Next()
	t.State = next
	t.ChangeLog = append(t.ChangeLog, StateChange{
		Time:     time.Now().UTC(),
		NewState: next,
	})
	if err = s.putTask(ctx, t); err != nil {
		return "", err
	}
	s.recordUndo(ctx, &UndoEntry{Kind: UndoStateChange, Task: snapshot})
	return next, nil
}

// =============================================================================
// Undo
// =============================================================================

// Undo reverses the most recent structural or state operation.
//
// # Description
//
// Pops the newest undo entry and replays its inverse:
//
//   - Create: delete the created subtree
//   - Delete: re-create the snapshot (and its descendants) under the
//     prior parent
//   - Move: move back under the prior parent
//   - StateChange/AttributeChange: restore the snapshotted fields
//
// The inverse itself is not recorded; undo is not redo-compatible.
// Undoing a delete whose prior parent has since been deleted fails with
// ErrParentNotFound (the known stale-undo edge case); the entry is
// consumed either way.
//
// # Outputs
//
//   - error: ErrEmptyUndoLog if nothing is left to undo, otherwise the
//     failure of the inverse operation.
func (s *Store) Undo(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { recordOp(ctx, "undo", start, err) }()

	if err = s.mu.lock(ctx); err != nil {
		return err
	}
	defer s.mu.unlock()

	entry, err := s.undo.PopLast()
	if err != nil {
		return err
	}
	recordUndoDepth(ctx, -1)

	switch entry.Kind {
	case UndoCreate:
		_, err = s.deleteLocked(ctx, entry.Task.ID)
	case UndoDelete:
		err = s.restoreDeleted(ctx, entry)
	case UndoMove:
		_, err = s.moveLocked(ctx, entry.Task.ID, entry.PriorParent, false)
	case UndoStateChange, UndoAttributeChange:
		err = s.restoreSnapshot(ctx, entry.Task)
	default:
		err = fmt.Errorf("undo: unknown entry kind %q", entry.Kind)
	}
	if err != nil {
		return fmt.Errorf("undo %s of %s: %w", entry.Kind, entry.Task.ID, err)
	}
	s.logger.Info("operation undone",
		slog.String("kind", string(entry.Kind)),
		slog.String("id", entry.Task.ID))
	return nil
}

// restoreDeleted re-creates a deleted subtree from its snapshots.
//
// The prior parent must still exist. Records are restored with their
// original paths, ancestors first, so readers never see an orphan.
func (s *Store) restoreDeleted(ctx context.Context, entry *UndoEntry) error {
	parentID := entry.PriorParent
	if parentID == "" {
		parentID = RootTaskID
	}
	if _, err := s.getTask(ctx, parentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("prior parent %s: %w", parentID, ErrParentNotFound)
		}
		return err
	}

	if err := s.putTask(ctx, entry.Task.Clone()); err != nil {
		return err
	}

	restore := make([]*Task, len(entry.Subtree))
	for i, t := range entry.Subtree {
		restore[i] = t.Clone()
	}
	sort.Slice(restore, func(i, j int) bool {
		return len(restore[i].Path) < len(restore[j].Path)
	})
	for _, t := range restore {
		if err := s.putTask(ctx, t); err != nil {
			return err
		}
	}
	s.refreshChildCache(ctx, parentID)
	return nil
}

// restoreSnapshot writes a snapshot's non-structural fields back onto
// the live record. The live path wins: an intervening move is not
// reversed by a state or attribute undo.
func (s *Store) restoreSnapshot(ctx context.Context, snapshot *Task) error {
	live, err := s.getTask(ctx, snapshot.ID)
	if err != nil {
		return err
	}
	restored := snapshot.Clone()
	restored.Path = live.Path
	restored.SubTaskIDs = live.SubTaskIDs
	return s.putTask(ctx, restored)
}

// recordUndo pushes an entry and updates the depth gauge.
func (s *Store) recordUndo(ctx context.Context, e *UndoEntry) {
	s.undo.Record(e)
	recordUndoDepth(ctx, 1)
}

// =============================================================================
// Record plumbing
// =============================================================================

// ensureRoot materializes the root record if absent. Idempotent.
func (s *Store) ensureRoot(ctx context.Context) (*Task, error) {
	root, err := s.getTask(ctx, RootTaskID)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	root = &Task{
		ID:        RootTaskID,
		Text:      "root",
		State:     StateNotStarted,
		Path:      []string{RootTaskID},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.putTask(ctx, root); err != nil {
		return nil, fmt.Errorf("materialize root: %w", err)
	}
	s.logger.Debug("root task materialized")
	return root, nil
}

// getTask fetches and decodes one task.
func (s *Store) getTask(ctx context.Context, id string) (*Task, error) {
	raw, err := s.records.Get(ctx, taskKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask(id, raw)
}

// putTask validates, encodes, and persists one task.
func (s *Store) putTask(ctx context.Context, t *Task) error {
	if err := t.validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}
	if err := s.records.Put(ctx, taskKey(t.ID), raw); err != nil {
		return fmt.Errorf("put task %s: %w", t.ID, err)
	}
	return nil
}

// removeRecord deletes one task record.
func (s *Store) removeRecord(ctx context.Context, id string) error {
	if err := s.records.Delete(ctx, taskKey(id)); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	return nil
}

// listAll scans and decodes every task record.
func (s *Store) listAll(ctx context.Context) ([]*Task, error) {
	var all []*Task
	err := s.records.List(ctx, keyPrefix, func(key string, value []byte) error {
		t, err := decodeTask(idFromKey(key), value)
		if err != nil {
			return err
		}
		all = append(all, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return all, nil
}

// refreshChildCache recomputes a parent's SubTaskIDs from a path scan.
//
// The cache is a derived convenience only; failures here are logged and
// swallowed, never propagated, and readers must tolerate a stale or
// absent cache.
func (s *Store) refreshChildCache(ctx context.Context, parentID string) {
	if parentID == "" {
		return
	}
	parent, err := s.getTask(ctx, parentID)
	if err != nil {
		s.logger.Debug("child cache refresh skipped",
			slog.String("parent", parentID),
			slog.String("error", err.Error()))
		return
	}
	all, err := s.listAll(ctx)
	if err != nil {
		s.logger.Debug("child cache refresh skipped",
			slog.String("parent", parentID),
			slog.String("error", err.Error()))
		return
	}
	parent.SubTaskIDs = parent.SubTaskIDs[:0]
	for _, c := range ImmediateChildren(parentID, all) {
		parent.SubTaskIDs = append(parent.SubTaskIDs, c.ID)
	}
	if err := s.putTask(ctx, parent); err != nil {
		s.logger.Debug("child cache refresh failed",
			slog.String("parent", parentID),
			slog.String("error", err.Error()))
	}
}

// decodeTask unmarshals a task document and checks its identity.
func decodeTask(id string, raw []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	t.State = t.State.normalize()
	if t.ID == "" {
		t.ID = id
	}
	return &t, nil
}
