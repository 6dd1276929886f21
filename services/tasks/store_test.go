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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianTasks/services/tasks/storage"
	badgerstore "github.com/AleutianAI/AleutianTasks/services/tasks/storage/badger"
)

// newTestStore returns a store over an in-memory record store.
func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	records, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })
	return NewStore(records, opts...)
}

func mustCreate(t *testing.T, s *Store, text, parentID string) *Task {
	t.Helper()
	task := NewTask(text)
	_, err := s.Create(context.Background(), task, parentID)
	require.NoError(t, err)
	return task
}

func taskIDs(ts []*Task) []string {
	var out []string
	for _, x := range ts {
		out = append(out, x.ID)
	}
	return out
}

func TestGet_LazyRootMaterialization(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root, err := s.Get(ctx, RootTaskID)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())
	assert.Equal(t, []string{RootTaskID}, root.Path)

	// Idempotent on repeat access.
	again, err := s.Get(ctx, RootTaskID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, again.ID)
}

func TestCreate_UnderRoot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	milk := mustCreate(t, s, "buy milk", "")
	assert.Equal(t, []string{RootTaskID, milk.ID}, milk.Path)

	children, err := s.Children(ctx, RootTaskID)
	require.NoError(t, err)
	assert.Contains(t, taskIDs(children), milk.ID)
}

func TestCreate_Nested(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	milk := mustCreate(t, s, "buy milk", "")
	twoPct := mustCreate(t, s, "2% milk", milk.ID)

	assert.Equal(t, []string{RootTaskID, milk.ID, twoPct.ID}, twoPct.Path)

	children, err := s.Children(ctx, milk.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{twoPct.ID}, taskIDs(children))
}

func TestCreate_ParentNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(context.Background(), NewTask("orphan"), "no-such-parent")
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestCreate_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := NewTask("first")
	_, err := s.Create(ctx, task, "")
	require.NoError(t, err)

	dup := NewTask("second")
	dup.ID = task.ID
	_, err = s.Create(ctx, dup, "")
	assert.ErrorIs(t, err, storage.ErrConflict)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "before", "")

	task.Text = "after"
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	task.DueDate = &due
	require.NoError(t, s.Update(ctx, task))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Text)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))
	// The stored path is preserved.
	assert.Equal(t, []string{RootTaskID, task.ID}, got.Path)
}

func TestUpdate_NotFound(t *testing.T) {
	s := newTestStore(t)
	ghost := NewTask("ghost")
	ghost.Path = []string{RootTaskID, ghost.ID}
	assert.ErrorIs(t, s.Update(context.Background(), ghost), ErrNotFound)
}

func TestUpdate_NeverMoves(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustCreate(t, s, "parent", "")
	child := mustCreate(t, s, "child", parent.ID)

	// A caller-tampered path must be ignored by Update.
	tampered := child.Clone()
	tampered.Path = []string{RootTaskID, tampered.ID}
	require.NoError(t, s.Update(ctx, tampered))

	got, err := s.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, parent.ID, child.ID}, got.Path)
}

// Scenario from the store contract: "2% milk" moves from "buy milk" to
// a sibling "errands"; its path is rewritten and the old parent loses
// it.
func TestMoveSubtree_Reparent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	milk := mustCreate(t, s, "buy milk", "")
	twoPct := mustCreate(t, s, "2% milk", milk.ID)
	errands := mustCreate(t, s, "errands", "")

	require.NoError(t, s.MoveSubtree(ctx, twoPct.ID, errands.ID))

	moved, err := s.Get(ctx, twoPct.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, errands.ID, twoPct.ID}, moved.Path)

	milkKids, err := s.Children(ctx, milk.ID)
	require.NoError(t, err)
	assert.NotContains(t, taskIDs(milkKids), twoPct.ID)

	errandKids, err := s.Children(ctx, errands.ID)
	require.NoError(t, err)
	assert.Contains(t, taskIDs(errandKids), twoPct.ID)
}

// Move rewrites exactly the moved path prefix: every descendant keeps
// its relative suffix and its path length.
func TestMoveSubtree_RewritesDescendantPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a", "")
	b := mustCreate(t, s, "b", a.ID)
	c := mustCreate(t, s, "c", b.ID)
	d := mustCreate(t, s, "d", c.ID)
	dest := mustCreate(t, s, "dest", "")

	before, err := s.Subtree(ctx, b.ID)
	require.NoError(t, err)
	beforeLen := make(map[string]int)
	for _, x := range before {
		beforeLen[x.ID] = len(x.Path)
	}

	require.NoError(t, s.MoveSubtree(ctx, b.ID, dest.ID))

	moved, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, dest.ID, b.ID}, moved.Path)

	gotC, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, dest.ID, b.ID, c.ID}, gotC.Path)

	gotD, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, dest.ID, b.ID, c.ID, d.ID}, gotD.Path)

	// Subtree membership is preserved and path lengths are unchanged.
	after, err := s.Subtree(ctx, b.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, taskIDs(before), taskIDs(after))
	for _, x := range after {
		assert.Equal(t, beforeLen[x.ID], len(x.Path), "path length of %s", x.ID)
	}
}

func TestMoveSubtree_CycleRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a", "")
	b := mustCreate(t, s, "b", a.ID)
	c := mustCreate(t, s, "c", b.ID)

	t.Run("into own descendant", func(t *testing.T) {
		assert.ErrorIs(t, s.MoveSubtree(ctx, a.ID, c.ID), ErrCyclicMove)
	})

	t.Run("onto itself", func(t *testing.T) {
		assert.ErrorIs(t, s.MoveSubtree(ctx, a.ID, a.ID), ErrCyclicMove)
	})

	t.Run("root cannot move", func(t *testing.T) {
		// Every destination lies inside the root's subtree.
		assert.ErrorIs(t, s.MoveSubtree(ctx, RootTaskID, a.ID), ErrCyclicMove)
	})

	// Nothing was rewritten by the rejected moves.
	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, a.ID, b.ID, c.ID}, got.Path)
}

func TestMoveSubtree_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "a", "")

	assert.ErrorIs(t, s.MoveSubtree(ctx, "ghost", a.ID), ErrNotFound)
	assert.ErrorIs(t, s.MoveSubtree(ctx, a.ID, "ghost"), ErrParentNotFound)
}

// Scenario: deleting "buy milk" while "2% milk" is still its child
// removes both.
func TestDelete_Transitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	milk := mustCreate(t, s, "buy milk", "")
	twoPct := mustCreate(t, s, "2% milk", milk.ID)
	skim := mustCreate(t, s, "skim milk", milk.ID)
	bystander := mustCreate(t, s, "unrelated", "")

	require.NoError(t, s.Delete(ctx, milk.ID))

	for _, id := range []string{milk.ID, twoPct.ID, skim.ID} {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound, "task %s should be gone", id)
	}

	// No other task is affected.
	_, err := s.Get(ctx, bystander.ID)
	assert.NoError(t, err)
}

func TestDelete_RootForbidden(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Delete(context.Background(), RootTaskID), ErrRootDeletion)
}

func TestDelete_NotFound(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Delete(context.Background(), "ghost"), ErrNotFound)
}

func TestClearChildren(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustCreate(t, s, "parent", "")
	c1 := mustCreate(t, s, "c1", parent.ID)
	c2 := mustCreate(t, s, "c2", parent.ID)
	grandchild := mustCreate(t, s, "gc", c1.ID)

	require.NoError(t, s.ClearChildren(ctx, parent.ID))

	// The parent survives; the children and their descendants do not.
	_, err := s.Get(ctx, parent.ID)
	assert.NoError(t, err)
	for _, id := range []string{c1.ID, c2.ID, grandchild.ID} {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestCopySubtree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := mustCreate(t, s, "src", "")
	child := mustCreate(t, s, "child", src.ID)
	mustCreate(t, s, "grandchild", child.ID)
	require.NoError(t, s.SetState(ctx, child.ID, StateDone))
	dest := mustCreate(t, s, "dest", "")

	copyID, err := s.CopySubtree(ctx, src.ID, dest.ID)
	require.NoError(t, err)

	copyRoot, err := s.Get(ctx, copyID)
	require.NoError(t, err)
	assert.Equal(t, "src", copyRoot.Text)
	assert.Equal(t, []string{RootTaskID, dest.ID, copyID}, copyRoot.Path)

	origSubtree, err := s.Subtree(ctx, src.ID)
	require.NoError(t, err)
	copySubtree, err := s.Subtree(ctx, copyID)
	require.NoError(t, err)
	require.Len(t, copySubtree, len(origSubtree))

	// The copied identifier set is disjoint from the original's.
	origIDs := map[string]bool{src.ID: true}
	for _, x := range origSubtree {
		origIDs[x.ID] = true
	}
	assert.False(t, origIDs[copyID])
	for _, x := range copySubtree {
		assert.False(t, origIDs[x.ID], "copied id %s aliases an original", x.ID)
	}

	// Text and state are copied; change-log history is not.
	var copiedChild *Task
	for _, x := range copySubtree {
		if x.Text == "child" {
			copiedChild = x
		}
	}
	require.NotNil(t, copiedChild)
	assert.Equal(t, StateDone, copiedChild.State)
	assert.Empty(t, copiedChild.ChangeLog)

	// The original is untouched.
	gotSrc, err := s.Get(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{RootTaskID, src.ID}, gotSrc.Path)
}

func TestCopySubtree_Errors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "a", "")

	_, err := s.CopySubtree(ctx, "ghost", a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CopySubtree(ctx, a.ID, "ghost")
	assert.ErrorIs(t, err, ErrParentNotFound)
}

// Scenario: the lifecycle cycles back to the initial state without a
// terminal trap.
func TestAdvanceState_Cycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "cycle", "")

	next, err := s.AdvanceState(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInProgress, next)

	next, err = s.AdvanceState(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDone, next)

	next, err = s.AdvanceState(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNotStarted, next)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got.ChangeLog, 3)
	assert.Equal(t, StateInProgress, got.ChangeLog[0].NewState)
	assert.Equal(t, StateDone, got.ChangeLog[1].NewState)
	assert.Equal(t, StateNotStarted, got.ChangeLog[2].NewState)
}

// SetState is the raw setter and must not append to the change log;
// only the transition caller (AdvanceState) does.
func TestSetState_DoesNotAppendChangeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "quirk", "")
	require.NoError(t, s.SetState(ctx, task.ID, StateBlocked))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, got.State)
	assert.Empty(t, got.ChangeLog)
}

func TestSetState_Invalid(t *testing.T) {
	s := newTestStore(t)
	task := mustCreate(t, s, "x", "")
	assert.ErrorIs(t, s.SetState(context.Background(), task.ID, State("NONSENSE")), ErrInvalidState)
}

func TestRename(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "old", "")
	require.NoError(t, s.Rename(ctx, task.ID, "new"))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)
}

func TestSetDueDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "dated", "")
	due := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetDueDate(ctx, task.ID, &due))

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))

	require.NoError(t, s.SetDueDate(ctx, task.ID, nil))
	got, err = s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got.DueDate)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a", "")
	mustCreate(t, s, "b", a.ID)
	c := mustCreate(t, s, "c", "")

	// a -> IN_PROGRESS -> DONE (two logged transitions).
	_, err := s.AdvanceState(ctx, a.ID)
	require.NoError(t, err)
	_, err = s.AdvanceState(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, s.SetState(ctx, c.ID, StateBlocked))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.ByState[StateDone])
	assert.Equal(t, 1, stats.ByState[StateBlocked])
	assert.Equal(t, 1, stats.ByState[StateNotStarted])
	assert.Equal(t, 2, stats.Transitions)
	assert.Equal(t, 1, stats.CompletedToday)
}

// The child-id cache on the parent is refreshed best-effort, but the
// path index never trusts it: children are found even when the cache
// has been corrupted out from under the store.
func TestChildCacheIsNotAuthoritative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := mustCreate(t, s, "parent", "")
	child := mustCreate(t, s, "child", parent.ID)

	// Corrupt the cache directly.
	p, err := s.getTask(ctx, parent.ID)
	require.NoError(t, err)
	p.SubTaskIDs = []string{"stale-garbage"}
	require.NoError(t, s.putTask(ctx, p))

	children, err := s.Children(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, taskIDs(children))
}
