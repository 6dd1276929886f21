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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered snapshots under a lock; watch handlers
// run on the subscription goroutine.
type recorder struct {
	mu    sync.Mutex
	tasks []*Task
}

func (r *recorder) onChange(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, t)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *recorder) all() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Task(nil), r.tasks...)
}

func (r *recorder) last() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) == 0 {
		return nil
	}
	return r.tasks[len(r.tasks)-1]
}

func TestWatch_DeliversOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "before", "")

	var rec recorder
	cancel, err := s.Watch(ctx, task.ID, rec.onChange)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Rename(ctx, task.ID, "after"))

	require.Eventually(t, func() bool {
		last := rec.last()
		return last != nil && last.Text == "after"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWatch_IgnoresOtherTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	watched := mustCreate(t, s, "watched", "")
	other := mustCreate(t, s, "other", "")

	var rec recorder
	cancel, err := s.Watch(ctx, watched.ID, rec.onChange)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Rename(ctx, other.ID, "noise"))
	require.NoError(t, s.Rename(ctx, watched.ID, "signal"))

	require.Eventually(t, func() bool {
		return rec.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	for _, delivered := range rec.all() {
		assert.Equal(t, watched.ID, delivered.ID)
	}
}

func TestWatch_CancelIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "x", "")

	var rec recorder
	cancel, err := s.Watch(ctx, task.ID, rec.onChange)
	require.NoError(t, err)

	cancel()
	cancel() // Second call is a no-op, never a panic or deadlock.

	require.NoError(t, s.Rename(ctx, task.ID, "y"))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}

// A subscription may cancel itself from inside its own handler without
// deadlocking; deliveries after the cancel are suppressed.
func TestWatch_CancelFromHandler(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "x", "")

	var (
		mu         sync.Mutex
		deliveries int
		cancel     CancelFunc
	)
	done := make(chan struct{})
	cancel, err := s.Watch(ctx, task.ID, func(*Task) {
		mu.Lock()
		deliveries++
		mu.Unlock()
		cancel()
		select {
		case <-done:
		default:
			close(done)
		}
	})
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, task.ID, "first"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never fired")
	}

	require.NoError(t, s.Rename(ctx, task.ID, "second"))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, deliveries)
}

// A panicking handler must not kill the subscription.
func TestWatch_HandlerPanicIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "x", "")

	var (
		mu    sync.Mutex
		calls int
	)
	cancel, err := s.Watch(ctx, task.ID, func(*Task) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("handler bug")
		}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Rename(ctx, task.ID, "first"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Rename(ctx, task.ID, "second"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

// Deleting the watched task is not delivered: the resolve finds no
// record and the change is dropped.
func TestWatch_DeleteNotDelivered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	task := mustCreate(t, s, "doomed", "")

	var rec recorder
	cancel, err := s.Watch(ctx, task.ID, rec.onChange)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.Delete(ctx, task.ID))
	time.Sleep(100 * time.Millisecond)

	for _, delivered := range rec.all() {
		assert.Equal(t, "doomed", delivered.Text)
	}
}

func TestWatch_ContextCancelEndsSubscription(t *testing.T) {
	s := newTestStore(t)

	task := mustCreate(t, s, "x", "")

	watchCtx, stop := context.WithCancel(context.Background())
	var rec recorder
	_, err := s.Watch(watchCtx, task.ID, rec.onChange)
	require.NoError(t, err)

	stop()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, s.Rename(context.Background(), task.ID, "y"))
	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, rec.count())
}
