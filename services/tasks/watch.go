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
	"errors"
	"log/slog"
	"sync/atomic"
)

// CancelFunc stops a watch subscription.
//
// Idempotent and safe to call from within the subscription's own
// handler. Cancellation is immediate from the caller's perspective: no
// new delivery starts after it returns, though a resolve already in
// flight may still complete; callers needing strict exclusion should
// discard late deliveries with their own generation token.
type CancelFunc func()

// OnChange receives resolved task snapshots from a watch subscription.
//
// Every delivered task is a point-in-time snapshot. Delivery is
// at-least-once: duplicates for a single logical write are possible,
// and no ordering is guaranteed across rapid successive writes.
type OnChange func(*Task)

// Watch subscribes to changes of a single task.
//
// # Description
//
// Subscribes to the record store's raw change feed filtered to the
// task's key. On each raw change the current record is re-fetched and
// decoded, and onChange is invoked with the resolved task. Changes that
// resolve to a missing record (the task was deleted) are not delivered.
//
// A panic or resolve failure during one delivery is logged and the
// subscription stays alive for future deliveries.
//
// The subscription ends when cancel is called, ctx is cancelled, or the
// record store is closed.
//
// # Inputs
//
//   - ctx: Bounds the subscription lifetime.
//   - id: Identifier of the task to watch. The task need not exist yet.
//   - onChange: Callback receiving resolved snapshots. Must not be nil.
//
// # Outputs
//
//   - CancelFunc: Stops the subscription. Idempotent, re-entrant safe.
//   - error: Non-nil if the raw feed cannot be established.
//
// Thread Safety: Safe for concurrent use; each call is an independent
// subscription.
func (s *Store) Watch(ctx context.Context, id string, onChange OnChange) (CancelFunc, error) {
	subCtx, cancelCtx := context.WithCancel(ctx)
	feed, err := s.records.Watch(subCtx, taskKey(id))
	if err != nil {
		cancelCtx()
		return nil, err
	}
	recordWatchers(ctx, 1)

	var stopped atomic.Bool
	cancel := func() {
		if stopped.CompareAndSwap(false, true) {
			cancelCtx()
			recordWatchers(context.Background(), -1)
		}
	}

	go func() {
		defer cancel()
		for change := range feed {
			if stopped.Load() {
				return
			}
			// Prefix subscription; drop keys that merely share the
			// prefix.
			if change.Key != taskKey(id) {
				continue
			}
			s.deliver(subCtx, id, onChange, &stopped)
		}
	}()

	return cancel, nil
}

// deliver resolves the watched task and invokes the handler, isolating
// per-delivery failures so the subscription survives them.
func (s *Store) deliver(ctx context.Context, id string, onChange OnChange, stopped *atomic.Bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("watch handler panicked",
				slog.String("id", id),
				slog.Any("panic", r))
		}
	}()

	t, err := s.getTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			// Deleted before the resolve, or subscription ending.
			return
		}
		s.logger.Error("watch resolve failed",
			slog.String("id", id),
			slog.String("error", err.Error()))
		return
	}

	// Checked as late as possible; a cancel that lands after this is
	// the documented in-flight window.
	if stopped.Load() {
		return
	}
	onChange(t)
}
