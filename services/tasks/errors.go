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

import "errors"

// Sentinel errors for the task store. Callers classify failures with
// errors.Is; operations wrap these with identifier and operation context.
var (
	// ErrNotFound indicates the task identifier is absent from the store.
	ErrNotFound = errors.New("task not found")

	// ErrParentNotFound indicates the referenced parent does not exist.
	ErrParentNotFound = errors.New("parent task not found")

	// ErrRootDeletion indicates an attempt to delete the root task.
	ErrRootDeletion = errors.New("root task cannot be deleted")

	// ErrCyclicMove indicates the move destination lies inside the
	// moved subtree (or is the moved task itself).
	ErrCyclicMove = errors.New("move destination is inside moved subtree")

	// ErrEmptyUndoLog indicates there is no operation left to undo.
	ErrEmptyUndoLog = errors.New("undo log is empty")

	// ErrInvalidState indicates a state value outside the canonical set.
	ErrInvalidState = errors.New("invalid lifecycle state")
)
