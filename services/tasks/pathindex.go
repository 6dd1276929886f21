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

// Path index: parent/children/descendant queries derived purely from
// stored paths. No adjacency structure is persisted; every query is a
// pure function over a snapshot of tasks.
//
// The O(n) scans are a deliberate trade-off for a small, client-local
// store. They eliminate the cache-invalidation bugs a mutable child
// list invites (SubTaskIDs is kept only as a decoded convenience and is
// never trusted). If the store ever has to hold large hierarchies this
// is the component to replace with a persisted child index.

// ParentID returns the parent identifier encoded in path, or "" for the
// root (path length 1) and for malformed empty paths. O(1).
func ParentID(path []string) string {
	if len(path) < 2 {
		return ""
	}
	return path[len(path)-2]
}

// pathContains reports whether id appears anywhere in path.
func pathContains(path []string, id string) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}
	return false
}

// ImmediateChildren filters all to the tasks whose parent is id.
//
// Order follows the scan order of all; callers needing a stable order
// must sort.
func ImmediateChildren(id string, all []*Task) []*Task {
	var children []*Task
	for _, t := range all {
		if len(t.Path) >= 2 && t.Path[len(t.Path)-2] == id {
			children = append(children, t)
		}
	}
	return children
}

// SubtreeOf filters all to the transitive descendants of id, excluding
// the task with identifier id itself.
//
// A task is a descendant exactly when its path contains id. Order is
// unspecified; callers must not rely on breadth or depth ordering.
func SubtreeOf(id string, all []*Task) []*Task {
	var subtree []*Task
	for _, t := range all {
		if t.ID == id {
			continue
		}
		if pathContains(t.Path, id) {
			subtree = append(subtree, t)
		}
	}
	return subtree
}
