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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Next(t *testing.T) {
	tests := []struct {
		from State
		want State
	}{
		{StateNotStarted, StateInProgress},
		{StateInProgress, StateDone},
		{StateDone, StateNotStarted}, // Cyclic, no terminal state.
		{StateBlocked, StateInProgress},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Next())
		})
	}
}

func TestState_LegacyAliases(t *testing.T) {
	var task Task
	raw := `{"id":"t1","text":"x","internalState":"STARTED","path":["root","t1"]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &task))
	assert.Equal(t, StateInProgress, task.State)

	raw = `{"id":"t2","text":"x","internalState":"CREATED","path":["root","t2"]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &task))
	assert.Equal(t, StateNotStarted, task.State)
}

func TestTask_Clone(t *testing.T) {
	due := time.Now().UTC()
	orig := &Task{
		ID:         "t1",
		Text:       "original",
		State:      StateInProgress,
		Path:       []string{"root", "t1"},
		SubTaskIDs: []string{"c1"},
		DueDate:    &due,
		ChangeLog:  []StateChange{{Time: due, NewState: StateInProgress}},
	}

	clone := orig.Clone()
	require.Equal(t, orig, clone)

	// Mutating the clone must not touch the original.
	clone.Text = "changed"
	clone.Path[0] = "other"
	clone.SubTaskIDs[0] = "c2"
	*clone.DueDate = due.Add(time.Hour)
	clone.ChangeLog[0].NewState = StateDone

	assert.Equal(t, "original", orig.Text)
	assert.Equal(t, "root", orig.Path[0])
	assert.Equal(t, "c1", orig.SubTaskIDs[0])
	assert.Equal(t, due, *orig.DueDate)
	assert.Equal(t, StateInProgress, orig.ChangeLog[0].NewState)
}

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"valid", Task{ID: "a", Path: []string{"root", "a"}}, false},
		{"root", Task{ID: "root", Path: []string{"root"}}, false},
		{"empty path", Task{ID: "a"}, true},
		{"path not ending in id", Task{ID: "a", Path: []string{"root", "b"}}, true},
		{"own id twice", Task{ID: "a", Path: []string{"root", "a", "b", "a"}}, true},
		{"empty id", Task{Path: []string{"root", ""}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewTask(t *testing.T) {
	a := NewTask("one")
	b := NewTask("two")
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StateNotStarted, a.State)
	assert.Empty(t, a.Path) // Create computes the path.
}
