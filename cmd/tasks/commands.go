// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianTasks/services/tasks"
)

var (
	addParent string
	addDue    string
)

func registerCommands() {
	addCmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Create a task",
		Long:  "Creates a task under the given parent (the root when no parent is given).",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().StringVarP(&addParent, "parent", "p", "", "parent task id")
	addCmd.Flags().StringVar(&addDue, "due", "", "due date (YYYY-MM-DD)")

	rootCmd.AddCommand(
		addCmd,
		&cobra.Command{
			Use:   "show [id]",
			Short: "Show one task",
			Args:  cobra.ExactArgs(1),
			RunE:  runShow,
		},
		&cobra.Command{
			Use:   "list [parent-id]",
			Short: "List immediate children (of the root by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runList,
		},
		&cobra.Command{
			Use:   "tree [id]",
			Short: "Print the task tree (from the root by default)",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runTree,
		},
		&cobra.Command{
			Use:   "mv [id] [new-parent-id]",
			Short: "Move a task (and its subtree) under a new parent",
			Args:  cobra.ExactArgs(2),
			RunE:  runMove,
		},
		&cobra.Command{
			Use:   "cp [id] [new-parent-id]",
			Short: "Copy a task subtree under a new parent",
			Long:  "Copies the subtree with fresh identifiers. Change-log history is not copied.",
			Args:  cobra.ExactArgs(2),
			RunE:  runCopy,
		},
		&cobra.Command{
			Use:   "rm [id]",
			Short: "Delete a task and all of its descendants",
			Args:  cobra.ExactArgs(1),
			RunE:  runRemove,
		},
		&cobra.Command{
			Use:   "clear [id]",
			Short: "Delete every child of a task, keeping the task itself",
			Args:  cobra.ExactArgs(1),
			RunE:  runClear,
		},
		&cobra.Command{
			Use:   "next [id]",
			Short: "Advance a task along the lifecycle cycle",
			Long:  "NOT_STARTED -> IN_PROGRESS -> DONE -> NOT_STARTED. The transition is recorded in the change log.",
			Args:  cobra.ExactArgs(1),
			RunE:  runNext,
		},
		&cobra.Command{
			Use:   "block [id]",
			Short: "Mark a task blocked",
			Args:  cobra.ExactArgs(1),
			RunE:  runBlock,
		},
		&cobra.Command{
			Use:   "rename [id] [text]",
			Short: "Change a task's text",
			Args:  cobra.ExactArgs(2),
			RunE:  runRename,
		},
		&cobra.Command{
			Use:   "due [id] [date]",
			Short: "Set a task's due date (YYYY-MM-DD), or '-' to clear it",
			Args:  cobra.ExactArgs(2),
			RunE:  runDue,
		},
		&cobra.Command{
			Use:   "undo",
			Short: "Undo the most recent operation",
			Args:  cobra.NoArgs,
			RunE:  runUndo,
		},
		&cobra.Command{
			Use:   "watch [id]",
			Short: "Print the task every time it changes, until interrupted",
			Args:  cobra.ExactArgs(1),
			RunE:  runWatch,
		},
		&cobra.Command{
			Use:   "stats",
			Short: "Summarize the store",
			Args:  cobra.NoArgs,
			RunE:  runStats,
		},
	)
}

func runAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	t := tasks.NewTask(strings.Join(args, " "))
	if addDue != "" {
		due, err := time.Parse("2006-01-02", addDue)
		if err != nil {
			return fmt.Errorf("parse due date %q: %w", addDue, err)
		}
		t.DueDate = &due
	}
	id, err := e.store.Create(ctx, t, addParent)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	t, err := e.store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	printTask(t)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	parent := tasks.RootTaskID
	if len(args) == 1 {
		parent = args[0]
	}
	children, err := e.store.Children(ctx, parent)
	if err != nil {
		return err
	}
	sortTasks(children)
	for _, c := range children {
		fmt.Printf("%s %s  %s\n", stateGlyph(c.State), c.ID, c.Text)
	}
	return nil
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	rootID := tasks.RootTaskID
	if len(args) == 1 {
		rootID = args[0]
	}
	root, err := e.store.Get(ctx, rootID)
	if err != nil {
		return err
	}
	all, err := e.store.List(ctx)
	if err != nil {
		return err
	}
	printTree(root, all, 0)
	return nil
}

func runMove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.MoveSubtree(ctx, args[0], args[1])
}

func runCopy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	copyID, err := e.store.CopySubtree(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(copyID)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.Delete(ctx, args[0])
}

func runClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.ClearChildren(ctx, args[0])
}

func runNext(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	next, err := e.store.AdvanceState(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(next)
	return nil
}

func runBlock(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.SetState(ctx, args[0], tasks.StateBlocked)
}

func runRename(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.Rename(ctx, args[0], args[1])
}

func runDue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	if args[1] == "-" {
		return e.store.SetDueDate(ctx, args[0], nil)
	}
	due, err := time.Parse("2006-01-02", args[1])
	if err != nil {
		return fmt.Errorf("parse due date %q: %w", args[1], err)
	}
	return e.store.SetDueDate(ctx, args[0], &due)
}

func runUndo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()
	return e.store.Undo(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	cancel, err := e.store.Watch(ctx, args[0], func(t *tasks.Task) {
		fmt.Printf("[%s] %s %s  %s\n",
			time.Now().Format(time.TimeOnly), stateGlyph(t.State), t.ID, t.Text)
	})
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Fprintln(os.Stderr, "watching", args[0], "(Ctrl-C to stop)")
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, done, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer done()

	stats, err := e.store.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("tasks:           %d\n", stats.Total)
	for _, s := range []tasks.State{tasks.StateNotStarted, tasks.StateInProgress, tasks.StateBlocked, tasks.StateDone} {
		if n := stats.ByState[s]; n > 0 {
			fmt.Printf("  %-14s %d\n", strings.ToLower(string(s))+":", n)
		}
	}
	fmt.Printf("transitions:     %d\n", stats.Transitions)
	fmt.Printf("completed today: %d\n", stats.CompletedToday)
	return nil
}

// printTree renders a subtree depth-first with indentation.
func printTree(t *tasks.Task, all []*tasks.Task, depth int) {
	if !t.IsRoot() {
		fmt.Printf("%s%s %s  %s%s\n",
			strings.Repeat("  ", depth), stateGlyph(t.State), t.ID, t.Text, dueSuffix(t))
		depth++
	}
	children := tasks.ImmediateChildren(t.ID, all)
	sortTasks(children)
	for _, c := range children {
		printTree(c, all, depth)
	}
}

func printTask(t *tasks.Task) {
	fmt.Printf("id:      %s\n", t.ID)
	fmt.Printf("text:    %s\n", t.Text)
	fmt.Printf("state:   %s\n", t.State)
	fmt.Printf("path:    %s\n", strings.Join(t.Path, " / "))
	if t.DueDate != nil {
		fmt.Printf("due:     %s\n", t.DueDate.Format("2006-01-02"))
	}
	fmt.Printf("created: %s\n", t.CreatedAt.Format(time.RFC3339))
	for _, c := range t.ChangeLog {
		fmt.Printf("  %s -> %s\n", c.Time.Format(time.RFC3339), c.NewState)
	}
}

// sortTasks orders tasks by creation time, then text. The store itself
// makes no ordering promise.
func sortTasks(ts []*tasks.Task) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].Text < ts[j].Text
	})
}

func stateGlyph(s tasks.State) string {
	switch s {
	case tasks.StateInProgress:
		return "[~]"
	case tasks.StateBlocked:
		return "[!]"
	case tasks.StateDone:
		return "[x]"
	default:
		return "[ ]"
	}
}

func dueSuffix(t *tasks.Task) string {
	if t.DueDate == nil {
		return ""
	}
	return "  (due " + t.DueDate.Format("2006-01-02") + ")"
}
