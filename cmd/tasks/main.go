// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command tasks manages the local hierarchical task store.
//
// Tasks form an arbitrarily deep tree backed by an embedded BadgerDB
// database. The CLI covers the full store contract: creation, lookup,
// subtree move/copy/delete, lifecycle transitions, undo, and live
// watching.
//
// Usage:
//
//	tasks add "buy milk"
//	tasks add -p <id> "2% milk"
//	tasks tree
//	tasks mv <id> <new-parent-id>
//	tasks next <id>
//	tasks undo
//	tasks watch <id>
//
// The data directory defaults to ~/.aleutian/tasks and can be set in
// ~/.aleutian/tasks.yaml or via ALEUTIAN_TASKS_DIR.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/AleutianAI/AleutianTasks/pkg/logging"
	"github.com/AleutianAI/AleutianTasks/services/tasks"
	"github.com/AleutianAI/AleutianTasks/services/tasks/config"
	badgerstore "github.com/AleutianAI/AleutianTasks/services/tasks/storage/badger"
)

var (
	flagConfig   string
	flagDataDir  string
	flagInMemory bool
	flagDebug    bool
	flagMetrics  bool

	rootCmd = &cobra.Command{
		Use:           "tasks",
		Short:         "Manage the local hierarchical task store",
		Long:          "Tasks is a local, tree-structured task tracker backed by an embedded BadgerDB store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// env is the per-invocation environment shared by all subcommands.
type env struct {
	cfg      config.Config
	logger   *logging.Logger
	records  *badgerstore.Store
	store    *tasks.Store
	shutdown []func()
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.aleutian/tasks.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "override the data directory")
	rootCmd.PersistentFlags().BoolVar(&flagInMemory, "in-memory", false, "use a throwaway in-memory store")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false, "dump metric readings on exit")

	registerCommands()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openEnv loads config and opens the store stack for one command
// invocation. Callers must invoke close when done.
func openEnv(ctx context.Context) (*env, func(), error) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if flagDataDir != "" {
		cfg.Storage.Dir = config.ExpandPath(flagDataDir)
	}
	if flagInMemory {
		cfg.Storage.InMemory = true
	}
	if flagDebug {
		cfg.Logging.Level = "debug"
	}

	e := &env{cfg: cfg}

	e.logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "tasks",
		JSON:    cfg.Logging.JSON,
	})
	e.shutdown = append(e.shutdown, func() { _ = e.logger.Close() })

	if flagMetrics {
		if stop, err := setupMetrics(ctx); err != nil {
			e.logger.Warn("metrics setup failed", "error", err.Error())
		} else {
			e.shutdown = append(e.shutdown, stop)
		}
	} else {
		tasks.SetMetricsEnabled(false)
	}

	storeCfg := badgerstore.Config{
		Path:           cfg.Storage.Dir,
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     cfg.Storage.SyncWrites,
		GCInterval:     cfg.Storage.GCInterval,
		GCDiscardRatio: 0.5,
	}
	if flagDebug {
		storeCfg.Logger = e.logger.Slog()
	}
	e.records, err = badgerstore.Open(storeCfg)
	if err != nil {
		e.close()
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	e.shutdown = append(e.shutdown, func() { _ = e.records.Close() })

	e.store = tasks.NewStore(e.records,
		tasks.WithLogger(e.logger.Slog()),
		tasks.WithUndoDepth(cfg.Undo.Depth),
	)

	return e, e.close, nil
}

func (e *env) close() {
	for i := len(e.shutdown) - 1; i >= 0; i-- {
		e.shutdown[i]()
	}
	e.shutdown = nil
}

// setupMetrics installs a periodic stdout metric pipeline and returns
// its shutdown function.
func setupMetrics(ctx context.Context) (func(), error) {
	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Minute))),
	)
	otel.SetMeterProvider(provider)
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}, nil
}
