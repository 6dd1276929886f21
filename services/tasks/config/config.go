// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates task store configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the task store and CLI.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after
// creation.
type Config struct {
	// Storage contains record store settings.
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Undo contains undo log settings.
	Undo UndoConfig `json:"undo" yaml:"undo"`

	// Logging contains logging settings.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// StorageConfig contains record store settings.
type StorageConfig struct {
	// Dir is the BadgerDB data directory. Supports ~ expansion.
	Dir string `json:"dir" yaml:"dir"`

	// InMemory disables persistence. Data is lost on exit.
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `json:"sync_writes" yaml:"sync_writes"`

	// GCInterval is how often to run value log GC. 0 disables.
	GCInterval time.Duration `json:"gc_interval" yaml:"gc_interval"`
}

// UndoConfig contains undo log settings.
type UndoConfig struct {
	// Depth bounds the undo log. Oldest entries are evicted silently.
	Depth int `json:"depth" yaml:"depth"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Dir enables file logging to the given directory when set.
	Dir string `json:"dir" yaml:"dir"`

	// JSON switches stderr output to JSON format.
	JSON bool `json:"json" yaml:"json"`
}

// EnvDataDir overrides Storage.Dir when set.
const EnvDataDir = "ALEUTIAN_TASKS_DIR"

// Default returns the production defaults.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Dir:        "~/.aleutian/tasks",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Undo: UndoConfig{
			Depth: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.Dir == "" {
		return errors.New("storage.dir is required unless storage.in_memory is set")
	}
	if c.Storage.GCInterval < 0 {
		return errors.New("storage.gc_interval must not be negative")
	}
	if c.Undo.Depth < 0 {
		return errors.New("undo.depth must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// Load reads configuration from path, layered over the defaults.
//
// A missing file is not an error: the defaults are returned. The
// ALEUTIAN_TASKS_DIR environment variable overrides storage.dir last.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Defaults apply.
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if dir := os.Getenv(EnvDataDir); dir != "" {
		cfg.Storage.Dir = dir
	}
	cfg.Storage.Dir = ExpandPath(cfg.Storage.Dir)
	cfg.Logging.Dir = ExpandPath(cfg.Logging.Dir)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns the default config file location
// (~/.aleutian/tasks.yaml).
func DefaultPath() string {
	return ExpandPath("~/.aleutian/tasks.yaml")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
