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
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for task store metrics.
var meter = otel.Meter("aleutian.tasks")

// Metric instruments for store operations.
var (
	opsTotal      metric.Int64Counter
	opsFailed     metric.Int64Counter
	opDuration    metric.Float64Histogram
	subtreeSize   metric.Int64Histogram
	undoDepth     metric.Int64UpDownCounter
	watchersGauge metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		opsTotal, err = meter.Int64Counter(
			"tasks_operations_total",
			metric.WithDescription("Total number of task store operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opsFailed, err = meter.Int64Counter(
			"tasks_operations_failed_total",
			metric.WithDescription("Total number of failed task store operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		opDuration, err = meter.Float64Histogram(
			"tasks_operation_duration_seconds",
			metric.WithDescription("Duration of task store operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		subtreeSize, err = meter.Int64Histogram(
			"tasks_subtree_operation_size",
			metric.WithDescription("Number of records touched by subtree operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		undoDepth, err = meter.Int64UpDownCounter(
			"tasks_undo_log_depth",
			metric.WithDescription("Current number of entries in the undo log"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		watchersGauge, err = meter.Int64UpDownCounter(
			"tasks_active_watchers",
			metric.WithDescription("Current number of active watch subscriptions"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordOp records one completed operation with its outcome.
func recordOp(ctx context.Context, op string, start time.Time, err error) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op))
	opsTotal.Add(ctx, 1, attrs)
	if err != nil {
		opsFailed.Add(ctx, 1, attrs)
	}
	opDuration.Record(ctx, time.Since(start).Seconds(), attrs)
}

// recordSubtreeSize records the record count touched by a subtree
// operation (delete, move, copy).
func recordSubtreeSize(ctx context.Context, op string, n int) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	subtreeSize.Record(ctx, int64(n), metric.WithAttributes(attribute.String("op", op)))
}

// recordUndoDepth adjusts the undo log depth gauge by delta.
func recordUndoDepth(ctx context.Context, delta int64) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	undoDepth.Add(ctx, delta)
}

// recordWatchers adjusts the active watcher gauge by delta.
func recordWatchers(ctx context.Context, delta int64) {
	if !metricsEnabled.Load() || initMetrics() != nil {
		return
	}
	watchersGauge.Add(ctx, delta)
}
