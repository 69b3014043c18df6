// Package dispatch gets pipeline invocations executed, asynchronously when
// the broker is reachable and inline in the calling goroutine when it is not.
//
// A task carries only its run id: execution reloads all state from the run
// record, so broker-dispatched and fallback execution behave identically.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Task kinds are an interface contract with the broker/worker layer:
// one task type per pipeline kind, parameterized solely by run id.
const (
	KindMatching = "matching.run"
	KindRanking  = "ranking.run"
)

// DefaultQueueKey is the Redis list the worker pool consumes.
const DefaultQueueKey = "matchsvc:runs:pending"

// Task references one pipeline execution.
type Task struct {
	Kind  string `json:"task"`
	RunID string `json:"run_id"`
}

// Runner executes a pipeline for a run id. Implemented by the orchestrator.
type Runner interface {
	ExecuteMatching(ctx context.Context, runID string) error
	ExecuteRanking(ctx context.Context, runID string) error
}

// Dispatcher submits a task for execution. The orchestrator depends only on
// this capability, never on a specific broker.
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Execute routes a task to the matching or ranking pipeline.
func Execute(ctx context.Context, runner Runner, task Task) error {
	switch task.Kind {
	case KindMatching:
		return runner.ExecuteMatching(ctx, task.RunID)
	case KindRanking:
		return runner.ExecuteRanking(ctx, task.RunID)
	}
	return fmt.Errorf("unknown task kind %q", task.Kind)
}

// ─── Queue dispatcher ────────────────────────────────────────────────────────

// Queue enqueues tasks onto a Redis list consumed by the worker pool.
type Queue struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
}

// NewQueue returns a Queue on key. An empty key selects DefaultQueueKey.
func NewQueue(rdb *redis.Client, key string) *Queue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &Queue{rdb: rdb, key: key, timeout: 3 * time.Second}
}

// Dispatch LPUSHes the encoded task. Any failure — broker unreachable,
// timeout, marshal error — is returned so the caller can fall back.
func (q *Queue) Dispatch(ctx context.Context, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	if err := q.rdb.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s %s: %w", task.Kind, task.RunID, err)
	}
	return nil
}

// ─── Inline dispatcher ───────────────────────────────────────────────────────

// Inline executes the pipeline synchronously in the calling goroutine.
// Used directly in tests and as the fallback target in production.
type Inline struct {
	runner Runner
}

// NewInline returns an Inline dispatcher over runner.
func NewInline(runner Runner) *Inline {
	return &Inline{runner: runner}
}

// Dispatch runs the task to completion before returning.
func (d *Inline) Dispatch(ctx context.Context, task Task) error {
	return Execute(ctx, d.runner, task)
}

// ─── Fallback composition ────────────────────────────────────────────────────

// WithFallback tries the primary dispatcher and, when enqueue fails,
// executes the pipeline inline so run creation never loses forward
// progress under a broker outage. The broker error is logged, never
// surfaced to the client.
type WithFallback struct {
	primary Dispatcher
	runner  Runner
	log     *zap.Logger
}

// NewWithFallback composes primary with inline execution over runner.
func NewWithFallback(primary Dispatcher, runner Runner, log *zap.Logger) *WithFallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &WithFallback{primary: primary, runner: runner, log: log}
}

// Dispatch attempts async enqueue, falling back to synchronous execution.
// A pipeline failure during fallback is already recorded on the run record,
// so it is logged rather than returned.
func (d *WithFallback) Dispatch(ctx context.Context, task Task) error {
	err := d.primary.Dispatch(ctx, task)
	if err == nil {
		return nil
	}
	d.log.Warn("broker dispatch failed, executing inline",
		zap.String("task", task.Kind),
		zap.String("run_id", task.RunID),
		zap.Error(err),
	)
	if execErr := Execute(ctx, d.runner, task); execErr != nil {
		d.log.Error("inline execution failed",
			zap.String("task", task.Kind),
			zap.String("run_id", task.RunID),
			zap.Error(execErr),
		)
	}
	return nil
}
