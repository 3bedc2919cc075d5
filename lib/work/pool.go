// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

// Package work provides the worker pool for CPU-bound background
// tasks (hashing, archive decoding, manifest parsing) and awaitable
// task handles.
//
// The reconciliation orchestrator runs single-threaded; anything
// CPU-heavy is submitted here and awaited. Cancelling a wait does not
// cancel the in-flight task: pool work is synchronous and runs to
// completion, so its error may surface after the apparent
// cancellation point.
package work

import (
	"context"
	"runtime"
	"sync"
)

// Pool is a fixed-size worker pool. The zero value is not usable;
// call NewPool.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
}

// NewPool starts a pool with the given number of workers. A
// non-positive count defaults to GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	pool := &Pool{tasks: make(chan func(), workers*2)}
	pool.wg.Add(workers)
	for range workers {
		go func() {
			defer pool.wg.Done()
			for task := range pool.tasks {
				task()
			}
		}()
	}
	return pool
}

// Close stops accepting tasks and waits for in-flight work to drain.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

// Task is a handle to a background computation producing a T.
type Task[T any] struct {
	done   chan struct{}
	result T
	err    error
}

// Submit schedules fn on the pool and returns its handle. Submit
// blocks only when the task queue is full.
func Submit[T any](pool *Pool, fn func() (T, error)) *Task[T] {
	task := &Task[T]{done: make(chan struct{})}
	pool.tasks <- func() {
		task.result, task.err = fn()
		close(task.done)
	}
	return task
}

// Wait blocks until the task completes or ctx is done. A context
// error abandons the wait, not the task; the task keeps running on
// the pool and a later Wait still returns its result.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports completion without blocking.
func (t *Task[T]) Done() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
