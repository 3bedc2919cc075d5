// Copyright 2026 The Stateward Authors
// SPDX-License-Identifier: Apache-2.0

package work

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitAndWait(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	task := Submit(pool, func() (int, error) { return 42, nil })
	result, err := task.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
}

func TestTaskError(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	sentinel := errors.New("boom")
	task := Submit(pool, func() (string, error) { return "", sentinel })
	_, err := task.Wait(context.Background())
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestWaitCancelledDoesNotStopTask(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	release := make(chan struct{})
	var completed atomic.Bool
	task := Submit(pool, func() (int, error) {
		<-release
		completed.Store(true)
		return 1, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := task.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait after cancel = %v, want context.Canceled", err)
	}

	// The task is still in flight and completes after release.
	close(release)
	if result, err := task.Wait(context.Background()); err != nil || result != 1 {
		t.Errorf("task abandoned: result=%d err=%v", result, err)
	}
	if !completed.Load() {
		t.Error("task did not run to completion")
	}
}

func TestPoolParallelism(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var running atomic.Int32
	var peak atomic.Int32
	tasks := make([]*Task[struct{}], 8)
	for i := range tasks {
		tasks[i] = Submit(pool, func() (struct{}, error) {
			current := running.Add(1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		})
	}
	for _, task := range tasks {
		if _, err := task.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want >= 2", peak.Load())
	}
}

func TestCloseDrains(t *testing.T) {
	pool := NewPool(2)
	var count atomic.Int32
	for range 16 {
		Submit(pool, func() (struct{}, error) {
			count.Add(1)
			return struct{}{}, nil
		})
	}
	pool.Close()
	if count.Load() != 16 {
		t.Errorf("drained %d tasks, want 16", count.Load())
	}
}
