// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the number of goroutines used to decode and resize image files.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool of workers limited to a maximum parallelism.
type Pool struct {
	// maxParallelism is the limit of tasks running at the same time.
	maxParallelism int
	mu             sync.Mutex
	cond           sync.Cond // Should be signaled whenever numRunning is decreased.
	numRunning     int
}

// New return a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	w := &Pool{}
	w.maxParallelism = runtime.NumCPU()
	w.cond = sync.Cond{L: &w.mu}
	return w
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism is the limit of tasks running concurrently.
// If set to 0 parallelism is disabled and tasks run inline.
// If set to -1 parallelism is unlimited.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism.
//
// You should only change the parallelism before any workers start running.
// It returns the Pool, so calls can be cascaded.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// lockedIsFull returns whether all available workers are in use.
//
// It must be called with Pool.mu acquired.
func (w *Pool) lockedIsFull() bool {
	if w.maxParallelism < 0 {
		return false
	}
	return w.numRunning >= w.maxParallelism
}

// WaitToStart waits until there is a worker available to run the task, and starts it in a new goroutine.
//
// If parallelism is disabled (maxParallelism is 0), it runs the task inline and returns when it is finished.
func (w *Pool) WaitToStart(task func()) {
	if w.IsUnlimited() {
		go task()
		return

	} else if w.maxParallelism == 0 {
		task()
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for w.lockedIsFull() {
		w.cond.Wait()
	}
	w.numRunning++
	go func() {
		task()
		w.mu.Lock()
		w.numRunning--
		w.cond.Signal()
		w.mu.Unlock()
	}()
}

// ForEach calls fn(ii) for ii in [0, n), using the pool workers, and waits for all of them to finish.
//
// Each index is processed exactly once, and it is up to fn to store its result in the position ii of
// some pre-allocated slice, so the order of the results doesn't depend on scheduling.
//
// Once one call returns an error, no new calls are started and the first error is returned.
func (w *Pool) ForEach(n int, fn func(ii int) error) error {
	var (
		wg       sync.WaitGroup
		muErr    sync.Mutex
		firstErr error
	)
	failed := func() bool {
		muErr.Lock()
		defer muErr.Unlock()
		return firstErr != nil
	}
	for ii := range n {
		if failed() {
			break
		}
		wg.Add(1)
		w.WaitToStart(func() {
			defer wg.Done()
			if err := fn(ii); err != nil {
				muErr.Lock()
				if firstErr == nil {
					firstErr = err
				}
				muErr.Unlock()
			}
		})
	}
	wg.Wait()
	return firstErr
}
