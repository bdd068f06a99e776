// Package db provides connection management, query building and schema
// migration for the local ledger store.
package db

import (
	"context"
	"sync"

	apperrors "github.com/yuchia/localledger/internal/errors"
)

// Future is the pending result of a task submitted to the Executor.
type Future struct {
	done  chan struct{}
	value interface{}
	err   error
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Executor is a bounded worker pool. Store operations can be offloaded
// to it so a caller awaits completion without blocking its own
// goroutine.
type Executor struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewExecutor starts workers goroutines consuming submitted tasks.
func NewExecutor(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}

	e := &Executor{tasks: make(chan func(), workers*2)}
	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer e.wg.Done()
			for task := range e.tasks {
				task()
			}
		}()
	}
	return e
}

// Submit schedules fn on the pool and returns a Future for its result.
func (e *Executor) Submit(fn func() (interface{}, error)) (*Future, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, apperrors.New(apperrors.ErrInternal, "executor is closed")
	}

	f := &Future{done: make(chan struct{})}
	e.tasks <- func() {
		defer close(f.done)
		f.value, f.err = fn()
	}
	return f, nil
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.tasks)
	e.wg.Wait()
}
