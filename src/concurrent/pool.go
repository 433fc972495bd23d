package concurrent

import (
	"context"
	"sync"
)

// WorkerPool bounds how many functions run at once.
type WorkerPool struct {
	maxWorkers int
	sem        chan struct{}
}

// NewWorkerPool creates a pool with the given number of slots.
func NewWorkerPool(maxWorkers int) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	return &WorkerPool{
		maxWorkers: maxWorkers,
		sem:        make(chan struct{}, maxWorkers),
	}
}

// Size returns the number of slots.
func (wp *WorkerPool) Size() int { return wp.maxWorkers }

// Do runs fn once a slot is free, or returns ctx.Err() if ctx ends first.
func (wp *WorkerPool) Do(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case wp.sem <- struct{}{}:
		defer func() { <-wp.sem }()
		return fn()
	}
}

// Settle runs fn on every item through the pool and waits for all of them.
// Errors are reported per item; one failure never cancels the others.
func Settle[T any](ctx context.Context, wp *WorkerPool, items []T, fn func(context.Context, T) error) []error {
	errs := make([]error, len(items))
	if len(items) == 0 {
		return errs
	}
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, val T) {
			defer wg.Done()
			errs[idx] = wp.Do(ctx, func() error { return fn(ctx, val) })
		}(i, item)
	}
	wg.Wait()
	return errs
}

// Both runs a and b concurrently and returns their errors independently.
func Both(ctx context.Context, a, b func(context.Context) error) (errA, errB error) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = a(ctx)
	}()
	go func() {
		defer wg.Done()
		errB = b(ctx)
	}()
	wg.Wait()
	return errA, errB
}
