// Package worker provides a bounded fan-out/fan-in pool. safegate uses it to
// classify many commands at once in `safegate check --file`.
package worker

import (
	"context"
	"runtime"
	"sync"
)

// Result pairs a processed value with its original index to preserve ordering.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// Pool fans out work items to a fixed number of goroutine workers
// and collects results preserving the original input order.
type Pool[In, Out any] struct {
	concurrency int
}

// NewPool creates a worker pool with the given concurrency.
// If concurrency <= 0, defaults to runtime.NumCPU().
func NewPool[In, Out any](concurrency int) *Pool[In, Out] {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	return &Pool[In, Out]{concurrency: concurrency}
}

// Process applies fn to every item and returns results in input order.
// Errors are captured per result rather than aborting the batch. Items not
// yet started when ctx is cancelled get ctx.Err() as their error.
func (p *Pool[In, Out]) Process(ctx context.Context, items []In, fn func(In) (Out, error)) []Result[Out] {
	if len(items) == 0 {
		return nil
	}

	workers := min(p.concurrency, len(items))
	jobs := make(chan int)
	results := make([]Result[Out], len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				val, err := fn(items[i])
				results[i] = Result[Out]{Index: i, Value: val, Err: err}
			}
		}()
	}

	next := 0
feed:
	for ; next < len(items); next++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- next:
		}
	}
	close(jobs)
	wg.Wait()

	for i := next; i < len(items); i++ {
		results[i] = Result[Out]{Index: i, Err: ctx.Err()}
	}
	return results
}
