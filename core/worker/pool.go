package worker

import (
	"context"
	"fmt"
	"runtime"

	"github.com/siherrmann/webgraph/helper"
	"golang.org/x/sync/semaphore"
)

// Pool bounds how many CPU heavy tasks (embedding, reranking) run at once.
type Pool struct {
	slots *semaphore.Weighted
	size  int
}

// NewPool creates a pool with size slots. A size of zero or less uses the
// number of CPUs.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{
		slots: semaphore.NewWeighted(int64(size)),
		size:  size,
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Submit runs fn on a pool slot and waits for its result. If ctx ends first
// the context error is returned; fn keeps its slot until it returns.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	err := p.slots.Acquire(ctx, 1)
	if err != nil {
		return zero, helper.NewError("acquire worker", err)
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer p.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("worker panic: %v", r)}
			}
		}()
		value, err := fn(ctx)
		done <- result{value: value, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, helper.NewError("wait for worker", ctx.Err())
	}
}
