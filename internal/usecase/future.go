package usecase

import (
	"context"
)

// Future is the result of a remote operation running on its own goroutine.
// Callers may Await it or drop it.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go starts fn and returns a Future for its result.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn(ctx)
	}()
	return f
}

// Resolved returns a Future that is already complete.
func Resolved[T any](value T, err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), value: value, err: err}
	close(f.done)
	return f
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the operation finishes or ctx ends. Abandoning the wait
// does not cancel the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then chains a dependent step. The first error short-circuits the chain.
func Then[T, U any](ctx context.Context, f *Future[T], next func(ctx context.Context, v T) (U, error)) *Future[U] {
	return Go(ctx, func(ctx context.Context) (U, error) {
		v, err := f.Await(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return next(ctx, v)
	})
}
