package executor

import (
	"context"
	"sync"
)

// Await starts callback-style work and blocks until it resolves or ctx is done.
// Resolutions after the first one are ignored.
func Await[T any](ctx context.Context, start func(resolve func(T, error))) (T, error) {
	ch := make(chan Result[T], 1)
	var once sync.Once
	start(func(v T, err error) {
		once.Do(func() { ch <- Result[T]{v, err} })
	})

	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type Result[T any] struct {
	Value T
	Err   error
}

// Async runs fn in the background and delivers its result on the returned
// channel, for racing against timers in a select.
func Async[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		v, err := fn()
		ch <- Result[T]{v, err}
	}()
	return ch
}
