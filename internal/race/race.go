// Package race runs cooperative task groups where the first member to finish
// decides the outcome and every other member is cancelled.
package race

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
)

// ErrDeadline is returned by WithDeadline when the timer fires first.
var ErrDeadline = errors.New("deadline exceeded")

// Task is a member of a FirstOf group. It must return promptly once ctx is
// cancelled.
type Task[T any] func(ctx context.Context) (T, error)

type outcome[T any] struct {
	val T
	err error
}

// FirstOf runs all tasks concurrently and returns the result of the first
// one to finish. The remaining tasks are cancelled and FirstOf waits for
// them to return, so no goroutine outlives the call.
func FirstOf[T any](ctx context.Context, tasks ...Task[T]) (T, error) {
	var zero T
	if len(tasks) == 0 {
		return zero, errors.New("race: no tasks")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome[T], len(tasks))
	for _, task := range tasks {
		go func(task Task[T]) {
			v, err := task(ctx)
			results <- outcome[T]{val: v, err: err}
		}(task)
	}

	first := <-results
	cancel()
	for i := 1; i < len(tasks); i++ {
		<-results
	}
	return first.val, first.err
}

// WithDeadline races op against a timer on clk. If the timer fires first op
// is cancelled and ErrDeadline is returned.
func WithDeadline[T any](ctx context.Context, clk clock.Clock, timeout time.Duration, op Task[T]) (T, error) {
	if clk == nil {
		clk = clock.New()
	}
	timer := clk.Timer(timeout)
	deadline := func(ctx context.Context) (T, error) {
		var zero T
		defer timer.Stop()
		select {
		case <-timer.C:
			return zero, ErrDeadline
		case <-ctx.Done():
			// Losing the race lands here and the value is discarded.
			// Only a cancelled parent makes this result visible.
			return zero, ctx.Err()
		}
	}
	return FirstOf(ctx, op, deadline)
}

// Watch returns a task that never produces a value on its own and fails
// with errFn's result when done is closed. It fills the passive slot of a
// FirstOf group, e.g. "helper exited unexpectedly".
func Watch[T any](done <-chan struct{}, errFn func() error) Task[T] {
	return func(ctx context.Context) (T, error) {
		var zero T
		select {
		case <-done:
			return zero, errFn()
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
