// Package async provides a completion signal for operations that run off the
// caller's goroutine.
package async

import (
	"context"
	"sync"
)

// Task is the pending result of an operation started with Run. Once started
// the operation runs to completion; waiting callers may give up early but
// cannot abort it.
type Task[T any] struct {
	done chan struct{}
	val  T
	err  error

	mu    sync.Mutex
	conts []func(T, error)
}

// Run starts fn on its own goroutine. fn receives a context that keeps the
// values of ctx but is never cancelled.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	runCtx := context.WithoutCancel(ctx)
	go func() {
		val, err := fn(runCtx)
		t.complete(val, err)
	}()
	return t
}

// Failed returns a task that has already finished with err.
func Failed[T any](err error) *Task[T] {
	t := &Task[T]{done: make(chan struct{})}
	var zero T
	t.complete(zero, err)
	return t
}

func (t *Task[T]) complete(val T, err error) {
	t.mu.Lock()
	t.val, t.err = val, err
	close(t.done)
	conts := t.conts
	t.conts = nil
	t.mu.Unlock()

	for _, fn := range conts {
		fn(val, err)
	}
}

// Done is closed when the operation has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the operation finishes or ctx is done, whichever is first.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then registers fn to run with the result. If the task has already finished
// fn runs immediately on the calling goroutine; otherwise it runs on the
// goroutine that completes the task.
func (t *Task[T]) Then(fn func(T, error)) {
	t.mu.Lock()
	select {
	case <-t.done:
		t.mu.Unlock()
		fn(t.val, t.err)
		return
	default:
	}
	t.conts = append(t.conts, fn)
	t.mu.Unlock()
}
