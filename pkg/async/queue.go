package async

import (
	"context"
	"sync"
)

// Queue runs operations one at a time in the order they were submitted. The
// zero value is ready to use.
type Queue struct {
	mu   sync.Mutex
	tail <-chan struct{}
}

// Enqueue schedules fn on q and returns its task. fn starts after every
// operation submitted before it has finished, and gets the same uncancellable
// context as Run.
func Enqueue[T any](q *Queue, ctx context.Context, fn func(context.Context) (T, error)) *Task[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	prev := q.tail
	t := Run(ctx, func(ctx context.Context) (T, error) {
		if prev != nil {
			<-prev
		}
		return fn(ctx)
	})
	q.tail = t.done
	return t
}
