package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/chaz8081/gattprobe/internal/tracer"
)

// Runner owns the single goroutine that performs every transport call.
// Work is queued with Post or Do; long-running operations are started
// with Submit and hop onto the loop for each individual step, so their
// pacing delays never hold the loop.
type Runner struct {
	mu       sync.Mutex
	queue    []func()
	wake     chan struct{}
	stopping bool
	closing  bool
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	active map[int]string
	nextID int
}

// NewRunner starts the loop goroutine.
func NewRunner() *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[int]string),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			if r.stopping {
				r.mu.Unlock()
				return
			}
			r.mu.Unlock()
			<-r.wake
			continue
		}
		fn := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.run(fn)
	}
}

func (r *Runner) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("[SESSION] panic on event loop", "panic", p, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Post queues fn on the loop without waiting. It never blocks, so it is
// safe to call from transport callbacks, including ones invoked on the
// loop itself. It reports false once the loop has stopped accepting work.
func (r *Runner) Post(fn func()) bool {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return false
	}
	r.queue = append(r.queue, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs fn on the loop and waits for it to finish. It must not be
// called from the loop goroutine.
func (r *Runner) Do(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	finished := make(chan struct{})
	if !r.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Active returns the names of running tasks, sorted.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.active))
	for _, name := range r.active {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Close stops accepting tasks, cancels running ones, runs final on the
// loop, drains the queue and waits up to timeout for the loop to exit.
// A join timeout is logged and returned, never fatal.
func (r *Runner) Close(final func(), timeout time.Duration) error {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return nil
	}
	r.closing = true
	r.mu.Unlock()

	r.cancel()

	deadline, stop := context.WithTimeout(context.Background(), timeout)
	defer stop()

	tasksDone := make(chan struct{})
	go func() {
		r.tasks.Wait()
		close(tasksDone)
	}()
	select {
	case <-tasksDone:
	case <-deadline.Done():
		slog.Warn("[SESSION] tasks still running at shutdown", "tasks", r.Active())
	}

	if final != nil {
		r.Post(final)
	}

	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}

	select {
	case <-r.done:
		return nil
	case <-deadline.Done():
		slog.Error("[SESSION] event loop did not stop in time", "timeout", timeout)
		return fmt.Errorf("session: event loop join: %w", ErrTimeout)
	}
}

// Handle observes the outcome of submitted work.
type Handle[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed when the work has finished.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Wait blocks until the work finishes or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking; ok is false while the
// work is still running.
func (h *Handle[T]) Result() (value T, ok bool, err error) {
	select {
	case <-h.done:
		return h.value, true, h.err
	default:
		var zero T
		return zero, false, nil
	}
}

// Resolved returns a handle that has already finished with v and err.
func Resolved[T any](v T, err error) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{}), value: v, err: err}
	close(h.done)
	return h
}

func failed[T any](err error) *Handle[T] {
	var zero T
	return Resolved(zero, err)
}

// Submit runs fn as a tracked task on its own goroutine and returns its
// handle. fn receives a context cancelled on Close and performs transport
// calls through Runner.Do. Errors are classified before they reach the
// handle; panics are recovered and reported as transport failures.
func Submit[T any](r *Runner, name string, fn func(ctx context.Context) (T, error)) *Handle[T] {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return failed[T](ErrClosed)
	}
	id := r.nextID
	r.nextID++
	r.active[id] = name
	r.tasks.Add(1)
	r.mu.Unlock()

	h := &Handle[T]{done: make(chan struct{})}
	go func() {
		defer r.tasks.Done()
		defer close(h.done)
		defer func() {
			r.mu.Lock()
			delete(r.active, id)
			r.mu.Unlock()
		}()
		defer func() {
			if p := recover(); p != nil {
				slog.Error("[SESSION] task panicked", "task", name, "panic", p, "stack", string(debug.Stack()))
				h.err = fmt.Errorf("%w: %s panicked: %v", ErrTransport, name, p)
			}
		}()

		ctx, span := tracer.StartSpan(r.ctx, "session."+name)
		v, err := fn(ctx)
		err = Classify(err)
		tracer.End(span, err)
		h.value, h.err = v, err
	}()
	return h
}
