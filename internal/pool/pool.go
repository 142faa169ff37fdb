// Package pool runs tasks on a bounded set of worker goroutines.
//
// A pool that has not been started (or has been shut down) runs submitted
// tasks synchronously on the caller's goroutine and logs a warning, so callers
// never need to check whether the pool exists. Failures inside a task are
// recovered, logged and optionally dumped; they never reach the submitter
// except as a handle that resolved without a value.
//
// Submit never blocks: queued tasks wait in an unbounded FIFO, and a backlog
// past the configured queue size is only logged.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/log"
)

// Task is a unit of work.
type Task func(args ...any) (any, error)

// Handle is the deferred result of a submitted task.
type Handle struct {
	done  chan struct{}
	value any
	err   error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) resolve(value any, err error) {
	h.value, h.err = value, err
	close(h.done)
}

// Done is closed once the task has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task finishes. ok is false when the task failed.
func (h *Handle) Wait() (value any, ok bool) {
	<-h.done
	return h.value, h.err == nil
}

// Err returns the task failure after Done, for callers that want details.
func (h *Handle) Err() error {
	<-h.done
	return h.err
}

type job struct {
	fn     Task
	args   []any
	handle *Handle
}

// queue is an unbounded FIFO shared by one generation of workers. push never
// blocks, so a task may submit follow-up work without waiting on a worker.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []job
	closed bool
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends j and returns the backlog length.
func (q *queue) push(j job) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, j)
	q.cond.Signal()
	return len(q.items)
}

// pop waits for a job. ok is false once the queue is closed and drained.
func (q *queue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return job{}, false
	}
	j := q.items[0]
	q.items[0] = job{}
	q.items = q.items[1:]
	return j, true
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pool is a bounded worker pool.
type Pool struct {
	size    int
	backlog int
	dumper  diagnostics.Dumper
	logger  *slog.Logger

	mu      sync.RWMutex
	running bool
	tasks   *queue
	group   *errgroup.Group
	warned  atomic.Bool
}

// Option configures a Pool.
type Option func(*Pool)

// WithQueueSize sets the backlog above which Submit logs a warning. The
// queue itself is unbounded. Defaults to four times the worker count.
func WithQueueSize(n int) Option {
	return func(p *Pool) { p.backlog = n }
}

// WithDumper stores crash dumps for failed tasks.
func WithDumper(d diagnostics.Dumper) Option {
	return func(p *Pool) { p.dumper = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a pool of size workers. It runs nothing until Start.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		size:   size,
		dumper: diagnostics.Nop{},
		logger: log.WithComponent("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.backlog <= 0 {
		p.backlog = size * 4
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// Running reports whether workers are accepting tasks.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.RLock()
	q := p.tasks
	p.mu.RUnlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// Start launches the workers. Calling Start on a running pool does nothing.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.tasks = newQueue()
	p.group = &errgroup.Group{}
	tasks := p.tasks
	for i := 0; i < p.size; i++ {
		p.group.Go(func() error {
			for {
				j, ok := tasks.pop()
				if !ok {
					return nil
				}
				p.run(j)
			}
		})
	}
	p.running = true
	p.logger.Debug("worker pool started", "workers", p.size, "backlog_warning", p.backlog)
}

// Submit queues fn and returns immediately. When the pool is not running, fn
// runs before Submit returns and the handle is already resolved.
func (p *Pool) Submit(fn Task, args ...any) *Handle {
	j := job{fn: fn, args: args, handle: newHandle()}

	p.mu.RLock()
	if p.running {
		n := p.tasks.push(j)
		p.mu.RUnlock()
		p.noteBacklog(n)
		return j.handle
	}
	p.mu.RUnlock()

	p.logger.Warn("worker pool is not running, executing task synchronously", "task", taskName(fn))
	p.run(j)
	return j.handle
}

// noteBacklog warns once each time the backlog rises past the threshold.
func (p *Pool) noteBacklog(n int) {
	switch {
	case n > p.backlog:
		if p.warned.CompareAndSwap(false, true) {
			p.logger.Warn("worker pool backlog is growing", "pending", n, "workers", p.size)
		}
	case n <= p.backlog/2:
		p.warned.Store(false)
	}
}

// Wrap returns a function that submits fn with the given arguments.
func (p *Pool) Wrap(fn Task) func(args ...any) *Handle {
	return func(args ...any) *Handle {
		return p.Submit(fn, args...)
	}
}

// Shutdown stops accepting tasks and waits for queued and running tasks to
// finish. ctx bounds the wait; running tasks are never interrupted.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.tasks.close()
	group := p.group
	p.mu.Unlock()

	p.logger.Debug("closing worker pool")
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) run(j job) {
	var (
		value any
		err   error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = diagnostics.PanicError(r)
			}
		}()
		value, err = j.fn(j.args...)
	}()

	if err != nil {
		name := taskName(j.fn)
		desc := fmt.Sprintf("error in async task (%s): %v", name, err)
		attrs := []any{"task", name, "error", err}
		p.logger.Error("async task failed", append(attrs, diagnostics.Capture(p.dumper, desc)...)...)
	}
	j.handle.resolve(value, err)
}

func taskName(fn Task) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "task"
}
