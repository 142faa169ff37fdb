// Package timer runs callbacks after a delay, on a schedule.
//
// One loop goroutine owns execution: it sleeps until the earliest task is
// due, then runs it synchronously. A callback that needs to do slow work
// should hand it to the worker pool, or it delays every task behind it.
package timer

import (
	"container/heap"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/log"
)

// DefaultIdleWait is how long the loop sleeps when nothing is scheduled.
const DefaultIdleWait = time.Second

// Func is a scheduled callback.
type Func func(args ...any) error

// Task is a handle on scheduled work. For periodic schedules it stands for
// the whole series.
type Task struct {
	id        string
	fn        Func
	args      []any
	next      func(after time.Time) (time.Time, bool)
	cancelled atomic.Bool
	runs      atomic.Int64
}

// ID returns the task's unique id.
func (t *Task) ID() string { return t.id }

// Cancel stops the task from running again. A run already in progress
// completes. Cancelled tasks are dropped when they reach the head of the
// queue.
func (t *Task) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool { return t.cancelled.Load() }

// Runs returns how many times the callback has been invoked.
func (t *Task) Runs() int64 { return t.runs.Load() }

// Scheduler is a min-heap timer loop.
type Scheduler struct {
	idleWait time.Duration
	now      func() time.Time
	dumper   diagnostics.Dumper
	logger   *slog.Logger

	mu    sync.Mutex
	queue taskHeap
	seq   uint64

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	wg       sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIdleWait sets the sleep used when the queue is empty.
func WithIdleWait(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.idleWait = d
		}
	}
}

// WithDumper stores crash dumps for failing callbacks.
func WithDumper(d diagnostics.Dumper) Option {
	return func(s *Scheduler) { s.dumper = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler. Tasks may be added before Start.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		idleWait: DefaultIdleWait,
		now:      time.Now,
		dumper:   diagnostics.Nop{},
		logger:   log.WithComponent("timer"),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop goroutine. Only the first call has an effect.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Debug("starting timer loop", "idle_wait", s.idleWait)
	s.wg.Add(1)
	go s.loop()
}

// Stop ends the loop and waits for a running callback to return. Pending
// tasks are discarded.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Debug("timer loop stopped", "discarded", s.Len())
}

// Len returns the number of queued runs, cancelled ones included.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// Delay runs fn with args once, no earlier than d from now.
func (s *Scheduler) Delay(d time.Duration, fn Func, args ...any) *Task {
	if d < 0 {
		d = 0
	}
	t := s.newTask(fn, args, nil)
	s.push(t, s.now().Add(d))
	return t
}

// Every runs fn with args every interval, the first run one interval from
// now. The interval is measured between scheduled times, not completions.
func (s *Scheduler) Every(interval time.Duration, fn Func, args ...any) (*Task, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	t := s.newTask(fn, args, func(after time.Time) (time.Time, bool) {
		return after.Add(interval), true
	})
	s.push(t, s.now().Add(interval))
	return t, nil
}

// ValidateCron reports whether expr is a cron expression Cron accepts.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// Cron runs fn with args at every tick of a five or six field cron
// expression.
func (s *Scheduler) Cron(expr string, fn Func, args ...any) (*Task, error) {
	if err := ValidateCron(expr); err != nil {
		return nil, err
	}
	next := func(after time.Time) (time.Time, bool) {
		at, err := gronx.NextTickAfter(expr, after, false)
		if err != nil {
			s.logger.Error("cron schedule exhausted", "expr", expr, "error", err)
			return time.Time{}, false
		}
		return at, true
	}
	first, ok := next(s.now())
	if !ok {
		return nil, fmt.Errorf("cron expression %q never fires", expr)
	}
	t := s.newTask(fn, args, next)
	s.push(t, first)
	return t, nil
}

func (s *Scheduler) newTask(fn Func, args []any, next func(time.Time) (time.Time, bool)) *Task {
	if fn == nil {
		panic("timer: nil callback")
	}
	return &Task{id: uuid.NewString(), fn: fn, args: args, next: next}
}

func (s *Scheduler) push(t *Task, at time.Time) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.queue, &item{at: at, seq: s.seq, task: t})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		var (
			due  *item
			wait = s.idleWait
		)
		if s.queue.Len() > 0 {
			head := s.queue[0]
			if now := s.now(); !now.Before(head.at) {
				due = heap.Pop(&s.queue).(*item)
			} else {
				wait = head.at.Sub(now)
			}
		}
		s.mu.Unlock()

		if due != nil {
			s.execute(due)
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(it *item) {
	t := it.task
	if t.Cancelled() {
		return
	}

	select {
	case <-s.stopCh:
		return
	default:
	}

	t.runs.Add(1)
	if err := run(t); err != nil {
		name := funcName(t.fn)
		desc := fmt.Sprintf("error in timer task (%s): %v", name, err)
		attrs := []any{"task", name, "task_id", t.id, "error", err}
		s.logger.Error("timer task failed", append(attrs, diagnostics.Capture(s.dumper, desc)...)...)
	}

	if t.next == nil || t.Cancelled() {
		return
	}
	if at, ok := t.next(it.at); ok {
		s.push(t, at)
	}
}

func run(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diagnostics.PanicError(r)
		}
	}()
	return t.fn(t.args...)
}

func funcName(fn Func) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "task"
}
