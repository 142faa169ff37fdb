package timer

import (
	"bytes"
	"container/heap"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/diagnostics/mocks"
)

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf safeBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf.Buffer
}

// safeBuffer serialises writes from the loop goroutine.
type safeBuffer struct {
	mu sync.Mutex
	bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Write(p)
}

type firing struct {
	name string
	at   time.Time
}

type recorder struct {
	mu  sync.Mutex
	got []firing
}

func (l *recorder) record(args ...any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, firing{name: args[0].(string), at: time.Now()})
	return nil
}

func (l *recorder) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.got))
	for i, f := range l.got {
		out[i] = f.name
	}
	return out
}

func TestTasksRunInDeadlineOrder(t *testing.T) {
	t.Parallel()

	s := New()
	s.Start()
	defer s.Stop()

	var l recorder
	start := time.Now()
	delays := map[string]time.Duration{
		"three": 90 * time.Millisecond,
		"one":   30 * time.Millisecond,
		"two":   60 * time.Millisecond,
	}
	for _, name := range []string{"three", "one", "two"} {
		s.Delay(delays[name], l.record, name)
	}

	require.Eventually(t, func() bool { return len(l.names()) == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, l.names())
	for _, f := range l.got {
		assert.GreaterOrEqual(t, f.at.Sub(start), delays[f.name], "%s fired early", f.name)
	}
}

func TestPushWakesIdleLoop(t *testing.T) {
	t.Parallel()

	s := New(WithIdleWait(time.Hour))
	s.Start()
	defer s.Stop()

	time.Sleep(10 * time.Millisecond) // let the loop go idle
	var l recorder
	s.Delay(0, l.record, "now")
	require.Eventually(t, func() bool { return len(l.names()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestCancelledTaskNeverRuns(t *testing.T) {
	t.Parallel()

	s := New()
	s.Start()
	defer s.Stop()

	var l recorder
	task := s.Delay(20*time.Millisecond, l.record, "cancelled")
	s.Delay(40*time.Millisecond, l.record, "kept")
	task.Cancel()
	assert.True(t, task.Cancelled())

	require.Eventually(t, func() bool { return len(l.names()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"kept"}, l.names())
	assert.Zero(t, task.Runs())
}

func TestFailingTaskDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dumper := mocks.NewMockDumper(ctrl)
	dumper.EXPECT().Dump(gomock.Any()).Return("crash_dump:t").Times(2)

	logger, buf := newTestSlogger()
	s := New(WithDumper(dumper), WithLogger(logger))
	s.Start()

	var l recorder
	s.Delay(0, func(...any) error { panic("boom") })
	s.Delay(0, func(...any) error { return errors.New("bad") })
	s.Delay(5*time.Millisecond, l.record, "after")

	require.Eventually(t, func() bool { return len(l.names()) == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), `"dump":"crash_dump:t"`)
}

func TestEveryRepeatsUntilCancelled(t *testing.T) {
	t.Parallel()

	s := New()
	s.Start()
	defer s.Stop()

	var l recorder
	task, err := s.Every(10*time.Millisecond, l.record, "tick")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return task.Runs() >= 3 }, 2*time.Second, 5*time.Millisecond)
	task.Cancel()
	runs := task.Runs()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, task.Runs(), runs+1, "at most the in-flight run completes")

	_, err = s.Every(0, l.record, "bad")
	assert.Error(t, err)
}

func TestCron(t *testing.T) {
	t.Parallel()

	s := New()
	var l recorder
	task, err := s.Cron("* * * * *", l.record, "minute")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID())
	assert.Equal(t, 1, s.Len())

	s.mu.Lock()
	at := s.queue[0].at
	s.mu.Unlock()
	assert.True(t, at.After(time.Now()))
	assert.True(t, at.Before(time.Now().Add(61*time.Second)))
	assert.Zero(t, at.Second())

	_, err = s.Cron("not a cron", l.record, "bad")
	assert.Error(t, err)
	assert.Equal(t, 1, s.Len())

	assert.NoError(t, ValidateCron("0 9 * * 1-5"))
	assert.Error(t, ValidateCron("* * *"))
}

func TestHeapOrdersTiesBySequence(t *testing.T) {
	t.Parallel()

	s := New()
	var l recorder
	s.now = func() time.Time { return time.Unix(100, 0) }
	s.Delay(time.Second, l.record, "a")
	s.Delay(time.Second, l.record, "b")
	s.Delay(0, l.record, "c")

	for s.Len() > 0 {
		s.mu.Lock()
		it := heap.Pop(&s.queue).(*item)
		s.mu.Unlock()
		s.execute(it)
	}
	assert.Equal(t, []string{"c", "a", "b"}, l.names())
}
