// Package watchdog watches backend heartbeats and, when configured, asks the
// backend to restart itself once it reports an unhealthy status or stops
// sending heartbeats for more than two intervals.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/pool"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/transport"
)

// callTimeout bounds a single set_restart call.
const callTimeout = 10 * time.Second

// Watchdog tracks the last heartbeat. OnHeartbeat is a hub subscriber and
// Check is meant to run periodically on the timer.
type Watchdog struct {
	cfg    config.WatchdogConfig
	caller transport.ActionCaller
	pool   *pool.Pool
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	last     time.Time
	interval time.Duration
	timedOut bool

	restarting atomic.Bool
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// New builds a watchdog. caller may be nil when no transport can perform
// actions; restarts are then only logged. Restart calls run on p.
func New(cfg config.WatchdogConfig, caller transport.ActionCaller, p *pool.Pool, opts ...Option) *Watchdog {
	w := &Watchdog{
		cfg:    cfg,
		caller: caller,
		pool:   p,
		now:    time.Now,
		logger: log.WithComponent("watchdog"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnHeartbeat records a heartbeat and checks the status it reports.
func (w *Watchdog) OnHeartbeat(ev event.Event) {
	hb, ok := ev.(*event.Heartbeat)
	if !ok {
		return
	}

	w.mu.Lock()
	w.last = w.now()
	w.interval = hb.Interval
	recovered := w.timedOut
	w.timedOut = false
	w.mu.Unlock()

	if recovered {
		w.logger.Info("heartbeat interval back to normal")
	}
	if hb.Status == nil {
		return
	}
	online, _ := hb.Status["online"].(bool)
	good, _ := hb.Status["good"].(bool)
	if !online || !good {
		w.logger.Warn("abnormal heartbeat status", "status", hb.Status)
		w.restart("abnormal heartbeat status")
	}
}

// Check reports a timeout when no heartbeat arrived within two intervals. A
// timeout triggers one restart until heartbeats resume.
func (w *Watchdog) Check(...any) error {
	w.mu.Lock()
	if w.interval <= 0 || w.timedOut {
		w.mu.Unlock()
		return nil
	}
	gap := w.now().Sub(w.last)
	if gap <= 2*w.interval {
		w.mu.Unlock()
		return nil
	}
	w.timedOut = true
	w.mu.Unlock()

	w.logger.Warn("heartbeat timed out, check that the backend is running", "since_last", gap, "interval", w.interval)
	w.restart("heartbeat timeout")
	return nil
}

// Last returns when the last heartbeat arrived and the interval it announced.
func (w *Watchdog) Last() (time.Time, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.interval
}

func (w *Watchdog) restart(reason string) {
	if !w.cfg.Enable {
		w.logger.Warn("auto restart disabled, not restarting backend", "reason", reason)
		return
	}
	if w.caller == nil {
		w.logger.Warn("no transport can send actions, not restarting backend", "reason", reason)
		return
	}
	if !w.restarting.CompareAndSwap(false, true) {
		w.logger.Debug("restart already in progress", "reason", reason)
		return
	}

	w.logger.Warn("restarting backend", "reason", reason, "delay", w.cfg.RestartDelay)
	w.pool.Submit(func(...any) (any, error) {
		defer w.restarting.Store(false)
		return nil, w.callRestart()
	})
}

func (w *Watchdog) callRestart() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	req := protocol.NewSetRestart(w.cfg.RestartDelay)
	resp, err := w.caller.Call(ctx, req)
	if err == nil {
		err = protocol.ResponseError(req.Action, resp)
	}
	if err != nil {
		// The pool logs and dumps task failures.
		return fmt.Errorf("restart backend: %w", err)
	}
	w.logger.Warn("backend restart requested")
	return nil
}
