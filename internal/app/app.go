// Package app assembles the runtime from a Config and runs it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/events"
	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/pool"
	"github.com/mattjoyce/murmur/internal/router"
	"github.com/mattjoyce/murmur/internal/state"
	"github.com/mattjoyce/murmur/internal/storage"
	"github.com/mattjoyce/murmur/internal/timer"
	"github.com/mattjoyce/murmur/internal/transport"
	"github.com/mattjoyce/murmur/internal/transport/httppost"
	"github.com/mattjoyce/murmur/internal/transport/ws"
	"github.com/mattjoyce/murmur/internal/watchdog"
)

const (
	hubCapacity     = 256
	shutdownTimeout = 5 * time.Second
)

// App owns every long-lived component.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db      *sql.DB
	dumper  diagnostics.Dumper
	hub     *events.Hub
	states  *state.Store
	router  *router.Router
	pool    *pool.Pool
	timer   *timer.Scheduler
	sender  transport.ActionSender
	http    *httppost.Server
	ws      *ws.Client
	caller  transport.ActionCaller
	dog     *watchdog.Watchdog
	plugins *host.Manager
}

type Option func(*App)

// WithSender replaces the sender chosen from the transport config.
func WithSender(s transport.ActionSender) Option {
	return func(a *App) { a.sender = s }
}

// New opens the diagnostics database and builds the components. Plugins are
// registered in the order given.
func New(ctx context.Context, cfg *config.Config, plugins []host.Plugin, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, logger: log.WithComponent("app")}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	a.db = db

	a.dumper = diagnostics.Nop{}
	if cfg.Debug.SaveDump {
		a.dumper = diagnostics.NewSQLiteDumper(db)
	}

	a.hub = events.NewHub(hubCapacity)
	a.states = state.NewStore()
	a.router = router.New(a.hub, a.states, router.WithDumper(a.dumper))
	a.pool = pool.New(cfg.ThreadPool.MaxWorkers,
		pool.WithQueueSize(cfg.ThreadPool.QueueSize),
		pool.WithDumper(a.dumper))
	a.timer = timer.New(timer.WithIdleWait(cfg.Timer.IdleWait), timer.WithDumper(a.dumper))

	tc := cfg.Transport
	if tc.WS.Enabled {
		a.ws = ws.New(tc.WS, a.hub)
		a.sender, a.caller = a.ws, a.ws
	} else if tc.HTTP.APIURL != "" {
		client := httppost.NewClient(tc.HTTP.APIURL, tc.HTTP.AccessToken, tc.HTTP.Timeout)
		a.sender, a.caller = client, client
	}
	if tc.HTTP.Enabled {
		a.http = httppost.New(tc.HTTP, a.hub, httppost.WithStatus(a.status))
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sender == nil {
		a.logger.Warn("no outbound transport configured, replies will be dropped")
		a.sender = transport.Discard{}
	}

	a.plugins = host.NewManager(host.Runtime{
		Router: a.router,
		Config: cfg,
		Sender: a.sender,
		Timer:  a.timer,
		Pool:   a.pool,
		States: a.states,
	}, host.WithDumper(a.dumper))
	for _, p := range plugins {
		if err := a.plugins.Register(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("register plugin: %w", err)
		}
	}

	a.dog = watchdog.New(cfg.Watchdog, a.caller, a.pool)
	a.hub.Subscribe(event.TypeHeartbeat, a.dog.OnHeartbeat)
	a.hub.Subscribe(event.TypeLifecycle, a.onLifecycle)
	return a, nil
}

// Run starts workers, loads plugins and serves until ctx is cancelled or a
// transport fails.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.ThreadPool.Enabled {
		a.pool.Start()
	} else {
		a.logger.Info("thread pool disabled, tasks run on the caller")
	}
	a.timer.Start()
	a.plugins.LoadAll()
	if _, err := a.timer.Every(a.cfg.Watchdog.CheckInterval, a.dog.Check); err != nil {
		a.logger.Warn("heartbeat watchdog disabled", "error", err)
	}
	if iv := a.cfg.Timer.StatusInterval; iv > 0 {
		if _, err := a.timer.Every(iv, a.logStatus); err != nil {
			a.logger.Warn("status log disabled", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		g.Go(func() error { return a.http.Start(gctx) })
	}
	if a.ws != nil {
		g.Go(func() error { return a.ws.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	a.logger.Info("murmur running", "plugins", a.plugins.Loaded().Len(), "pool_workers", a.pool.Size())
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if cerr := a.shutdown(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *App) shutdown() error {
	a.router.Close()
	a.timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.pool.Shutdown(ctx); err != nil {
		a.logger.Warn("worker pool did not drain", "error", err)
	}
	return a.Close()
}

// Close releases the database. Run calls it on the way out.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *App) status() map[string]any {
	out := map[string]any{
		"plugins":       a.plugins.Loaded().Len(),
		"pool_running":  a.pool.Running(),
		"pool_pending":  a.pool.Pending(),
		"timer_pending": a.timer.Len(),
		"subscriptions": a.router.Subscriptions(),
		"state_scopes":  a.states.Len(),
	}
	if a.ws != nil {
		out["ws_connected"] = a.ws.Connected()
	}
	return out
}

func (a *App) logStatus(...any) error {
	attrs := make([]any, 0, 12)
	for k, v := range a.status() {
		attrs = append(attrs, k, v)
	}
	attrs = append(attrs, "events_published", a.hub.Published())
	a.logger.Info("status", attrs...)
	return nil
}

func (a *App) onLifecycle(ev event.Event) {
	lc, ok := ev.(*event.Lifecycle)
	if !ok {
		return
	}
	a.logger.Info("backend lifecycle", "sub_type", lc.SubType, "self_id", lc.SelfID())
}
