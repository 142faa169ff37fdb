// Package router fans hub events out to plugin Matchers.
//
// Each (plugin, event type) pair holds one hub subscription, created by the
// first OnEvent call for the pair. On delivery every Matcher bound to the pair
// gets its own clone of the event, so in-place rewrites by one Matcher (a
// command rule stripping its prefix) are invisible to the others.
package router

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/events"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/matcher"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/rule"
	"github.com/mattjoyce/murmur/internal/state"
)

// Router is the registry of plugin Matchers.
type Router struct {
	hub    *events.Hub
	states *state.Store
	dumper diagnostics.Dumper
	logger *slog.Logger

	mu       sync.Mutex
	bindings map[plugin.Identity]map[event.Type]*binding
}

var _ Registrar = (*Router)(nil)

type binding struct {
	owner plugin.Info
	typ   event.Type

	mu      sync.RWMutex
	entries []entry
	cancel  func()
}

type entry struct {
	priority int
	rules    []rule.Rule
	matcher  *matcher.Matcher
}

// Option configures a Router.
type Option func(*Router)

// WithDumper stores crash dumps for failures in routing and in Matchers.
func WithDumper(d diagnostics.Dumper) Option {
	return func(r *Router) { r.dumper = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router subscribing to hub and drawing handler state from
// states.
func New(hub *events.Hub, states *state.Store, opts ...Option) *Router {
	r := &Router{
		hub:      hub,
		states:   states,
		dumper:   diagnostics.Nop{},
		logger:   log.WithComponent("router"),
		bindings: make(map[plugin.Identity]map[event.Type]*binding),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnEvent implements Registrar.
func (r *Router) OnEvent(owner plugin.Info, t event.Type, priority int, rules ...rule.Rule) *matcher.Matcher {
	m := matcher.New(r.states, matcher.WithDumper(r.dumper), matcher.WithLogger(r.logger.With("plugin", owner.Name)))
	b := r.binding(owner, t)

	b.mu.Lock()
	defer b.mu.Unlock()
	at := len(b.entries)
	for i, e := range b.entries {
		if e.priority < priority {
			at = i
			break
		}
	}
	b.entries = append(b.entries, entry{})
	copy(b.entries[at+1:], b.entries[at:])
	b.entries[at] = entry{priority: priority, rules: append([]rule.Rule(nil), rules...), matcher: m}
	return m
}

func (r *Router) binding(owner plugin.Info, t event.Type) *binding {
	id := owner.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.bindings[id]
	if !ok {
		byType = make(map[event.Type]*binding)
		r.bindings[id] = byType
	}
	b, ok := byType[t]
	if !ok {
		b = &binding{owner: owner, typ: t}
		b.cancel = r.hub.Subscribe(t, func(ev event.Event) { r.deliver(b, ev) })
		byType[t] = b
		r.logger.Debug("subscribed", "plugin", owner.Name, "event_type", t)
	}
	return b
}

func (r *Router) deliver(b *binding, ev event.Event) {
	b.mu.RLock()
	entries := append([]entry(nil), b.entries...)
	b.mu.RUnlock()

	for _, e := range entries {
		c := ev.Clone()
		if !r.entryMatches(b, e, c) {
			continue
		}
		e.matcher.Match(c, b.owner)
	}
}

func (r *Router) entryMatches(b *binding, e entry, ev event.Event) bool {
	for _, ru := range e.rules {
		ok, err := ru.Eval(ev)
		if err != nil {
			desc := fmt.Sprintf("matcher rule failed: plugin=%s event=%s rule=%s: %v", b.owner.Name, ev.Type(), ru, err)
			attrs := []any{"plugin", b.owner.Name, "event_type", ev.Type(), "rule", ru.String(), "error", err}
			r.logger.Error("matcher rule evaluation failed", append(attrs, diagnostics.Capture(r.dumper, desc)...)...)
		}
		if !ok {
			return false
		}
	}
	return true
}

// Subscriptions returns the number of hub subscriptions held.
func (r *Router) Subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, byType := range r.bindings {
		n += len(byType)
	}
	return n
}

// Close drops every hub subscription. Matchers stay registered but receive
// nothing further.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, byType := range r.bindings {
		for _, b := range byType {
			b.cancel()
		}
	}
}
