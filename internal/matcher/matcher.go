// Package matcher holds the priority-ordered handler registrations of one
// plugin for one event type.
//
// Handlers run in descending priority, ties in registration order. A handler
// returning true stops the remaining handlers of the same Matcher for the
// current event; other Matchers receiving the event are not affected.
package matcher

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/rule"
	"github.com/mattjoyce/murmur/internal/state"
)

// ErrInjection is returned when a requested state cannot be derived from the
// event, e.g. group state for a private message.
var ErrInjection = errors.New("state injection failed")

// Inject names a state a handler wants filled into its Context.
type Inject int

const (
	// InjectState is the conversation state: per user in private chats, per
	// user and group in group chats.
	InjectState Inject = iota + 1
	// InjectUserState is the state of the sending user across conversations.
	InjectUserState
	// InjectGroupState is the state of the whole group. Group messages only.
	InjectGroupState
)

func (i Inject) String() string {
	switch i {
	case InjectState:
		return "state"
	case InjectUserState:
		return "user_state"
	case InjectGroupState:
		return "group_state"
	default:
		return fmt.Sprintf("inject(%d)", int(i))
	}
}

// Context is what a handler receives.
type Context struct {
	Event  event.Event
	Plugin plugin.Info
	Args   []any
	Kwargs map[string]any

	State      *state.State
	UserState  *state.State
	GroupState *state.State
}

// Message returns the event as a chat message, if it is one.
func (c *Context) Message() (*event.Message, bool) {
	m, ok := c.Event.(*event.Message)
	return m, ok
}

// Handler handles one event. Returning true blocks the handlers after it.
type Handler func(c *Context) (bool, error)

type registration struct {
	priority int
	rules    []rule.Rule
	handler  Handler
	name     string
	inject   []Inject
	args     []any
	kwargs   map[string]any
}

// Option customises a registration.
type Option func(*registration)

// WithInject requests states for the handler's Context.
func WithInject(in ...Inject) Option {
	return func(r *registration) { r.inject = append(r.inject, in...) }
}

// WithArgs sets static positional arguments passed through Context.Args.
func WithArgs(args ...any) Option {
	return func(r *registration) { r.args = append(r.args, args...) }
}

// WithKwargs sets static named arguments passed through Context.Kwargs.
func WithKwargs(kwargs map[string]any) Option {
	return func(r *registration) {
		if r.kwargs == nil {
			r.kwargs = make(map[string]any, len(kwargs))
		}
		for k, v := range kwargs {
			r.kwargs[k] = v
		}
	}
}

// WithName overrides the handler name used in logs.
func WithName(name string) Option {
	return func(r *registration) { r.name = name }
}

// Matcher is an ordered set of rule-gated handlers.
type Matcher struct {
	mu     sync.RWMutex
	regs   []*registration
	states *state.Store
	dumper diagnostics.Dumper
	logger *slog.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithDumper stores crash dumps for failing rules and handlers.
func WithDumper(d diagnostics.Dumper) MatcherOption {
	return func(m *Matcher) { m.dumper = d }
}

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) MatcherOption {
	return func(m *Matcher) { m.logger = l }
}

// New creates an empty Matcher drawing injected state from states.
func New(states *state.Store, opts ...MatcherOption) *Matcher {
	m := &Matcher{
		states: states,
		dumper: diagnostics.Nop{},
		logger: log.WithComponent("matcher"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds handler at priority behind every registration of equal or
// higher priority, and returns handler unchanged.
func (m *Matcher) Register(priority int, rules []rule.Rule, handler Handler, opts ...Option) Handler {
	if handler == nil {
		panic("matcher: nil handler")
	}
	reg := &registration{
		priority: priority,
		rules:    append([]rule.Rule(nil), rules...),
		handler:  handler,
	}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.name == "" {
		reg.name = funcName(handler)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	at := len(m.regs)
	for i, r := range m.regs {
		if r.priority < priority {
			at = i
			break
		}
	}
	m.regs = append(m.regs, nil)
	copy(m.regs[at+1:], m.regs[at:])
	m.regs[at] = reg
	return handler
}

// Len returns the number of registrations.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regs)
}

// Match runs the handlers whose rules all match ev, in order, until one
// blocks. Failures are logged and never returned.
func (m *Matcher) Match(ev event.Event, owner plugin.Info) {
	m.mu.RLock()
	regs := append([]*registration(nil), m.regs...)
	m.mu.RUnlock()

	for _, reg := range regs {
		if !m.rulesMatch(reg, ev, owner) {
			continue
		}

		c, err := m.buildContext(reg, ev, owner)
		if err != nil {
			m.fail(reg, ev, owner, "handler state injection failed", err)
			continue
		}

		blocked, err := call(reg.handler, c)
		if err != nil {
			m.fail(reg, ev, owner, "handler failed", err)
			continue
		}
		if blocked {
			m.logger.Debug("handler blocked propagation",
				"plugin", owner.Name, "handler", reg.name, "priority", reg.priority, "event_type", ev.Type())
			return
		}
	}
}

func (m *Matcher) rulesMatch(reg *registration, ev event.Event, owner plugin.Info) bool {
	for _, r := range reg.rules {
		ok, err := r.Eval(ev)
		if err != nil {
			m.fail(reg, ev, owner, "rule evaluation failed", fmt.Errorf("%s: %w", r, err))
		}
		if !ok {
			return false
		}
	}
	return true
}

func (m *Matcher) buildContext(reg *registration, ev event.Event, owner plugin.Info) (*Context, error) {
	c := &Context{
		Event:  ev,
		Plugin: owner,
		Args:   reg.args,
		Kwargs: reg.kwargs,
	}
	if len(reg.inject) == 0 {
		return c, nil
	}

	msg, isMsg := ev.(*event.Message)
	for _, in := range reg.inject {
		if !isMsg {
			return nil, fmt.Errorf("%w: %s needs a message event, got %s", ErrInjection, in, ev.Type())
		}
		switch in {
		case InjectState:
			switch {
			case msg.IsPrivate():
				c.State = m.states.Get(state.PrivateScope(msg.UserID), owner)
			case msg.IsGroup():
				c.State = m.states.Get(state.GroupUserScope(msg.GroupID, msg.UserID), owner)
			default:
				return nil, fmt.Errorf("%w: state needs a private or group message, got %q", ErrInjection, msg.MessageType)
			}
		case InjectUserState:
			c.UserState = m.states.Get(state.PrivateScope(msg.UserID), owner)
		case InjectGroupState:
			if !msg.IsGroup() {
				return nil, fmt.Errorf("%w: group_state needs a group message, got %q", ErrInjection, msg.MessageType)
			}
			c.GroupState = m.states.Get(state.GroupScope(msg.GroupID), owner)
		default:
			return nil, fmt.Errorf("%w: unknown %s", ErrInjection, in)
		}
	}
	return c, nil
}

func (m *Matcher) fail(reg *registration, ev event.Event, owner plugin.Info, msg string, err error) {
	desc := fmt.Sprintf("%s: plugin=%s handler=%s event=%s: %v", msg, owner.Name, reg.name, ev.Type(), err)
	attrs := []any{
		"plugin", owner.Name,
		"handler", reg.name,
		"priority", reg.priority,
		"event_type", ev.Type(),
		"error", err,
	}
	m.logger.Error(msg, append(attrs, diagnostics.Capture(m.dumper, desc)...)...)
}

func call(h Handler, c *Context) (blocked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocked = false
			err = diagnostics.PanicError(r)
		}
	}()
	return h(c)
}

func funcName(h Handler) string {
	if fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer()); fn != nil {
		return fn.Name()
	}
	return "handler"
}
