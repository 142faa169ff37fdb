// Package host binds plugins to the runtime. Each plugin receives its own
// Host, so registrations made through it are owned by that plugin.
package host

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/matcher"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/pool"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/router"
	"github.com/mattjoyce/murmur/internal/rule"
	"github.com/mattjoyce/murmur/internal/state"
	"github.com/mattjoyce/murmur/internal/timer"
	"github.com/mattjoyce/murmur/internal/transport"
)

// Plugin is implemented by every built-in plugin.
type Plugin interface {
	Info() plugin.Info
	// Setup registers the plugin's matchers. An error aborts the load.
	Setup(h *Host) error
}

// Runtime is the set of shared services handed to plugins.
type Runtime struct {
	Router router.Registrar
	Config *config.Config
	Sender transport.ActionSender
	Timer  *timer.Scheduler
	Pool   *pool.Pool
	States *state.Store
}

// Host is one plugin's view of the runtime.
type Host struct {
	info    plugin.Info
	rt      Runtime
	plugins *plugin.Registry
	logger  *slog.Logger
}

func newHost(info plugin.Info, rt Runtime, plugins *plugin.Registry) *Host {
	return &Host{
		info:    info,
		rt:      rt,
		plugins: plugins,
		logger:  log.WithPlugin(info.Name),
	}
}

func (h *Host) Info() plugin.Info { return h.info }

func (h *Host) Logger() *slog.Logger { return h.logger }

// OnEvent registers a Matcher owned by this plugin.
func (h *Host) OnEvent(t event.Type, priority int, rules ...rule.Rule) *matcher.Matcher {
	return h.rt.Router.OnEvent(h.info, t, priority, rules...)
}

// Command builds a command rule, filling in the configured prefixes.
func (h *Host) Command(spec rule.CommandSpec) (rule.Rule, error) {
	if spec.Prefixes == nil && h.rt.Config != nil {
		spec.Prefixes = h.rt.Config.Command.CommandStart
	}
	return rule.Command(spec)
}

// OnCommand is OnEvent for message events gated by a command rule.
func (h *Host) OnCommand(priority int, spec rule.CommandSpec, rules ...rule.Rule) (*matcher.Matcher, error) {
	cmd, err := h.Command(spec)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", h.info.Name, err)
	}
	return h.OnEvent(event.TypeMessage, priority, append([]rule.Rule{cmd}, rules...)...), nil
}

// Config returns the plugin's section of plugins.<name>.config.
func (h *Host) Config() map[string]any {
	if h.rt.Config == nil {
		return map[string]any{}
	}
	return h.rt.Config.PluginConfig(h.info.Name)
}

func (h *Host) Sender() transport.ActionSender {
	if h.rt.Sender == nil {
		return transport.Discard{}
	}
	return h.rt.Sender
}

func (h *Host) Timer() *timer.Scheduler { return h.rt.Timer }

func (h *Host) Pool() *pool.Pool { return h.rt.Pool }

func (h *Host) States() *state.Store { return h.rt.States }

// Plugins is the registry of loaded plugins. It keeps filling while later
// plugins load.
func (h *Host) Plugins() *plugin.Registry { return h.plugins }

// Reply sends msg to the conversation ev came from.
func (h *Host) Reply(ctx context.Context, ev event.Event, msg message.Message) error {
	m, ok := ev.(*event.Message)
	if !ok {
		return fmt.Errorf("cannot reply to %s event", ev.Type())
	}
	return h.Sender().SendMessage(ctx, TargetOf(m), msg)
}

// TargetOf addresses the conversation a message belongs to.
func TargetOf(m *event.Message) protocol.Target {
	if m.IsGroup() {
		return protocol.Target{GroupID: m.GroupID}
	}
	return protocol.Target{UserID: m.UserID}
}
