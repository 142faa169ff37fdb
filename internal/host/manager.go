package host

import (
	"fmt"
	"log/slog"

	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/plugin"
)

// Manager loads plugins into the runtime.
type Manager struct {
	rt      Runtime
	order   []string
	plugins map[string]Plugin
	loaded  *plugin.Registry
	loading map[string]bool
	dumper  diagnostics.Dumper
	logger  *slog.Logger
}

type Option func(*Manager)

func WithDumper(d diagnostics.Dumper) Option {
	return func(m *Manager) { m.dumper = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func NewManager(rt Runtime, opts ...Option) *Manager {
	m := &Manager{
		rt:      rt,
		plugins: make(map[string]Plugin),
		loaded:  plugin.NewRegistry(),
		loading: make(map[string]bool),
		dumper:  diagnostics.Nop{},
		logger:  log.WithComponent("plugins"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register makes p available to LoadAll. Registration order is load order.
func (m *Manager) Register(p Plugin) error {
	info := p.Info()
	if err := info.Validate(); err != nil {
		return err
	}
	if _, dup := m.plugins[info.Name]; dup {
		return fmt.Errorf("plugin %q registered twice", info.Name)
	}
	m.plugins[info.Name] = p
	m.order = append(m.order, info.Name)
	return nil
}

// LoadAll loads every registered plugin and returns how many loaded.
// Disabled plugins are skipped with a warning. Plugins that fail to load,
// including those whose requirements are disabled, are logged and skipped.
func (m *Manager) LoadAll() int {
	for _, name := range m.order {
		if _, ok := m.loaded.Get(name); ok {
			m.logger.Debug("plugin already loaded", "plugin", name)
			continue
		}

		if !m.enabled(m.plugins[name].Info()) {
			m.logger.Warn("plugin is disabled and will not be loaded", "plugin", name)
			continue
		}
		if err := m.Load(name); err != nil {
			m.logger.Error("plugin failed to load",
				append([]any{"plugin", name, "error", err}, diagnostics.Capture(m.dumper, "load plugin "+name)...)...)
		}
	}
	m.logger.Info("plugins loaded", "loaded", m.loaded.Len(), "registered", len(m.order))
	return m.loaded.Len()
}

// Load loads one plugin, its requirements first.
func (m *Manager) Load(name string) error {
	if _, ok := m.loaded.Get(name); ok {
		return nil
	}
	p, ok := m.plugins[name]
	if !ok {
		return fmt.Errorf("%w: %s", plugin.ErrNotFound, name)
	}
	info := p.Info()
	if !m.enabled(info) {
		return fmt.Errorf("%w: %s", plugin.ErrNotEnabled, name)
	}

	if m.loading[name] {
		return fmt.Errorf("plugin %s: dependency cycle", name)
	}
	m.loading[name] = true
	defer delete(m.loading, name)

	for _, dep := range info.Requires {
		if err := m.Load(dep); err != nil {
			return fmt.Errorf("plugin %s requires %s: %w", name, dep, err)
		}
		m.logger.Debug("loaded requirement", "plugin", name, "requires", dep)
	}

	if err := setup(p, newHost(info, m.rt, m.loaded)); err != nil {
		return fmt.Errorf("plugin %s setup: %w", name, err)
	}
	if err := m.loaded.Add(info); err != nil {
		return err
	}
	m.logger.Info("plugin loaded", "plugin", name, "version", info.Version)
	return nil
}

func setup(p Plugin, h *Host) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diagnostics.PanicError(r)
		}
	}()
	return p.Setup(h)
}

func (m *Manager) enabled(info plugin.Info) bool {
	if info.Disabled {
		return false
	}
	return m.rt.Config == nil || m.rt.Config.IsEnabled(info.Name)
}

// Loaded returns the registry of loaded plugins.
func (m *Manager) Loaded() *plugin.Registry { return m.loaded }
