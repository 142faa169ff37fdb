// Package help is the built-in help command.
package help

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/matcher"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/rule"
)

//go:embed info.yaml
var infoYAML []byte

var info = plugin.MustParseInfo(infoYAML)

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Info() plugin.Info { return info }

func (*Plugin) Setup(h *host.Host) error {
	cmd := info.Commands[0]
	m, err := h.OnCommand(0, rule.CommandSpec{Command: cmd.Name, Aliases: cmd.Aliases})
	if err != nil {
		return err
	}
	m.Register(0, nil, func(c *matcher.Context) (bool, error) {
		msg, _ := c.Message()
		query := strings.TrimSpace(strings.TrimPrefix(msg.Message.PlainText(), cmd.Name))
		text := Render(h.Plugins().Visible(), query)
		return true, h.Reply(context.Background(), msg, message.Message{message.Text(text)})
	}, matcher.WithName("help"))
	return nil
}

// Render formats the plugin list, or the help of the plugin named by query.
func Render(plugins []plugin.Info, query string) string {
	if query != "" {
		for _, p := range plugins {
			if strings.EqualFold(p.Name, query) {
				return renderOne(p)
			}
		}
		return fmt.Sprintf("no plugin named %q", query)
	}

	if len(plugins) == 0 {
		return "no plugins loaded"
	}
	sorted := append([]plugin.Info(nil), plugins...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	b.WriteString("plugins:\n")
	for _, p := range sorted {
		fmt.Fprintf(&b, "  %s %s", p.Name, p.Version)
		if p.Description != "" {
			fmt.Fprintf(&b, " - %s", p.Description)
		}
		b.WriteByte('\n')
	}
	b.WriteString("send help <plugin> for details")
	return b.String()
}

func renderOne(p plugin.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", p.Name, p.Version)
	if p.Author != "" {
		fmt.Fprintf(&b, " by %s", p.Author)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "\n%s", p.Description)
	}
	for _, c := range p.Commands {
		fmt.Fprintf(&b, "\n- %s", c.Name)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(c.Aliases, ", "))
		}
		if c.Description != "" {
			fmt.Fprintf(&b, ": %s", c.Description)
		}
	}
	if help := strings.TrimSpace(p.Help); help != "" {
		fmt.Fprintf(&b, "\n%s", help)
	}
	return b.String()
}
