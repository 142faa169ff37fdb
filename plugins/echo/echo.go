// Package echo is a small built-in plugin exercising user state, the timer
// and the worker pool.
package echo

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/matcher"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/rule"
	"github.com/mattjoyce/murmur/internal/timer"
)

//go:embed info.yaml
var infoYAML []byte

var info = plugin.MustParseInfo(infoYAML)

// usesKey counts echo invocations in the sender's user state.
const usesKey = "uses"

// maxDelay caps "echo later" unless plugins.echo.config.max_delay says
// otherwise.
const maxDelay = time.Hour

type Plugin struct {
	h        *host.Host
	maxDelay time.Duration

	// mu guards the use counters in user state. Transports may dispatch
	// events for the same user on several goroutines at once.
	mu sync.Mutex
}

func New() *Plugin { return &Plugin{} }

func (*Plugin) Info() plugin.Info { return info }

func (p *Plugin) Setup(h *host.Host) error {
	p.h = h
	p.maxDelay = maxDelay
	if v, ok := h.Config()["max_delay"].(string); ok {
		d, err := config.ParseInterval(v)
		if err != nil {
			return fmt.Errorf("max_delay: %w", err)
		}
		p.maxDelay = d
	}
	entries, err := parseSchedule(h.Config()["schedule"])
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	for _, e := range entries {
		if err := timer.ValidateCron(e.Cron); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
	}

	m, err := h.OnCommand(0, rule.CommandSpec{Command: info.Commands[0].Name})
	if err != nil {
		return err
	}
	m.Register(10, []rule.Rule{argIs("count")}, p.count,
		matcher.WithName("echo.count"), matcher.WithInject(matcher.InjectUserState))
	m.Register(10, []rule.Rule{argIs("later")}, p.later,
		matcher.WithName("echo.later"), matcher.WithInject(matcher.InjectUserState))
	m.Register(0, nil, p.echo,
		matcher.WithName("echo"), matcher.WithInject(matcher.InjectUserState))

	// Cron tasks fire as soon as they are added; a failed entry cancels the
	// ones already registered.
	tasks := make([]*timer.Task, 0, len(entries))
	for _, e := range entries {
		t, err := h.Timer().Cron(e.Cron, p.announce, e)
		if err != nil {
			for _, t := range tasks {
				t.Cancel()
			}
			return fmt.Errorf("schedule %q: %w", e.Cron, err)
		}
		tasks = append(tasks, t)
	}
	return nil
}

// argIs matches when the first argument after the command is word.
func argIs(word string) rule.Rule {
	return rule.Must(rule.Func("arg="+word, func(ev event.Event) bool {
		m, ok := ev.(*event.Message)
		if !ok {
			return false
		}
		fields := strings.Fields(m.Message.PlainText())
		return len(fields) > 1 && fields[1] == word
	}))
}

func (p *Plugin) echo(c *matcher.Context) (bool, error) {
	msg, _ := c.Message()
	p.bump(c)
	reply := stripCommand(msg.Message, info.Commands[0].Name)
	if len(reply) == 0 {
		return true, nil
	}
	return true, p.h.Reply(context.Background(), msg, reply)
}

func (p *Plugin) count(c *matcher.Context) (bool, error) {
	msg, _ := c.Message()
	n := p.bump(c)
	text := fmt.Sprintf("you have used echo %d times", n)
	return true, p.h.Reply(context.Background(), msg, message.Message{message.Text(text)})
}

func (p *Plugin) later(c *matcher.Context) (bool, error) {
	msg, _ := c.Message()
	p.bump(c)

	fields := strings.Fields(msg.Message.PlainText())
	if len(fields) < 4 {
		return true, p.h.Reply(context.Background(), msg, message.Message{message.Text("usage: echo later <n|duration> <text>")})
	}
	delay, err := parseDelay(fields[2])
	if err != nil || delay > p.maxDelay {
		text := fmt.Sprintf("delay must be a positive number of seconds or a duration up to %s", p.maxDelay)
		return true, p.h.Reply(context.Background(), msg, message.Message{message.Text(text)})
	}

	text := strings.Join(fields[3:], " ")
	target := msg.Clone()
	p.h.Timer().Delay(delay, func(args ...any) error {
		ev := args[0].(event.Event)
		reply := message.Message{message.Text(args[1].(string))}
		// Sending blocks on the network; keep it off the timer goroutine.
		p.h.Pool().Submit(func(...any) (any, error) {
			return nil, p.h.Reply(context.Background(), ev, reply)
		})
		return nil
	}, target, text)
	return true, nil
}

// scheduled is one plugins.echo.config.schedule entry: text sent to a
// conversation at every tick of a cron expression.
type scheduled struct {
	Cron   string
	Target protocol.Target
	Text   string
}

func parseSchedule(raw any) ([]scheduled, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list, got %T", raw)
	}
	out := make([]scheduled, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected a mapping, got %T", i, item)
		}
		e := scheduled{}
		e.Cron, _ = m["cron"].(string)
		e.Text, _ = m["text"].(string)
		e.Target.UserID, _ = event.Int64(m["user_id"])
		e.Target.GroupID, _ = event.Int64(m["group_id"])
		switch {
		case e.Cron == "":
			return nil, fmt.Errorf("entry %d: cron is required", i)
		case e.Text == "":
			return nil, fmt.Errorf("entry %d: text is required", i)
		case e.Target.UserID == 0 && e.Target.GroupID == 0:
			return nil, fmt.Errorf("entry %d: user_id or group_id is required", i)
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *Plugin) announce(args ...any) error {
	e := args[0].(scheduled)
	p.h.Pool().Submit(func(...any) (any, error) {
		return nil, p.h.Sender().SendMessage(context.Background(), e.Target, message.Message{message.Text(e.Text)})
	})
	return nil
}

// parseDelay accepts whole seconds ("5") or a duration ("90s", "2m").
func parseDelay(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("delay must be positive")
		}
		return time.Duration(n) * time.Second, nil
	}
	return config.ParseInterval(s)
}

func (p *Plugin) bump(c *matcher.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, _ := c.UserState.Data[usesKey].(int)
	n++
	c.UserState.Data[usesKey] = n
	return n
}

// stripCommand drops the leading command word, keeping non-text segments.
func stripCommand(m message.Message, command string) message.Message {
	out := m.Clone()
	for i, seg := range out {
		if !seg.Is(message.TypeText) {
			continue
		}
		text := strings.TrimPrefix(strings.TrimLeft(seg.Data["text"], " "), command)
		text = strings.TrimLeft(text, " ")
		if text == "" {
			return append(out[:i:i], out[i+1:]...)
		}
		out[i].Data["text"] = text
		return out
	}
	return out
}
