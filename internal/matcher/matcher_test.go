package matcher

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/diagnostics/mocks"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/rule"
	"github.com/mattjoyce/murmur/internal/state"
)

var testPlugin = plugin.Info{Name: "test", Version: "1"}

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func groupMessage(text string) *event.Message {
	return event.NewGroupMessage(10001, 2000, 3000, message.Parse(text))
}

func recorder(calls *[]string, name string, blocked bool) Handler {
	return func(*Context) (bool, error) {
		*calls = append(*calls, name)
		return blocked, nil
	}
}

func TestHighestPriorityBlockingHandlerWins(t *testing.T) {
	t.Parallel()

	var calls []string
	m := New(state.NewStore())
	m.Register(5, nil, recorder(&calls, "p5", true))
	m.Register(10, nil, recorder(&calls, "p10", true))
	m.Register(1, nil, recorder(&calls, "p1", true))

	m.Match(groupMessage("hi"), testPlugin)
	assert.Equal(t, []string{"p10"}, calls)
}

func TestEqualPriorityKeepsRegistrationOrder(t *testing.T) {
	t.Parallel()

	var calls []string
	m := New(state.NewStore())
	m.Register(0, nil, recorder(&calls, "first", false))
	m.Register(3, nil, recorder(&calls, "high", false))
	m.Register(0, nil, recorder(&calls, "second", false))
	m.Register(0, nil, recorder(&calls, "third", true))
	m.Register(0, nil, recorder(&calls, "never", false))

	m.Match(groupMessage("hi"), testPlugin)
	assert.Equal(t, []string{"high", "first", "second", "third"}, calls)
	assert.Equal(t, 5, m.Len())
}

func TestRulesGateHandlers(t *testing.T) {
	t.Parallel()

	var calls []string
	m := New(state.NewStore())
	help := rule.Must(rule.Command(rule.CommandSpec{Command: "help", Aliases: []string{"h"}, Prefixes: []string{"/"}}))
	private := rule.Must(rule.KeyValue("message_type", rule.OpEq, "private"))

	var seen string
	m.Register(2, []rule.Rule{help, private}, recorder(&calls, "private-help", true))
	m.Register(1, []rule.Rule{help}, func(c *Context) (bool, error) {
		msg, ok := c.Message()
		require.True(t, ok)
		seen = msg.RawMessage
		calls = append(calls, "help")
		return true, nil
	})

	m.Match(groupMessage("/h extra"), testPlugin)
	assert.Equal(t, []string{"help"}, calls)
	assert.Equal(t, "help extra", seen)
}

func TestFailuresDoNotBlock(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	dumper := mocks.NewMockDumper(ctrl)
	dumper.EXPECT().Dump(gomock.Any()).Return("crash_dump:1").Times(3)

	logger, buf := newTestSlogger()
	m := New(state.NewStore(), WithDumper(dumper), WithLogger(logger))

	var calls []string
	failing := rule.Must(rule.Func("panics", func(event.Event) bool { panic("rule boom") }))
	m.Register(4, []rule.Rule{failing}, recorder(&calls, "gated", true))
	m.Register(3, nil, func(*Context) (bool, error) {
		calls = append(calls, "errors")
		return true, errors.New("handler broke")
	}, WithName("errors"))
	m.Register(2, nil, func(*Context) (bool, error) {
		calls = append(calls, "panics")
		panic("handler boom")
	})
	m.Register(1, nil, recorder(&calls, "last", false))

	m.Match(groupMessage("hi"), testPlugin)
	assert.Equal(t, []string{"errors", "panics", "last"}, calls)

	out := buf.String()
	assert.Contains(t, out, "rule evaluation failed")
	assert.Contains(t, out, "handler broke")
	assert.Contains(t, out, "handler boom")
	assert.Contains(t, out, `"dump":"crash_dump:1"`)
	assert.Contains(t, out, `"handler":"errors"`)
}

func TestStateInjection(t *testing.T) {
	t.Parallel()

	store := state.NewStore()
	m := New(store)

	var got *Context
	m.Register(0, nil, func(c *Context) (bool, error) {
		got = c
		c.State.Data["n"] = 1
		c.UserState.Data["seen"] = true
		c.GroupState.Data["members"] = 1
		return false, nil
	}, WithInject(InjectState, InjectUserState, InjectGroupState), WithArgs("a", 1), WithKwargs(map[string]any{"k": "v"}))

	m.Match(groupMessage("hi"), testPlugin)
	require.NotNil(t, got)
	assert.Equal(t, "g2000_u3000", got.State.ScopeID)
	assert.Equal(t, "u3000", got.UserState.ScopeID)
	assert.Equal(t, "g2000", got.GroupState.ScopeID)
	assert.Equal(t, []any{"a", 1}, got.Args)
	assert.Equal(t, "v", got.Kwargs["k"])
	assert.Equal(t, testPlugin, got.Plugin)

	assert.Equal(t, 1, store.Get("g2000_u3000", testPlugin).Data["n"])
	assert.Equal(t, true, store.Get("u3000", testPlugin).Data["seen"])
}

func TestPrivateStateUsesUserScope(t *testing.T) {
	t.Parallel()

	m := New(state.NewStore())
	var scope string
	m.Register(0, nil, func(c *Context) (bool, error) {
		scope = c.State.ScopeID
		return false, nil
	}, WithInject(InjectState))

	m.Match(event.NewPrivateMessage(10001, 42, message.Message{message.Text("hi")}), testPlugin)
	assert.Equal(t, "u42", scope)
}

func TestInjectionErrorSkipsToNextHandler(t *testing.T) {
	t.Parallel()

	logger, buf := newTestSlogger()
	m := New(state.NewStore(), WithLogger(logger))

	var calls []string
	m.Register(2, nil, recorder(&calls, "group-only", true), WithInject(InjectGroupState))
	m.Register(1, nil, recorder(&calls, "fallback", true))

	m.Match(event.NewPrivateMessage(10001, 42, message.Message{message.Text("hi")}), testPlugin)
	assert.Equal(t, []string{"fallback"}, calls)
	assert.True(t, strings.Contains(buf.String(), "group_state needs a group message"))

	calls = nil
	hb, err := event.Decode(map[string]any{"post_type": "meta_event", "meta_event_type": "heartbeat"})
	require.NoError(t, err)
	m.Register(3, nil, recorder(&calls, "needs-user", true), WithInject(InjectUserState))
	m.Match(hb, testPlugin)
	assert.Equal(t, []string{"fallback"}, calls)
}

func TestRegisterReturnsHandler(t *testing.T) {
	t.Parallel()

	m := New(state.NewStore())
	h := func(*Context) (bool, error) { return true, nil }
	got := m.Register(0, nil, h)
	blocked, err := got(&Context{})
	assert.True(t, blocked)
	assert.NoError(t, err)

	assert.Panics(t, func() { m.Register(0, nil, nil) })
}
