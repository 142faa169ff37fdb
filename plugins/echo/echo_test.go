package echo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/events"
	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/pool"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/router"
	"github.com/mattjoyce/murmur/internal/state"
	"github.com/mattjoyce/murmur/internal/timer"
	"github.com/mattjoyce/murmur/internal/transport/mocks"
)

type harness struct {
	hub    *events.Hub
	sender *mocks.MockActionSender
	timer  *timer.Scheduler
	states *state.Store
	plugin *Plugin
}

func setup(t *testing.T, cfg *config.Config) harness {
	t.Helper()
	h, loaded := load(t, cfg)
	require.Equal(t, 1, loaded)
	return h
}

func load(t *testing.T, cfg *config.Config) (harness, int) {
	t.Helper()
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockActionSender(ctrl)

	hub := events.NewHub(10)
	states := state.NewStore()
	sched := timer.New()
	sched.Start()
	workers := pool.New(2)
	workers.Start()
	t.Cleanup(func() {
		sched.Stop()
		workers.Shutdown(context.Background())
	})

	m := host.NewManager(host.Runtime{
		Router: router.New(hub, states),
		Config: cfg,
		Sender: sender,
		Timer:  sched,
		Pool:   workers,
		States: states,
	})
	p := New()
	require.NoError(t, m.Register(p))
	loaded := m.LoadAll()
	return harness{hub: hub, sender: sender, timer: sched, states: states, plugin: p}, loaded
}

func (h harness) say(text string) {
	h.hub.Publish(event.NewPrivateMessage(1, 9, message.Parse(text)))
}

func text(s string) message.Message { return message.Message{message.Text(s)} }

func TestEchoRepeats(t *testing.T) {
	h := setup(t, config.Defaults())
	h.sender.EXPECT().SendMessage(gomock.Any(), protocol.Target{UserID: 9}, text("hi there")).Return(nil)
	h.say("/echo hi there")
}

func TestEchoCountsUses(t *testing.T) {
	h := setup(t, config.Defaults())
	gomock.InOrder(
		h.sender.EXPECT().SendMessage(gomock.Any(), gomock.Any(), text("one")).Return(nil),
		h.sender.EXPECT().SendMessage(gomock.Any(), gomock.Any(), text("you have used echo 2 times")).Return(nil),
	)
	h.say("/echo one")
	h.say("/echo count")
}

func TestEchoLater(t *testing.T) {
	h := setup(t, config.Defaults())
	done := make(chan message.Message, 1)
	h.sender.EXPECT().SendMessage(gomock.Any(), protocol.Target{UserID: 9}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, m message.Message) error {
			done <- m
			return nil
		})

	start := time.Now()
	h.say("/echo later 30ms see you")

	select {
	case m := <-done:
		assert.Equal(t, "see you", m.PlainText())
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed echo never arrived")
	}
}

func TestEchoLaterRejectsBadDelay(t *testing.T) {
	cfg := config.Defaults()
	cfg.Plugins = map[string]config.PluginConf{"echo": {Config: map[string]any{"max_delay": "1m"}}}
	h := setup(t, cfg)

	h.sender.EXPECT().SendMessage(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, m message.Message) error {
			assert.Contains(t, m.PlainText(), "up to 1m0s")
			return nil
		}).Times(2)
	h.sender.EXPECT().SendMessage(gomock.Any(), gomock.Any(), text("usage: echo later <n|duration> <text>")).Return(nil)

	h.say("/echo later 2h too late")
	h.say("/echo later -3 never")
	h.say("/echo later 5")
}

func TestParseDelay(t *testing.T) {
	d, err := parseDelay("5")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = parseDelay("2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = parseDelay("0")
	assert.Error(t, err)
	_, err = parseDelay("soon")
	assert.Error(t, err)
}

func TestStripCommandKeepsSegments(t *testing.T) {
	in := message.Parse("echo [CQ:image,file=a.png] and text")
	out := stripCommand(in, "echo")
	require.Len(t, out, 2)
	assert.Equal(t, message.TypeImage, out[0].Type)
	assert.Equal(t, "echo [CQ:image,file=a.png] and text", in.String(), "input must not change")

	out = stripCommand(message.Parse("echo hello"), "echo")
	assert.Equal(t, "hello", out.PlainText())

	assert.Empty(t, stripCommand(message.Parse("echo"), "echo"))
}

func TestParseSchedule(t *testing.T) {
	entries, err := parseSchedule([]any{
		map[string]any{"cron": "0 9 * * *", "group_id": 2000, "text": "morning"},
		map[string]any{"cron": "@hourly", "user_id": "9", "text": "tick"},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, protocol.Target{GroupID: 2000}, entries[0].Target)
	assert.Equal(t, protocol.Target{UserID: 9}, entries[1].Target)

	none, err := parseSchedule(nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	bad := []any{
		"0 9 * * *",
		[]any{"not a mapping"},
		[]any{map[string]any{"text": "x", "user_id": 1}},
		[]any{map[string]any{"cron": "@daily", "user_id": 1}},
		[]any{map[string]any{"cron": "@daily", "text": "x"}},
	}
	for _, raw := range bad {
		_, err := parseSchedule(raw)
		assert.Error(t, err, "%v", raw)
	}
}

func TestScheduleRegistersCronTasks(t *testing.T) {
	cfg := config.Defaults()
	cfg.Plugins = map[string]config.PluginConf{"echo": {Config: map[string]any{
		"schedule": []any{map[string]any{"cron": "0 9 * * *", "group_id": 2000, "text": "morning"}},
	}}}
	h := setup(t, cfg)
	assert.Equal(t, 1, h.timer.Len())

	done := make(chan message.Message, 1)
	h.sender.EXPECT().SendMessage(gomock.Any(), protocol.Target{GroupID: 2000}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, m message.Message) error {
			done <- m
			return nil
		})
	require.NoError(t, h.plugin.announce(scheduled{Cron: "0 9 * * *", Target: protocol.Target{GroupID: 2000}, Text: "morning"}))
	select {
	case m := <-done:
		assert.Equal(t, "morning", m.PlainText())
	case <-time.After(2 * time.Second):
		t.Fatal("announcement never sent")
	}
}

func TestInvalidScheduleFailsLoad(t *testing.T) {
	cfg := config.Defaults()
	cfg.Plugins = map[string]config.PluginConf{"echo": {Config: map[string]any{
		"schedule": []any{map[string]any{"cron": "not a cron", "user_id": 1, "text": "x"}},
	}}}
	_, loaded := load(t, cfg)
	assert.Zero(t, loaded)
}

func TestInvalidScheduleEntryRegistersNothing(t *testing.T) {
	cfg := config.Defaults()
	cfg.Plugins = map[string]config.PluginConf{"echo": {Config: map[string]any{
		"schedule": []any{
			map[string]any{"cron": "0 9 * * *", "user_id": 1, "text": "ok"},
			map[string]any{"cron": "0 9 * *", "user_id": 1, "text": "four fields"},
		},
	}}}
	h, loaded := load(t, cfg)
	assert.Zero(t, loaded)
	assert.Zero(t, h.timer.Len(), "no announcement may outlive a failed load")

	// The command handlers were never bound either.
	h.say("/echo hi")
}

func TestConcurrentCountsAreNotLost(t *testing.T) {
	h := setup(t, config.Defaults())
	h.sender.EXPECT().SendMessage(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	const goroutines, perGoroutine = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				h.say("/echo count")
			}
		}()
	}
	wg.Wait()

	st := h.states.Get(state.PrivateScope(9), info)
	h.plugin.mu.Lock()
	defer h.plugin.mu.Unlock()
	assert.Equal(t, goroutines*perGoroutine, st.Data[usesKey])
}
