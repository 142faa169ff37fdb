package help

import (
	"context"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/events"
	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/plugin"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/router"
	"github.com/mattjoyce/murmur/internal/state"
	"github.com/mattjoyce/murmur/internal/transport/mocks"
)

type stub struct{ info plugin.Info }

func (s stub) Info() plugin.Info    { return s.info }
func (stub) Setup(*host.Host) error { return nil }

var weather = plugin.Info{
	Name:        "weather",
	Version:     "0.2.0",
	Description: "forecasts",
	Help:        "/weather <city>",
	Commands:    plugin.Commands{{Name: "weather", Aliases: []string{"w"}}},
}

func TestRenderList(t *testing.T) {
	out := Render([]plugin.Info{weather, info}, "")
	assert.Equal(t, "plugins:\n  help 1.0.0 - Lists loaded plugins and shows their help text\n  weather 0.2.0 - forecasts\nsend help <plugin> for details", out)
	assert.Equal(t, "no plugins loaded", Render(nil, ""))
}

func TestRenderOne(t *testing.T) {
	assert.Equal(t, "weather 0.2.0\nforecasts\n- weather (w)\n/weather <city>", Render([]plugin.Info{weather}, "Weather"))
	assert.Equal(t, `no plugin named "rain"`, Render([]plugin.Info{weather}, "rain"))
}

func TestHelpCommandAliases(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockActionSender(ctrl)

	hub := events.NewHub(10)
	states := state.NewStore()
	m := host.NewManager(host.Runtime{
		Router: router.New(hub, states),
		Config: config.Defaults(),
		Sender: sender,
		States: states,
	})
	hidden := plugin.Info{Name: "secret", Version: "1", Hidden: true}
	require.NoError(t, m.Register(New()))
	require.NoError(t, m.Register(stub{weather}))
	require.NoError(t, m.Register(stub{hidden}))
	require.Equal(t, 3, m.LoadAll())

	var replies []string
	sender.EXPECT().SendMessage(gomock.Any(), protocol.Target{GroupID: 5}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, msg message.Message) error {
			replies = append(replies, msg.PlainText())
			return nil
		}).Times(3)

	for _, text := range []string{"/help", "/h weather", "[CQ:at,qq=1] 帮助 secret", "help"} {
		hub.Publish(event.NewGroupMessage(1, 5, 7, message.Parse(text)))
	}

	require.Len(t, replies, 3)
	assert.Contains(t, replies[0], "weather 0.2.0")
	assert.NotContains(t, replies[0], "secret")
	assert.Contains(t, replies[1], "/weather <city>")
	assert.Equal(t, `no plugin named "secret"`, replies[2])
}
