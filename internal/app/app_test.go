package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/diagnostics"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/host"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/transport"
	"github.com/mattjoyce/murmur/internal/transport/httppost"
	"github.com/mattjoyce/murmur/internal/transport/mocks"
	"github.com/mattjoyce/murmur/plugins/echo"
	"github.com/mattjoyce/murmur/plugins/help"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.State.Path = filepath.Join(t.TempDir(), "murmur.db")
	return cfg
}

func TestRunDispatchesToPlugins(t *testing.T) {
	ctrl := gomock.NewController(t)
	sender := mocks.NewMockActionSender(ctrl)

	a, err := New(context.Background(), testConfig(t), []host.Plugin{help.New(), echo.New()}, WithSender(sender))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.plugins.Loaded().Len() == 2 }, 2*time.Second, 10*time.Millisecond)

	replied := make(chan string, 1)
	sender.EXPECT().SendMessage(gomock.Any(), protocol.Target{UserID: 5}, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ protocol.Target, m message.Message) error {
			replied <- m.PlainText()
			return nil
		})
	a.hub.Publish(event.NewPrivateMessage(1, 5, message.Parse("/echo ping")))
	assert.Equal(t, "ping", <-replied)

	status := a.status()
	assert.Equal(t, 2, status["plugins"])
	assert.Equal(t, true, status["pool_running"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, a.pool.Running())
}

func TestNewChoosesTransports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Debug.SaveDump = true
	cfg.Transport.HTTP.Enabled = true
	cfg.Transport.HTTP.APIURL = "http://127.0.0.1:5701"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.http)
	assert.Nil(t, a.ws)
	assert.IsType(t, &httppost.Client{}, a.sender)
	assert.Same(t, a.sender, a.caller)
	assert.IsType(t, &diagnostics.SQLiteDumper{}, a.dumper)

	cfg = testConfig(t)
	cfg.Transport.WS.Enabled = true
	a2, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a2.Close()
	assert.Same(t, a2.ws, a2.sender)
	assert.IsType(t, diagnostics.Nop{}, a2.dumper)

	a3, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a3.Close()
	assert.IsType(t, transport.Discard{}, a3.sender)
	assert.Nil(t, a3.caller)
}

func TestNewRejectsDuplicatePlugins(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), []host.Plugin{help.New(), help.New()})
	assert.Error(t, err)
}

func TestLogStatus(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	var buf bytes.Buffer
	a.logger = slog.New(slog.NewJSONHandler(&buf, nil))
	a.hub.Publish(event.NewPrivateMessage(1, 5, message.Parse("hi")))

	require.NoError(t, a.logStatus())
	out := buf.String()
	assert.Contains(t, out, `"msg":"status"`)
	assert.Contains(t, out, `"events_published":1`)
	assert.Contains(t, out, `"pool_running":false`)
}

func TestHeartbeatsReachWatchdog(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	hb, err := event.Decode(map[string]any{
		"post_type":       "meta_event",
		"meta_event_type": "heartbeat",
		"interval":        3000,
		"status":          map[string]any{"online": true, "good": true},
	})
	require.NoError(t, err)
	a.hub.Publish(hb)

	last, interval := a.dog.Last()
	assert.False(t, last.IsZero())
	assert.Equal(t, 3*time.Second, interval)
}
