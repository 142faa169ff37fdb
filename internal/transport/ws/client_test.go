package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/event"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/protocol"
)

var upgrader = websocket.Upgrader{}

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) Publish(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// backend accepts connections, pushes the given frames and answers every
// action frame with an ok response carrying the same echo.
type backend struct {
	frames  []string
	auth    atomic.Value
	actions chan protocol.ActionRequest
	conns   atomic.Int32
	// dropFirst closes the first connection after pushing frames.
	dropFirst bool
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.auth.Store(r.Header.Get("Authorization"))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	n := b.conns.Add(1)

	for _, f := range b.frames {
		conn.WriteMessage(websocket.TextMessage, []byte(f))
	}
	if b.dropFirst && n == 1 {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.ActionRequest
		if json.Unmarshal(data, &req) != nil {
			continue
		}
		if b.actions != nil {
			b.actions <- req
		}
		resp, _ := json.Marshal(protocol.ActionResponse{Status: "ok", Echo: req.Echo})
		conn.WriteMessage(websocket.TextMessage, resp)
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func start(t *testing.T, c *Client) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestClientPublishesEvents(t *testing.T) {
	payload := `{"post_type":"message","message_type":"private","user_id":2,"self_id":1,"message":"hi","time":1}`
	b := &backend{frames: []string{payload, payload, `{"hello":1}`, `not json`}}
	srv := httptest.NewServer(b)
	defer srv.Close()

	pub := &capture{}
	c := New(config.WebSocketConfig{URL: wsURL(srv), AccessToken: "tok"}, pub)
	stop := start(t, c)
	defer stop()

	require.Eventually(t, func() bool { return pub.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Bearer tok", b.auth.Load())

	// Duplicate, unknown and malformed frames are dropped.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, pub.len())
}

func TestClientSendMessage(t *testing.T) {
	b := &backend{actions: make(chan protocol.ActionRequest, 1)}
	srv := httptest.NewServer(b)
	defer srv.Close()

	c := New(config.WebSocketConfig{URL: wsURL(srv)}, &capture{}, WithActionTimeout(time.Second))
	stop := start(t, c)
	defer stop()

	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)

	err := c.SendMessage(context.Background(), protocol.Target{GroupID: 9}, message.Message{message.Text("yo")})
	require.NoError(t, err)

	req := <-b.actions
	assert.Equal(t, protocol.ActionSendGroupMsg, req.Action)
	assert.NotEmpty(t, req.Echo)
}

func TestClientNotConnected(t *testing.T) {
	c := New(config.WebSocketConfig{URL: "ws://127.0.0.1:1"}, &capture{})
	err := c.SendMessage(context.Background(), protocol.Target{UserID: 1}, nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClientReconnects(t *testing.T) {
	payload := `{"post_type":"meta_event","meta_event_type":"lifecycle","sub_type":"connect","time":1}`
	b := &backend{frames: []string{payload}, dropFirst: true}
	srv := httptest.NewServer(b)
	defer srv.Close()

	pub := &capture{}
	c := New(config.WebSocketConfig{URL: wsURL(srv), ReconnectInterval: 10 * time.Millisecond}, pub)
	stop := start(t, c)
	defer stop()

	require.Eventually(t, func() bool { return b.conns.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	// Both connections pushed the same lifecycle payload; dedupe keeps one.
	assert.Equal(t, 1, pub.len())
}
