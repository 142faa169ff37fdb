// Package ws is the forward WebSocket transport: murmur dials the backend,
// reads events from the socket and writes action frames to it.
package ws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/murmur/internal/config"
	"github.com/mattjoyce/murmur/internal/log"
	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/transport"
)

var (
	ErrNotConnected = errors.New("websocket not connected")
	ErrDisconnected = errors.New("websocket disconnected before response")
)

const (
	defaultReconnect = 5 * time.Second
	defaultTimeout   = 10 * time.Second
	writeWait        = 5 * time.Second
)

// Client keeps one connection to the backend alive until its context ends.
type Client struct {
	cfg       config.WebSocketConfig
	pub       transport.Publisher
	dedupe    *transport.Dedupe
	dialer    *websocket.Dialer
	timeout   time.Duration
	logger    *slog.Logger
	connected atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *protocol.ActionResponse
}

var _ transport.ActionSender = (*Client)(nil)

type Option func(*Client)

// WithActionTimeout bounds how long Call waits for a response.
func WithActionTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(cfg config.WebSocketConfig, pub transport.Publisher, opts ...Option) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnect
	}
	c := &Client{
		cfg:     cfg,
		pub:     pub,
		dedupe:  transport.NewDedupe(cfg.DedupeSize),
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		timeout: defaultTimeout,
		logger:  log.WithComponent("ws"),
		pending: make(map[string]chan *protocol.ActionResponse),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run dials, serves and redials until ctx is cancelled (blocking).
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("ws transport starting", "url", c.cfg.URL)
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("ws transport shutting down")
			return nil
		}
		c.logger.Warn("ws connection lost, reconnecting", "error", err, "retry_in", c.cfg.ReconnectInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.connected.Store(true)
	c.logger.Info("ws connected", "url", c.cfg.URL)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	defer func() {
		close(done)
		c.connected.Store(false)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		conn.Close()
		c.failPending()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	raw, err := protocol.DecodeRaw(bytes.NewReader(data))
	if err != nil {
		c.logger.Warn("ignoring malformed frame", "error", err)
		return
	}

	switch protocol.Classify(raw) {
	case protocol.FrameEvent:
		if _, err := transport.Ingest(c.pub, c.dedupe, data, c.logger); err != nil {
			c.logger.Warn("rejected event frame", "error", err)
		}
	case protocol.FrameActionResponse:
		resp, err := protocol.ActionResponseFromRaw(raw)
		if err != nil {
			c.logger.Warn("ignoring malformed action response", "error", err)
			return
		}
		c.resolve(resp)
	default:
		c.logger.Debug("ignoring unknown frame")
	}
}

func (c *Client) resolve(resp *protocol.ActionResponse) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.Echo]
	delete(c.pending, resp.Echo)
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("action response without caller", "echo", resp.Echo)
		return
	}
	ch <- resp
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for echo, ch := range c.pending {
		close(ch)
		delete(c.pending, echo)
	}
}

// Call writes one action frame and waits for the response with the same
// echo.
func (c *Client) Call(ctx context.Context, req *protocol.ActionRequest) (*protocol.ActionResponse, error) {
	if req.Echo == "" {
		req.Echo = uuid.NewString()
	}
	ch := make(chan *protocol.ActionResponse, 1)

	c.pendingMu.Lock()
	c.pending[req.Echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.Echo)
		c.pendingMu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("action %s timed out after %s", req.Action, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) write(req *protocol.ActionRequest) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("write %s: %w", req.Action, err)
	}
	if err := protocol.EncodeAction(w, req); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (c *Client) SendMessage(ctx context.Context, target protocol.Target, msg message.Message) error {
	req := protocol.NewSendMessage(target, msg, "")
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return protocol.ResponseError(req.Action, resp)
}
