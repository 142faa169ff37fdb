package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mattjoyce/murmur/internal/message"
	"github.com/mattjoyce/murmur/internal/protocol"
	"github.com/mattjoyce/murmur/internal/transport"
)

// Client calls actions on the backend's HTTP API (POST {api_url}/{action}).
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ transport.ActionSender = (*Client)(nil)

func NewClient(apiURL, accessToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(apiURL, "/"),
		token:   accessToken,
		http:    &http.Client{Timeout: timeout},
	}
}

// Call posts one action and returns the backend's response.
func (c *Client) Call(ctx context.Context, req *protocol.ActionRequest) (*protocol.ActionResponse, error) {
	if req.Action == "" {
		return nil, fmt.Errorf("action request missing required field: action")
	}
	// The action travels in the URL; the body carries only the params.
	params := req.Params
	if params == nil {
		params = map[string]any{}
	}
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(params); err != nil {
		return nil, fmt.Errorf("encode %s params: %w", req.Action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+req.Action, &body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", req.Action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("call %s: unexpected status %d", req.Action, resp.StatusCode)
	}
	return protocol.DecodeActionResponse(resp.Body)
}

func (c *Client) SendMessage(ctx context.Context, target protocol.Target, msg message.Message) error {
	req := protocol.NewSendMessage(target, msg, "")
	resp, err := c.Call(ctx, req)
	if err != nil {
		return err
	}
	return protocol.ResponseError(req.Action, resp)
}
