package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mattjoyce/murmur/internal/event"
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameEvent
	FrameActionResponse
)

// DecodeRaw reads one JSON object, keeping numbers as json.Number so ids
// survive without float rounding.
func DecodeRaw(r io.Reader) (map[string]any, error) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("frame is not a JSON object")
	}
	return raw, nil
}

// Classify tells events from action responses.
func Classify(raw map[string]any) FrameKind {
	if _, ok := raw["post_type"]; ok {
		return FrameEvent
	}
	if _, ok := raw["retcode"]; ok {
		return FrameActionResponse
	}
	if _, ok := raw["status"]; ok {
		return FrameActionResponse
	}
	return FrameUnknown
}

// DecodeEvent reads one event frame and builds its typed variant.
func DecodeEvent(r io.Reader) (event.Event, error) {
	raw, err := DecodeRaw(r)
	if err != nil {
		return nil, err
	}
	ev, err := event.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// DecodeEventBytes is DecodeEvent over a byte slice.
func DecodeEventBytes(data []byte) (event.Event, error) {
	return DecodeEvent(bytes.NewReader(data))
}

// EncodeAction serializes an ActionRequest and writes it to w.
func EncodeAction(w io.Writer, req *ActionRequest) error {
	if req.Action == "" {
		return fmt.Errorf("action request missing required field: action")
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	return nil
}

// DecodeActionResponse reads and validates an action response.
func DecodeActionResponse(r io.Reader) (*ActionResponse, error) {
	var resp ActionResponse
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode action response: %w", err)
	}
	return &resp, validateResponse(&resp)
}

// ActionResponseFromRaw converts an already decoded frame.
func ActionResponseFromRaw(raw map[string]any) (*ActionResponse, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode action response: %w", err)
	}
	return DecodeActionResponse(bytes.NewReader(b))
}

func validateResponse(resp *ActionResponse) error {
	switch resp.Status {
	case "":
		return fmt.Errorf("action response missing required field: status")
	case "ok", "async", "failed":
	default:
		return fmt.Errorf("invalid status value: %q (must be 'ok', 'async' or 'failed')", resp.Status)
	}
	return nil
}

// ResponseError converts a failed response into an error.
func ResponseError(action string, resp *ActionResponse) error {
	if resp.OK() {
		return nil
	}
	detail := resp.Wording
	if detail == "" {
		detail = resp.Message
	}
	return fmt.Errorf("action %s failed: retcode=%d %s", action, resp.RetCode, detail)
}
