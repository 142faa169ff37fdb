// Package protocol encodes and decodes the OneBot v11 JSON frames exchanged
// with the chat backend.
package protocol

import (
	"time"

	"github.com/mattjoyce/murmur/internal/message"
)

// Action names used by murmur.
const (
	ActionSendPrivateMsg = "send_private_msg"
	ActionSendGroupMsg   = "send_group_msg"
	ActionSetRestart     = "set_restart"
)

// ActionRequest is an outbound API call.
type ActionRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
	Echo   string         `json:"echo,omitempty"`
}

// ActionResponse is the backend's reply to an ActionRequest.
type ActionResponse struct {
	Status  string         `json:"status"` // ok | async | failed
	RetCode int            `json:"retcode"`
	Data    map[string]any `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Wording string         `json:"wording,omitempty"`
	Echo    string         `json:"echo,omitempty"`
}

// OK reports whether the backend accepted the action.
func (r *ActionResponse) OK() bool {
	return r.Status == "ok" || r.Status == "async"
}

// Target addresses a conversation. A non-zero GroupID selects the group.
type Target struct {
	UserID  int64 `json:"user_id,omitempty"`
	GroupID int64 `json:"group_id,omitempty"`
}

// IsGroup reports whether the target is a group conversation.
func (t Target) IsGroup() bool { return t.GroupID != 0 }

// NewSendMessage builds the action that posts msg to target.
func NewSendMessage(target Target, msg message.Message, echo string) *ActionRequest {
	arr := msg.ToArray()
	segments := make([]any, len(arr))
	for i, seg := range arr {
		segments[i] = seg
	}

	if target.IsGroup() {
		return &ActionRequest{
			Action: ActionSendGroupMsg,
			Params: map[string]any{"group_id": target.GroupID, "message": segments},
			Echo:   echo,
		}
	}
	return &ActionRequest{
		Action: ActionSendPrivateMsg,
		Params: map[string]any{"user_id": target.UserID, "message": segments},
		Echo:   echo,
	}
}

// NewSetRestart builds the action asking the backend to restart itself after
// delay.
func NewSetRestart(delay time.Duration) *ActionRequest {
	return &ActionRequest{
		Action: ActionSetRestart,
		Params: map[string]any{"delay": delay.Milliseconds()},
	}
}
