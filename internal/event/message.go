package event

import (
	"strconv"

	"github.com/mattjoyce/murmur/internal/message"
)

// Message kinds carried in the message_type field.
const (
	KindPrivate = "private"
	KindGroup   = "group"
)

// Message is a chat message event, private or group.
type Message struct {
	Base
	MessageType string
	SubType     string
	MessageID   int64
	UserID      int64
	GroupID     int64
	Message     message.Message
	RawMessage  string
	Sender      map[string]any
}

// IsGroup reports whether the message was sent in a group conversation.
func (m *Message) IsGroup() bool { return m.MessageType == KindGroup }

// IsPrivate reports whether the message was sent in a private conversation.
func (m *Message) IsPrivate() bool { return m.MessageType == KindPrivate }

// SetMessage replaces the message content and keeps raw_message and the raw
// payload in step, so key lookups observe the rewrite.
func (m *Message) SetMessage(msg message.Message) {
	m.Message = msg
	m.RawMessage = msg.String()
	arr := msg.ToArray()
	items := make([]any, len(arr))
	for i, seg := range arr {
		items[i] = seg
	}
	m.raw["message"] = items
	m.raw["raw_message"] = m.RawMessage
}

// MentionsSelf reports whether any segment mentions the receiving bot.
func (m *Message) MentionsSelf() bool {
	self := strconv.FormatInt(m.SelfID(), 10)
	for _, seg := range m.Message {
		if seg.Is(message.TypeAt) && seg.Data["qq"] == self {
			return true
		}
	}
	return false
}

func (m *Message) Clone() Event {
	c := *m
	c.Base = m.cloneBase()
	c.Message = m.Message.Clone()
	c.Sender, _ = c.raw["sender"].(map[string]any)
	return &c
}

// NewPrivateMessage builds a private message event, mostly for tests and
// synthetic events.
func NewPrivateMessage(selfID, userID int64, msg message.Message) *Message {
	ev, _ := Decode(map[string]any{
		"post_type":    "message",
		"message_type": KindPrivate,
		"sub_type":     "friend",
		"self_id":      selfID,
		"user_id":      userID,
		"message":      msg.String(),
		"raw_message":  msg.String(),
	})
	return ev.(*Message)
}

// NewGroupMessage builds a group message event.
func NewGroupMessage(selfID, groupID, userID int64, msg message.Message) *Message {
	ev, _ := Decode(map[string]any{
		"post_type":    "message",
		"message_type": KindGroup,
		"sub_type":     "normal",
		"self_id":      selfID,
		"group_id":     groupID,
		"user_id":      userID,
		"message":      msg.String(),
		"raw_message":  msg.String(),
	})
	return ev.(*Message)
}
