package event

import (
	"fmt"
	"time"

	"github.com/mattjoyce/murmur/internal/message"
)

// Decode builds the typed variant for a decoded OneBot v11 payload.
// The map is owned by the returned event.
func Decode(raw map[string]any) (Event, error) {
	postType := str(raw, "post_type")
	if postType == "" {
		return nil, fmt.Errorf("event missing required field: post_type")
	}

	switch postType {
	case "message", "message_sent":
		return decodeMessage(raw)

	case "notice":
		return &Notice{
			Base:       newBase(TypeNotice, raw),
			NoticeType: str(raw, "notice_type"),
			SubType:    str(raw, "sub_type"),
			UserID:     i64(raw, "user_id"),
			GroupID:    i64(raw, "group_id"),
		}, nil

	case "request":
		return &Request{
			Base:        newBase(TypeRequest, raw),
			RequestType: str(raw, "request_type"),
			SubType:     str(raw, "sub_type"),
			UserID:      i64(raw, "user_id"),
			GroupID:     i64(raw, "group_id"),
			Comment:     str(raw, "comment"),
			Flag:        str(raw, "flag"),
		}, nil

	case "meta_event":
		switch str(raw, "meta_event_type") {
		case "heartbeat":
			status, _ := raw["status"].(map[string]any)
			return &Heartbeat{
				Base:     newBase(TypeHeartbeat, raw),
				Interval: time.Duration(i64(raw, "interval")) * time.Millisecond,
				Status:   status,
			}, nil
		case "lifecycle":
			return &Lifecycle{
				Base:    newBase(TypeLifecycle, raw),
				SubType: str(raw, "sub_type"),
			}, nil
		}
		b := newBase(TypeMeta, raw)
		return &b, nil
	}

	b := newBase(TypeEvent, raw)
	return &b, nil
}

func decodeMessage(raw map[string]any) (*Message, error) {
	kind := str(raw, "message_type")
	var t Type
	switch kind {
	case KindPrivate:
		t = TypePrivateMessage
	case KindGroup:
		t = TypeGroupMessage
	default:
		t = TypeMessage
	}

	var msg message.Message
	switch v := raw["message"].(type) {
	case string:
		msg = message.Parse(v)
	case []any:
		m, err := message.FromArray(v)
		if err != nil {
			return nil, fmt.Errorf("decode message segments: %w", err)
		}
		msg = m
	case nil:
		msg = message.Parse(str(raw, "raw_message"))
	default:
		return nil, fmt.Errorf("unsupported message field type %T", v)
	}

	rawMessage := str(raw, "raw_message")
	if rawMessage == "" {
		rawMessage = msg.String()
	}
	sender, _ := raw["sender"].(map[string]any)

	return &Message{
		Base:        newBase(t, raw),
		MessageType: kind,
		SubType:     str(raw, "sub_type"),
		MessageID:   i64(raw, "message_id"),
		UserID:      i64(raw, "user_id"),
		GroupID:     i64(raw, "group_id"),
		Message:     msg,
		RawMessage:  rawMessage,
		Sender:      sender,
	}, nil
}
