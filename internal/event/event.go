// Package event defines the typed envelopes delivered by transports.
//
// Every variant keeps the raw decoded payload so rules can look fields up by
// key, and exposes typed accessors for the fields the core needs. Types form a
// dotted hierarchy ("message.group" is a "message" is an "event"); a
// subscription to a parent type receives every descendant.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type is a dotted event type tag.
type Type string

const (
	TypeEvent          Type = "event"
	TypeMessage        Type = "message"
	TypePrivateMessage Type = "message.private"
	TypeGroupMessage   Type = "message.group"
	TypeNotice         Type = "notice"
	TypeRequest        Type = "request"
	TypeMeta           Type = "meta_event"
	TypeHeartbeat      Type = "meta_event.heartbeat"
	TypeLifecycle      Type = "meta_event.lifecycle"
)

// Chain returns t followed by its ancestors, ending with TypeEvent.
func (t Type) Chain() []Type {
	if t == "" || t == TypeEvent {
		return []Type{TypeEvent}
	}
	parts := strings.Split(string(t), ".")
	out := make([]Type, 0, len(parts)+1)
	for i := len(parts); i > 0; i-- {
		out = append(out, Type(strings.Join(parts[:i], ".")))
	}
	return append(out, TypeEvent)
}

// Event is the capability shared by all variants.
type Event interface {
	Type() Type
	Types() []Type
	// Get looks a field up in the raw payload.
	Get(key string) (any, bool)
	Raw() map[string]any
	Time() time.Time
	SelfID() int64
	// Clone returns an independent deep copy.
	Clone() Event
}

// Base carries the raw payload and the resolved type.
type Base struct {
	typ Type
	raw map[string]any
}

func newBase(t Type, raw map[string]any) Base {
	if raw == nil {
		raw = map[string]any{}
	}
	return Base{typ: t, raw: raw}
}

func (b *Base) Type() Type { return b.typ }

func (b *Base) Types() []Type { return b.typ.Chain() }

func (b *Base) Raw() map[string]any { return b.raw }

func (b *Base) Get(key string) (any, bool) {
	v, ok := b.raw[key]
	return v, ok
}

func (b *Base) Time() time.Time {
	sec, _ := Int64(b.raw["time"])
	return time.Unix(sec, 0)
}

func (b *Base) SelfID() int64 {
	id, _ := Int64(b.raw["self_id"])
	return id
}

func (b *Base) String() string {
	return fmt.Sprintf("%s(self_id=%d)", b.typ, b.SelfID())
}

func (b *Base) cloneBase() Base {
	return Base{typ: b.typ, raw: CloneMap(b.raw)}
}

// Clone implements Event for events of unknown shape.
func (b *Base) Clone() Event {
	c := b.cloneBase()
	return &c
}

// Notice is a notice event (group changes, recalls, pokes...).
type Notice struct {
	Base
	NoticeType string
	SubType    string
	UserID     int64
	GroupID    int64
}

func (n *Notice) Clone() Event {
	c := *n
	c.Base = n.cloneBase()
	return &c
}

// Request is a friend/group request event.
type Request struct {
	Base
	RequestType string
	SubType     string
	UserID      int64
	GroupID     int64
	Comment     string
	Flag        string
}

func (r *Request) Clone() Event {
	c := *r
	c.Base = r.cloneBase()
	return &c
}

// Heartbeat is a periodic liveness meta event from the backend.
type Heartbeat struct {
	Base
	Interval time.Duration
	Status   map[string]any
}

func (h *Heartbeat) Clone() Event {
	c := *h
	c.Base = h.cloneBase()
	c.Status, _ = c.raw["status"].(map[string]any)
	return &c
}

// Lifecycle reports backend connect/enable/disable.
type Lifecycle struct {
	Base
	SubType string
}

func (l *Lifecycle) Clone() Event {
	c := *l
	c.Base = l.cloneBase()
	return &c
}

// Int64 converts the numeric shapes produced by JSON decoding into int64.
func Int64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// CloneMap deep-copies nested maps and slices. Other values are shared.
func CloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}
		return out
	default:
		return v
	}
}

func str(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

func i64(raw map[string]any, key string) int64 {
	n, _ := Int64(raw[key])
	return n
}
