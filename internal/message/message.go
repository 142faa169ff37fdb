// Package message models OneBot v11 rich content: an ordered list of typed
// segments that renders to and parses from CQ-code strings.
package message

import (
	"fmt"
	"sort"
	"strings"
)

// Segment types used by the core.
const (
	TypeText  = "text"
	TypeAt    = "at"
	TypeReply = "reply"
	TypeFace  = "face"
	TypeImage = "image"
)

// ReservedChars may not appear unescaped in command names.
const ReservedChars = "[]"

// Segment is one typed piece of a message.
type Segment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Message is an ordered list of segments.
type Message []Segment

// Text builds a text segment.
func Text(s string) Segment {
	return Segment{Type: TypeText, Data: map[string]string{"text": s}}
}

// At builds a mention segment for the given user id ("all" mentions everyone).
func At(userID string) Segment {
	return Segment{Type: TypeAt, Data: map[string]string{"qq": userID}}
}

// Reply builds a reply-reference segment for the given message id.
func Reply(messageID string) Segment {
	return Segment{Type: TypeReply, Data: map[string]string{"id": messageID}}
}

// Is reports whether the segment has the given type.
func (s Segment) Is(segType string) bool {
	return s.Type == segType
}

// String renders the segment as CQ code. Text segments render as escaped text.
func (s Segment) String() string {
	if s.Type == TypeText {
		return escapeText(s.Data["text"])
	}
	var b strings.Builder
	b.WriteString("[CQ:")
	b.WriteString(s.Type)
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escapeParam(s.Data[k]))
	}
	b.WriteByte(']')
	return b.String()
}

func (s Segment) clone() Segment {
	out := Segment{Type: s.Type}
	if s.Data != nil {
		out.Data = make(map[string]string, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return out
}

// String renders the whole message as a CQ-code string.
func (m Message) String() string {
	var b strings.Builder
	for _, seg := range m {
		b.WriteString(seg.String())
	}
	return b.String()
}

// PlainText concatenates the text segments, dropping everything else.
func (m Message) PlainText() string {
	var b strings.Builder
	for _, seg := range m {
		if seg.Type == TypeText {
			b.WriteString(seg.Data["text"])
		}
	}
	return b.String()
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	out := make(Message, len(m))
	for i, seg := range m {
		out[i] = seg.clone()
	}
	return out
}

// ToArray converts the message to the OneBot array wire form.
func (m Message) ToArray() []map[string]any {
	out := make([]map[string]any, 0, len(m))
	for _, seg := range m {
		data := make(map[string]any, len(seg.Data))
		for k, v := range seg.Data {
			data[k] = v
		}
		out = append(out, map[string]any{"type": seg.Type, "data": data})
	}
	return out
}

// Parse decodes a CQ-code string. Adjacent text is merged into one segment.
// A malformed code (no closing bracket) is kept as literal text.
func Parse(s string) Message {
	var out Message
	var text strings.Builder

	flush := func() {
		if text.Len() > 0 {
			out = append(out, Text(unescape(text.String())))
			text.Reset()
		}
	}

	for len(s) > 0 {
		start := strings.Index(s, "[CQ:")
		if start < 0 {
			text.WriteString(s)
			break
		}
		end := strings.IndexByte(s[start:], ']')
		if end < 0 {
			text.WriteString(s)
			break
		}
		text.WriteString(s[:start])
		flush()
		out = append(out, parseCode(s[start+len("[CQ:"):start+end]))
		s = s[start+end+1:]
	}
	flush()
	return out
}

func parseCode(body string) Segment {
	parts := strings.Split(body, ",")
	seg := Segment{Type: strings.TrimSpace(parts[0]), Data: make(map[string]string, len(parts)-1)}
	for _, p := range parts[1:] {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		seg.Data[k] = unescape(v)
	}
	return seg
}

// FromArray decodes the OneBot array wire form. Non-string data values are
// rendered with fmt so ids that arrive as JSON numbers stay usable.
func FromArray(items []any) (Message, error) {
	out := make(Message, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %d: expected object, got %T", i, item)
		}
		segType, _ := obj["type"].(string)
		if segType == "" {
			return nil, fmt.Errorf("segment %d: missing type", i)
		}
		seg := Segment{Type: segType, Data: map[string]string{}}
		if data, ok := obj["data"].(map[string]any); ok {
			for k, v := range data {
				if v == nil {
					continue
				}
				seg.Data[k] = fmt.Sprint(v)
			}
		}
		out = append(out, seg)
	}
	return out, nil
}

var (
	textEscaper  = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;")
	paramEscaper = strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
	unescaper    = strings.NewReplacer("&#91;", "[", "&#93;", "]", "&#44;", ",", "&amp;", "&")
)

func escapeText(s string) string  { return textEscaper.Replace(s) }
func escapeParam(s string) string { return paramEscaper.Replace(s) }
func unescape(s string) string    { return unescaper.Replace(s) }
