// Package message defines the wire envelope exchanged between cluster
// members and clients. Every envelope is a JSON object with "src", "dest"
// and "body"; the body carries an optional "msg_id", an optional
// "in_reply_to" and a payload flattened next to them, discriminated by
// its "type" field.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MsgID is a per-node message counter. 0 is reserved for the init reply.
type MsgID = uint64

// Value is an opaque replicated value, kept as raw JSON.
type Value = json.RawMessage

// Envelope is a single transport-level message.
type Envelope struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	Body Body   `json:"body"`
}

// Body carries the message ids and exactly one payload variant.
type Body struct {
	MsgID     *MsgID
	InReplyTo *MsgID
	Payload   Payload
}

// Payload is one variant of a protocol's closed message set.
type Payload interface {
	Type() string
}

// ID returns the msg_id, or false when the sender did not stamp one.
func (b Body) ID() (MsgID, bool) {
	if b.MsgID == nil {
		return 0, false
	}
	return *b.MsgID, true
}

// ReplyTo returns in_reply_to, or false when the body is not a reply.
func (b Body) ReplyTo() (MsgID, bool) {
	if b.InReplyTo == nil {
		return 0, false
	}
	return *b.InReplyTo, true
}

// MarshalJSON flattens the payload fields next to the id fields.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.Payload == nil {
		return nil, fmt.Errorf("message: body has no payload")
	}
	fields := map[string]json.RawMessage{}
	if u, ok := b.Payload.(Unknown); ok {
		if len(u.Fields) > 0 {
			if err := json.Unmarshal(u.Fields, &fields); err != nil {
				return nil, fmt.Errorf("message: encode %q: %w", u.Kind, err)
			}
		}
	} else {
		raw, err := json.Marshal(b.Payload)
		if err != nil {
			return nil, fmt.Errorf("message: encode %q: %w", b.Payload.Type(), err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("message: payload %q is not an object: %w", b.Payload.Type(), err)
		}
	}

	typ, _ := json.Marshal(b.Payload.Type())
	fields["type"] = typ
	delete(fields, "msg_id")
	delete(fields, "in_reply_to")
	if b.MsgID != nil {
		fields["msg_id"], _ = json.Marshal(*b.MsgID)
	}
	if b.InReplyTo != nil {
		fields["in_reply_to"], _ = json.Marshal(*b.InReplyTo)
	}
	return json.Marshal(fields)
}

// header is the part of a body every protocol shares.
type header struct {
	Type      string `json:"type"`
	MsgID     *MsgID `json:"msg_id"`
	InReplyTo *MsgID `json:"in_reply_to"`
}

// decodeBody parses raw body JSON using reg to pick the payload variant.
func decodeBody(raw []byte, reg *Registry) (Body, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return Body{}, fmt.Errorf("decode body: %w", err)
	}
	if h.Type == "" {
		return Body{}, fmt.Errorf("decode body: missing type")
	}
	body := Body{MsgID: h.MsgID, InReplyTo: h.InReplyTo}

	dec, ok := reg.lookup(h.Type)
	if !ok {
		body.Payload = Unknown{Kind: h.Type, Fields: bytes.Clone(raw)}
		return body, nil
	}
	p, err := dec(raw)
	if err != nil {
		return Body{}, fmt.Errorf("decode %q: %w", h.Type, err)
	}
	body.Payload = p
	return body, nil
}

// Decode parses a single encoded envelope.
func Decode(data []byte, reg *Registry) (Envelope, error) {
	var raw struct {
		Src  string          `json:"src"`
		Dest string          `json:"dest"`
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw.Body) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope: missing body")
	}
	body, err := decodeBody(raw.Body, reg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Src: raw.Src, Dest: raw.Dest, Body: body}, nil
}

// Encode serializes env as a single JSON line without the trailing newline.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Key returns the canonical set key for v: its compacted JSON text.
func Key(v Value) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// Empty reports whether v carries no value: absent or JSON null.
func Empty(v Value) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Unknown holds a payload whose type no registered variant claims.
type Unknown struct {
	Kind   string
	Fields json.RawMessage
}

func (u Unknown) Type() string { return u.Kind }
