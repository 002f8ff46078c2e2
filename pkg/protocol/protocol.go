// Package protocol defines the ifrau wire envelope and the checks that decide
// whether an inbound message belongs to a port.
//
// Every message on the channel is a JSON envelope:
//
//	{"protocol":"ifrau","version":"2.0.0","type":"req","key":"hello","payload":{...}}
//
// The payload depends on the envelope type:
//
//	evt  [arg, ...]
//	req  {"id": "<portId>_<counter>", "args": [arg, ...]}
//	res  {"id": "<portId>_<counter>", "val": value, "err": "optional"}
package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
)

const (
	// Name is the fixed protocol name carried by every envelope.
	Name = "ifrau"
	// Version is the protocol version carried by every envelope.
	Version = "2.0.0"
	// Hello is the request type used for the connection handshake.
	Hello = "hello"
)

// Kind is the envelope type.
type Kind string

const (
	KindEvent    Kind = "evt"
	KindRequest  Kind = "req"
	KindResponse Kind = "res"
)

// Valid reports whether k is a known envelope type.
func (k Kind) Valid() bool {
	switch k {
	case KindEvent, KindRequest, KindResponse:
		return true
	}
	return false
}

// Envelope is the wire unit exchanged over a channel.
type Envelope struct {
	Protocol string          `json:"protocol"`
	Version  string          `json:"version"`
	Kind     Kind            `json:"type"`
	Key      string          `json:"key"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// RequestPayload is the payload of a req envelope.
type RequestPayload struct {
	ID   string            `json:"id"`
	Args []json.RawMessage `json:"args"`
}

// ResponsePayload is the payload of a res envelope. Err is set when the
// remote handler failed; peers that predate it only read Val.
type ResponsePayload struct {
	ID  string          `json:"id"`
	Val json.RawMessage `json:"val"`
	Err string          `json:"err,omitempty"`
}

// NewEvent builds an evt envelope carrying args.
func NewEvent(name string, args ...any) (*Envelope, error) {
	raw, err := MarshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", name, err)
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", name, err)
	}
	return newEnvelope(KindEvent, name, payload), nil
}

// NewRequest builds a req envelope.
func NewRequest(key, id string, args ...any) (*Envelope, error) {
	raw, err := MarshalArgs(args)
	if err != nil {
		return nil, fmt.Errorf("request %q: %w", key, err)
	}
	payload, err := json.Marshal(RequestPayload{ID: id, Args: raw})
	if err != nil {
		return nil, fmt.Errorf("request %q: %w", key, err)
	}
	return newEnvelope(KindRequest, key, payload), nil
}

// NewResponse builds a res envelope. A non-empty errMsg marks the response
// as failed; val is then sent as null.
func NewResponse(key, id string, val any, errMsg string) (*Envelope, error) {
	rp := ResponsePayload{ID: id, Val: json.RawMessage("null"), Err: errMsg}
	if errMsg == "" {
		v, err := marshalValue(val)
		if err != nil {
			return nil, fmt.Errorf("response %q: %w", key, err)
		}
		rp.Val = v
	}
	payload, err := json.Marshal(rp)
	if err != nil {
		return nil, fmt.Errorf("response %q: %w", key, err)
	}
	return newEnvelope(KindResponse, key, payload), nil
}

func newEnvelope(kind Kind, key string, payload json.RawMessage) *Envelope {
	return &Envelope{
		Protocol: Name,
		Version:  Version,
		Kind:     kind,
		Key:      key,
		Payload:  payload,
	}
}

// Encode serializes env for the channel.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses a channel message body into an envelope. It does not check
// protocol identity; see Validate.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// EventArgs decodes the payload of an evt envelope.
func (e *Envelope) EventArgs() ([]json.RawMessage, error) {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil, nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal(e.Payload, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Request decodes the payload of a req envelope.
func (e *Envelope) Request() (*RequestPayload, error) {
	var p RequestPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Response decodes the payload of a res envelope.
func (e *Envelope) Response() (*ResponsePayload, error) {
	var p ResponsePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, err
	}
	if len(p.Val) == 0 {
		p.Val = json.RawMessage("null")
	}
	return &p, nil
}

// MarshalArgs encodes each argument separately. json.RawMessage arguments
// are passed through unchanged.
func MarshalArgs(args []any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw, err := marshalValue(a)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

func marshalValue(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		return raw, nil
	}
	return json.Marshal(v)
}

var originRe = regexp.MustCompile(`(?i)^(http://|https://)[^/]+`)

// TryGetOrigin extracts scheme and host ("https://host:port") from url.
func TryGetOrigin(url string) (string, bool) {
	m := originRe.FindString(url)
	if m == "" {
		return "", false
	}
	return m, true
}
