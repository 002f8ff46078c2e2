package port

import (
	"context"
	"encoding/json"
	"fmt"

	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

// Args are the positional arguments of an event or request, still encoded.
type Args []json.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Decode decodes argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("%w: argument %d of %d", ifrauerrors.ErrInvalidInput, i, len(a))
	}
	return json.Unmarshal(a[i], v)
}

// String returns argument i as a string, or "" if it is missing or not a string.
func (a Args) String(i int) string {
	var s string
	if err := a.Decode(i, &s); err != nil {
		return ""
	}
	return s
}

// Result is the value carried by a response.
type Result struct {
	raw json.RawMessage
}

// NewResult wraps an encoded value.
func NewResult(raw json.RawMessage) Result { return Result{raw: raw} }

// Decode decodes the value into v.
func (r Result) Decode(v any) error {
	if len(r.raw) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(r.raw, v)
}

// Raw returns the encoded value.
func (r Result) Raw() json.RawMessage { return r.raw }

// IsNull reports whether the value is JSON null or absent.
func (r Result) IsNull() bool { return len(r.raw) == 0 || string(r.raw) == "null" }

func (r Result) String() string {
	if len(r.raw) == 0 {
		return "null"
	}
	return string(r.raw)
}

// Request is an inbound call delivered to a Handler.
type Request struct {
	// Key is the request type.
	Key string
	// ID is the caller's correlation id.
	ID   string
	Args Args
}

// Handler answers inbound requests of one type.
//
// The returned value is encoded as the response value. A handler may return
// a *Future to answer later; the dispatcher waits for it before responding.
// A non-nil error is sent back to the caller as a failed response.
type Handler interface {
	ServeRequest(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc is an adapter to allow ordinary functions as Handlers.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// ServeRequest implements Handler by calling f.
func (f HandlerFunc) ServeRequest(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Value returns a Handler that answers every request with v.
func Value(v any) Handler {
	return constHandler{v: v}
}

type constHandler struct{ v any }

func (c constHandler) ServeRequest(context.Context, *Request) (any, error) {
	return c.v, nil
}

// EventHandler reacts to an inbound event. Its return is not observed.
type EventHandler func(args Args)
