// Package host implements the embedding side of an ifrau conversation. A
// host only accepts messages from the origin of the content it embeds, and
// becomes connected when that content says hello.
package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/protocol"
)

// Event names a client may send.
const (
	EventNavigate = "navigate"
	EventTitle    = "title"
)

// Window receives the client's navigation and title events.
type Window interface {
	Navigate(url string)
	SetTitle(title string)
}

// Host is the embedding role.
type Host struct {
	port   *port.Port
	src    string
	window Window

	connected  chan struct{}
	once       sync.Once
	registered bool
}

// New creates a host for content loaded from src. The target origin is the
// scheme and authority of src; New fails if src has none. window may be nil
// to ignore navigation and title events.
func New(ch channel.Channel, src string, window Window, opts ...port.Option) (*Host, error) {
	origin, ok := protocol.TryGetOrigin(src)
	if !ok {
		return nil, fmt.Errorf("%w: unable to extract origin from %q", ifrauerrors.ErrInvalidInput, src)
	}
	p, err := port.New(ch, origin, opts...)
	if err != nil {
		return nil, err
	}
	return &Host{
		port:      p,
		src:       src,
		window:    window,
		connected: make(chan struct{}),
	}, nil
}

// Port exposes the underlying port for registering handlers and services
// before Connect.
func (h *Host) Port() *port.Port { return h.port }

// Src returns the embedded content's address.
func (h *Host) Src() string { return h.src }

// Origin returns the origin messages must come from.
func (h *Host) Origin() string { return h.port.TargetOrigin() }

// Connected is closed once the client's hello has been answered.
func (h *Host) Connected() <-chan struct{} { return h.connected }

// Connect registers the hello handler and window events, opens the port,
// and waits for the client's hello. The port connects when the hello
// arrives; the client id it carries is echoed back. If ctx ends first the
// port is closed again and Connect may be retried.
func (h *Host) Connect(ctx context.Context) error {
	p := h.port
	if !h.registered {
		if err := h.register(); err != nil {
			return err
		}
		h.registered = true
	}
	if err := p.Open(); err != nil {
		return err
	}

	select {
	case <-h.connected:
		return nil
	case <-ctx.Done():
		_ = p.Close()
		return ctx.Err()
	}
}

func (h *Host) register() error {
	p := h.port
	if _, err := p.OnRequest(protocol.Hello, port.HandlerFunc(h.hello)); err != nil {
		return err
	}
	if h.window == nil {
		return nil
	}
	if _, err := p.OnEvent(EventTitle, func(args port.Args) { h.window.SetTitle(args.String(0)) }); err != nil {
		return err
	}
	_, err := p.OnEvent(EventNavigate, func(args port.Args) { h.window.Navigate(args.String(0)) })
	return err
}

func (h *Host) hello(_ context.Context, req *port.Request) (any, error) {
	var id string
	if req.Args.Len() > 0 {
		if err := req.Args.Decode(0, &id); err != nil {
			return nil, fmt.Errorf("hello: %w", err)
		}
	}
	h.port.Connect()
	h.once.Do(func() { close(h.connected) })
	return id, nil
}

// Request sends a request to the client.
func (h *Host) Request(ctx context.Context, key string, args ...any) (*port.Future[port.Result], error) {
	return h.port.Request(ctx, key, args...)
}

// SendEvent sends an event to the client.
func (h *Host) SendEvent(ctx context.Context, name string, args ...any) error {
	return h.port.SendEvent(ctx, name, args...)
}

// Close stops listening. The channel is left open.
func (h *Host) Close() error {
	return h.port.Close()
}
