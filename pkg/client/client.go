// Package client implements the embedded side of an ifrau conversation: it
// addresses any origin, initiates the hello handshake, and tells the host
// where to navigate and what title to show.
package client

import (
	"context"
	"fmt"

	"github.com/gezibash/ifrau/pkg/channel"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/protocol"
)

// Event names understood by a host.
const (
	EventNavigate = "navigate"
	EventTitle    = "title"
)

// Client is the embedded role.
type Client struct {
	port *port.Port
}

// New creates a client over ch. Messages are posted to any origin.
func New(ch channel.Channel, opts ...port.Option) (*Client, error) {
	return NewTo(ch, channel.Wildcard, opts...)
}

// NewTo creates a client that only posts to targetOrigin. An empty
// targetOrigin means any origin.
func NewTo(ch channel.Channel, targetOrigin string, opts ...port.Option) (*Client, error) {
	if targetOrigin == "" {
		targetOrigin = channel.Wildcard
	}
	p, err := port.New(ch, targetOrigin, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{port: p}, nil
}

// Port exposes the underlying port for registering handlers and services
// before Connect.
func (c *Client) Port() *port.Port { return c.port }

// ID returns the client's port id.
func (c *Client) ID() string { return c.port.ID() }

// Connect opens the port, connects, and performs the hello handshake. It
// returns once the host has echoed the client id or ctx ends. A failed
// handshake closes the port again, so Connect may be retried.
func (c *Client) Connect(ctx context.Context) (err error) {
	if err := c.port.Open(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = c.port.Close()
		}
	}()
	c.port.Connect()

	fut, err := c.port.Request(ctx, protocol.Hello, c.port.ID())
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	res, err := fut.Await(ctx)
	if err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	var echoed string
	if err := res.Decode(&echoed); err != nil {
		return fmt.Errorf("hello: decode echo: %w", err)
	}
	if echoed != c.port.ID() {
		return fmt.Errorf("hello: host echoed %q, want %q", echoed, c.port.ID())
	}
	return nil
}

// Navigate asks the host to navigate to url.
func (c *Client) Navigate(ctx context.Context, url string) error {
	return c.port.SendEvent(ctx, EventNavigate, url)
}

// SetTitle asks the host to change its title.
func (c *Client) SetTitle(ctx context.Context, title string) error {
	return c.port.SendEvent(ctx, EventTitle, title)
}

// Request sends a request to the host.
func (c *Client) Request(ctx context.Context, key string, args ...any) (*port.Future[port.Result], error) {
	return c.port.Request(ctx, key, args...)
}

// GetService fetches a host service proxy.
func (c *Client) GetService(ctx context.Context, name, version string) (*port.Future[*port.Service], error) {
	return c.port.GetService(ctx, name, version)
}

// Close stops listening. The channel is left open.
func (c *Client) Close() error {
	return c.port.Close()
}
