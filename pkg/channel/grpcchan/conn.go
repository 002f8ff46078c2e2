// Package grpcchan carries a channel over a bidirectional gRPC stream. One
// stream joins exactly two endpoints: a listening Server and a dialing
// client. Endpoint ids and origins are exchanged as stream metadata, and
// each channel message travels as a BytesValue frame.
package grpcchan

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

// Metadata keys exchanged when a stream is established.
const (
	MDSource = "ifrau-source"
	MDOrigin = "ifrau-origin"
)

// Conn is one end of an established stream. It implements channel.Channel.
type Conn struct {
	self channel.Endpoint
	peer channel.Endpoint

	sendMu sync.Mutex
	send   func(any) error

	mu      sync.Mutex
	subs    map[uint64]func(channel.Message)
	nextSub uint64
	closed  bool
	closers []func()

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(self, peer channel.Endpoint, send func(any) error) *Conn {
	return &Conn{
		self:  self,
		peer:  peer,
		send:  send,
		subs:  make(map[uint64]func(channel.Message)),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Self returns the local endpoint.
func (c *Conn) Self() channel.Endpoint { return c.self }

// Peer returns the remote endpoint announced in stream metadata.
func (c *Conn) Peer() channel.Endpoint { return c.peer }

// Counterpart implements channel.Channel.
func (c *Conn) Counterpart() string { return c.peer.ID }

// Done is closed when the stream ends.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Post implements channel.Channel.
func (c *Conn) Post(ctx context.Context, data []byte, targetOrigin string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ifrauerrors.ErrClosed
	}
	if !channel.OriginAllowed(targetOrigin, c.peer.Origin) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.send(&wrapperspb.BytesValue{Value: data}); err != nil {
		if errors.Is(err, io.EOF) {
			return ifrauerrors.ErrClosed
		}
		return err
	}
	return nil
}

// Subscribe implements channel.Channel. Frames that arrive before the first
// subscriber are held by the stream until it subscribes.
func (c *Conn) Subscribe(fn func(channel.Message)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ifrauerrors.ErrClosed
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

// Close implements channel.Channel.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		clear(c.subs)
		closers := c.closers
		c.mu.Unlock()
		close(c.done)
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	})
	return nil
}

func (c *Conn) onClose(fn func()) {
	c.mu.Lock()
	c.closers = append(c.closers, fn)
	c.mu.Unlock()
}

// recvLoop reads frames until the stream fails or the conn closes.
func (c *Conn) recvLoop(recv func(any) error) error {
	select {
	case <-c.ready:
	case <-c.done:
		return nil
	}
	defer c.Close()

	for {
		var frame wrapperspb.BytesValue
		if err := recv(&frame); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return nil
			}
			return err
		}

		msg := channel.Message{Source: c.peer.ID, Origin: c.peer.Origin, Data: frame.GetValue()}
		c.mu.Lock()
		subs := make([]func(channel.Message), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(msg)
		}
	}
}
