// Package mem provides an in-process message channel. Useful for tests and
// for running both roles inside one binary.
package mem

import (
	"context"
	"sync"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

// inboxSize bounds messages queued for a side before Post blocks.
const inboxSize = 256

// Side is one end of an in-process channel.
type Side struct {
	self        channel.Endpoint
	counterpart string

	mu      sync.Mutex
	peer    *Side
	subs    map[uint64]func(channel.Message)
	nextSub uint64
	closed  bool

	inbox     chan channel.Message
	done      chan struct{}
	closeOnce sync.Once
	onClose   func()
}

// Pipe returns two connected sides. Each side delivers inbound messages on
// its own goroutine.
func Pipe(a, b channel.Endpoint) (*Side, *Side) {
	sa := newSide(a, b.ID)
	sb := newSide(b, a.ID)
	sa.peer = sb
	sb.peer = sa
	return sa, sb
}

func newSide(self channel.Endpoint, counterpart string) *Side {
	s := &Side{
		self:        self,
		counterpart: counterpart,
		subs:        make(map[uint64]func(channel.Message)),
		inbox:       make(chan channel.Message, inboxSize),
		done:        make(chan struct{}),
	}
	go s.deliverLoop()
	return s
}

// Endpoint returns the local endpoint.
func (s *Side) Endpoint() channel.Endpoint { return s.self }

// Counterpart implements channel.Channel.
func (s *Side) Counterpart() string { return s.counterpart }

// Post implements channel.Channel.
func (s *Side) Post(ctx context.Context, data []byte, targetOrigin string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ifrauerrors.ErrClosed
	}
	peer := s.peer
	s.mu.Unlock()

	if peer == nil || !channel.OriginAllowed(targetOrigin, peer.self.Origin) {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return peer.enqueue(ctx, channel.Message{
		Source: s.self.ID,
		Origin: s.self.Origin,
		Data:   buf,
	})
}

// Deliver injects msg into this side as if it had arrived from anywhere.
// It lets tests simulate foreign traffic on the same channel.
func (s *Side) Deliver(ctx context.Context, msg channel.Message) error {
	return s.enqueue(ctx, msg)
}

func (s *Side) enqueue(ctx context.Context, msg channel.Message) error {
	select {
	case <-s.done:
		// Receiver is gone; like a closed window, the message is lost.
		return nil
	default:
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe implements channel.Channel.
func (s *Side) Subscribe(fn func(channel.Message)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ifrauerrors.ErrClosed
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}, nil
}

// Close implements channel.Channel. The peer side stays usable but its
// posts are no longer delivered.
func (s *Side) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		clear(s.subs)
		onClose := s.onClose
		s.mu.Unlock()
		close(s.done)
		if onClose != nil {
			onClose()
		}
	})
	return nil
}

func (s *Side) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			s.mu.Lock()
			subs := make([]func(channel.Message), 0, len(s.subs))
			for _, fn := range s.subs {
				subs = append(subs, fn)
			}
			s.mu.Unlock()
			for _, fn := range subs {
				fn(msg)
			}
		}
	}
}

func (s *Side) link(peer *Side) {
	s.mu.Lock()
	s.peer = peer
	s.mu.Unlock()
}
