package port

import (
	"context"
	"fmt"
	"log/slog"

	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/protocol"
)

// OnEvent appends h to the handlers for event name. Handlers run in
// registration order. It fails once the port is connected.
func (p *Port) OnEvent(name string, h EventHandler) (*Port, error) {
	if h == nil {
		return p, registrationError("onEvent", name, ifrauerrors.ErrInvalidInput, "nil handler")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return p, lifecycleError("onEvent", name, ifrauerrors.ErrAlreadyConnected)
	}
	p.eventHandlers.push(name, h)
	return p, nil
}

// SendEvent posts a fire-and-forget event. It fails unless the port is
// connected. An event the counterpart has no handler for is dropped there.
func (p *Port) SendEvent(ctx context.Context, name string, args ...any) error {
	if !p.IsConnected() {
		return lifecycleError("sendEvent", name, ifrauerrors.ErrNotConnected)
	}
	env, err := protocol.NewEvent(name, args...)
	if err != nil {
		return fmt.Errorf("event %q: %w", name, err)
	}
	return p.send(ctx, env)
}

func (p *Port) receiveEvent(env *protocol.Envelope) {
	raw, err := env.EventArgs()
	if err != nil {
		p.metrics.dropped("malformed")
		p.trace(context.Background(), "malformed event", slog.String("key", env.Key), slog.Any("error", err))
		return
	}

	p.mu.Lock()
	handlers := p.eventHandlers.get(env.Key)
	p.mu.Unlock()

	if len(handlers) == 0 {
		p.metrics.dropped("no_handler")
		return
	}
	args := Args(raw)
	for _, h := range handlers {
		p.safely(env.Key, func() { h(args) })
	}
}

// safely runs fn and logs a panic instead of unwinding the channel's
// delivery goroutine.
func (p *Port) safely(key string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithKey(key).Error("event handler panicked", "panic", r)
		}
	}()
	fn()
}
