// Package port implements the ifrau protocol engine: a symmetric endpoint that
// exchanges events, correlated requests and responses, and versioned service
// calls with exactly one counterpart over a channel.
//
// A port moves through three states. New returns a closed port. Open
// subscribes to the channel. Connect ends the registration window: handlers
// may only be added before it, and requests may only be sent after it.
//
//	p, _ := port.New(ch, "https://host.example")
//	p.OnEvent("title", onTitle)
//	p.OnRequest("ping", port.Value("pong"))
//	p.Open()
//	p.Connect()
//	fut, _ := p.Request(ctx, "hello", p.ID())
//	res, err := fut.Await(ctx)
package port

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gezibash/ifrau/internal/cel"
	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/logging"
	"github.com/gezibash/ifrau/pkg/protocol"
)

const tracerName = "github.com/gezibash/ifrau/pkg/port"

// State is the lifecycle state of a port.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Option configures a Port.
type Option func(*Port) error

// WithDebug traces every sent and received message at debug level.
func WithDebug(debug bool) Option {
	return func(p *Port) error {
		p.debug = debug
		return nil
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *logging.Logger) Option {
	return func(p *Port) error {
		if l != nil {
			p.log = l
		}
		return nil
	}
}

// WithMetrics reports to m.
func WithMetrics(m *Metrics) Option {
	return func(p *Port) error {
		p.metrics = m
		return nil
	}
}

// WithTracerProvider sets the provider used for request and dispatch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Port) error {
		if tp != nil {
			p.tracer = tp.Tracer(tracerName)
		}
		return nil
	}
}

// WithFilter drops inbound envelopes for which the CEL expression is false.
// The expression sees kind, key, origin and source.
func WithFilter(expr string) Option {
	return func(p *Port) error {
		if expr == "" {
			return nil
		}
		f, err := cel.CompileEnvelope(expr)
		if err != nil {
			return fmt.Errorf("%w: filter: %v", ifrauerrors.ErrInvalidInput, err)
		}
		p.filter = f
		return nil
	}
}

// Port is one end of an ifrau conversation.
type Port struct {
	id           string
	ch           channel.Channel
	targetOrigin string

	debug   bool
	log     *logging.Logger
	metrics *Metrics
	tracer  trace.Tracer
	filter  *cel.Filter

	// lifeMu serializes Open and Close so a subscription is never stored
	// after the port was closed.
	lifeMu sync.Mutex

	mu              sync.Mutex
	open            bool
	connected       bool
	unsubscribe     func()
	counter         uint64
	eventHandlers   multimap[EventHandler]
	requestHandlers map[string]Handler
	pending         multimap[*pendingRequest]
	waiting         multimap[waitingRequest]
}

// New creates a closed port that talks to ch's counterpart. Outbound
// messages are addressed to targetOrigin; inbound messages must come from
// it unless it is "*".
func New(ch channel.Channel, targetOrigin string, opts ...Option) (*Port, error) {
	if ch == nil {
		return nil, fmt.Errorf("%w: nil channel", ifrauerrors.ErrInvalidInput)
	}
	if targetOrigin == "" {
		return nil, fmt.Errorf("%w: empty target origin", ifrauerrors.ErrInvalidInput)
	}

	p := &Port{
		id:              uuid.NewString(),
		ch:              ch,
		targetOrigin:    targetOrigin,
		tracer:          otel.GetTracerProvider().Tracer(tracerName),
		eventHandlers:   newMultimap[EventHandler](),
		requestHandlers: make(map[string]Handler),
		pending:         newMultimap[*pendingRequest](),
		waiting:         newMultimap[waitingRequest](),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.log == nil {
		p.log = logging.New(nil)
	}
	p.log = p.log.WithComponent("port").WithPort(p.id)
	return p, nil
}

// ID returns the port's unique id.
func (p *Port) ID() string { return p.id }

// TargetOrigin returns the origin outbound messages are addressed to.
func (p *Port) TargetOrigin() string { return p.targetOrigin }

// State returns the current lifecycle state.
func (p *Port) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stateLocked()
}

func (p *Port) stateLocked() State {
	switch {
	case p.connected:
		return StateConnected
	case p.open:
		return StateOpen
	default:
		return StateClosed
	}
}

// IsConnected reports whether Connect has been called since the last Close.
func (p *Port) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Open starts listening for inbound messages.
func (p *Port) Open() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		return lifecycleError("open", "", ifrauerrors.ErrAlreadyOpen)
	}
	p.open = true
	p.mu.Unlock()

	cancel, err := p.ch.Subscribe(p.receive)
	if err != nil {
		p.mu.Lock()
		p.open = false
		p.mu.Unlock()
		return fmt.Errorf("open: subscribe: %w", err)
	}

	p.mu.Lock()
	p.unsubscribe = cancel
	p.mu.Unlock()
	p.trace(context.Background(), "port opened", slog.String("target_origin", p.targetOrigin))
	return nil
}

// Connect closes the registration window and allows outbound requests.
// It does not touch the channel.
func (p *Port) Connect() *Port {
	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	p.trace(context.Background(), "port connected")
	return p
}

// Close stops listening and resets the connection state. Pending requests
// are left unresolved and buffered requests are kept.
func (p *Port) Close() error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return lifecycleError("close", "", ifrauerrors.ErrNotOpen)
	}
	p.open = false
	p.connected = false
	cancel := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.trace(context.Background(), "port closed")
	return nil
}

// receive is the channel subscription callback.
func (p *Port) receive(msg channel.Message) {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()
	if !open {
		return
	}

	env, ok := protocol.Validate(p.targetOrigin, p.ch.Counterpart(), msg)
	if !ok {
		p.metrics.dropped("invalid")
		return
	}
	if p.filter != nil && !p.filter.Match(map[string]any{
		"kind":   string(env.Kind),
		"key":    env.Key,
		"origin": msg.Origin,
		"source": msg.Source,
	}) {
		p.metrics.dropped("filtered")
		p.trace(context.Background(), "filtered message", slog.String("type", string(env.Kind)), slog.String("key", env.Key))
		return
	}

	p.trace(context.Background(), "received message", slog.String("type", string(env.Kind)), slog.String("key", env.Key))

	switch env.Kind {
	case protocol.KindEvent:
		p.metrics.received(env.Kind)
		p.receiveEvent(env)
	case protocol.KindRequest:
		p.metrics.received(env.Kind)
		p.receiveRequest(env)
	case protocol.KindResponse:
		p.metrics.received(env.Kind)
		p.receiveResponse(env)
	default:
		p.metrics.dropped("unknown_type")
		p.trace(context.Background(), "unknown message type", slog.String("type", string(env.Kind)))
	}
}

// send encodes env and posts it to the counterpart.
func (p *Port) send(ctx context.Context, env *protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", env.Kind, env.Key, err)
	}
	p.trace(ctx, "sending message", slog.String("type", string(env.Kind)), slog.String("key", env.Key))
	if err := p.ch.Post(ctx, data, p.targetOrigin); err != nil {
		return fmt.Errorf("post %s %q: %w", env.Kind, env.Key, err)
	}
	p.metrics.sent(env.Kind)
	return nil
}

func (p *Port) trace(ctx context.Context, msg string, args ...any) {
	if !p.debug {
		return
	}
	p.log.DebugContext(ctx, msg, args...)
}

func (p *Port) nextID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counter++
	return fmt.Sprintf("%s_%d", p.id, p.counter)
}
