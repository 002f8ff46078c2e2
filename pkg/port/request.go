package port

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/protocol"
)

// pendingRequest is an outbound request awaiting its response.
type pendingRequest struct {
	id     string
	future *Future[Result]
	start  time.Time
	span   trace.Span
}

// Request sends a request of type key and returns a future for the
// response. It fails synchronously unless the port is connected. The
// future never resolves if the counterpart does not answer; bound the wait
// with the context passed to Await.
func (p *Port) Request(ctx context.Context, key string, args ...any) (*Future[Result], error) {
	if !p.IsConnected() {
		return nil, lifecycleError("request", key, ifrauerrors.ErrNotConnected)
	}
	return p.requestRaw(ctx, key, args...)
}

// requestRaw sends a request without the connected check.
func (p *Port) requestRaw(ctx context.Context, key string, args ...any) (*Future[Result], error) {
	id := p.nextID()
	env, err := protocol.NewRequest(key, id, args...)
	if err != nil {
		return nil, err
	}

	_, span := p.tracer.Start(ctx, "ifrau.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ifrau.key", key),
			attribute.String("ifrau.id", id),
		),
	)

	pr := &pendingRequest{
		id:     id,
		future: newFuture[Result](),
		start:  time.Now(),
		span:   span,
	}
	p.mu.Lock()
	p.pending.push(key, pr)
	p.mu.Unlock()
	p.metrics.pending(1)

	if err := p.send(ctx, env); err != nil {
		p.mu.Lock()
		_, removed := p.pending.take(key, func(x *pendingRequest) bool { return x == pr })
		p.mu.Unlock()
		if removed {
			p.metrics.pending(-1)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return pr.future, nil
}

func (p *Port) receiveResponse(env *protocol.Envelope) {
	rp, err := env.Response()
	if err != nil {
		p.metrics.dropped("malformed")
		p.trace(context.Background(), "malformed response", slog.String("key", env.Key), slog.Any("error", err))
		return
	}

	p.mu.Lock()
	pr, ok := p.pending.take(env.Key, func(x *pendingRequest) bool { return x.id == rp.ID })
	p.mu.Unlock()
	if !ok {
		p.metrics.dropped("unmatched")
		p.trace(context.Background(), "unmatched response", slog.String("key", env.Key), slog.String("id", rp.ID))
		return
	}
	p.metrics.pending(-1)

	var (
		res  Result
		rerr error
	)
	if rp.Err != "" {
		rerr = &RemoteError{Key: env.Key, ID: rp.ID, Message: rp.Err}
		pr.span.SetStatus(codes.Error, rp.Err)
	} else {
		res = Result{raw: rp.Val}
	}
	pr.span.End()
	p.metrics.completed(pr.start, rerr)
	pr.future.resolve(res, rerr)
}

// Pending returns the number of outbound requests awaiting a response.
func (p *Port) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.total()
}
