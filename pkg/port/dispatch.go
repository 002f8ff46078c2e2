package port

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/protocol"
)

// waitingRequest is an inbound request buffered until it is dispatched.
type waitingRequest struct {
	id   string
	args Args
}

// dispatchJob is one buffered request paired with the handler that answers it.
type dispatchJob struct {
	key     string
	handler Handler
	req     waitingRequest
}

// drain pairs the requests queued under key with key's handler. With no
// handler nothing is dispatched and the queue is returned unchanged; with a
// handler every queued request becomes a job in arrival order and nothing
// remains.
func drain(key string, handlers map[string]Handler, queued []waitingRequest) (jobs []dispatchJob, remaining []waitingRequest) {
	h, ok := handlers[key]
	if !ok {
		return nil, queued
	}
	jobs = make([]dispatchJob, 0, len(queued))
	for _, req := range queued {
		jobs = append(jobs, dispatchJob{key: key, handler: h, req: req})
	}
	return jobs, nil
}

// OnRequest registers the single handler for request type key and
// dispatches any requests already buffered for it. It fails once the port
// is connected or when key already has a handler.
func (p *Port) OnRequest(key string, h Handler) (*Port, error) {
	p.mu.Lock()
	if err := p.checkRegisterLocked("onRequest", key, h); err != nil {
		p.mu.Unlock()
		return p, err
	}
	p.requestHandlers[key] = h
	jobs := p.flushLocked(key)
	p.mu.Unlock()

	p.run(jobs)
	return p, nil
}

func (p *Port) checkRegisterLocked(op, key string, h Handler) error {
	if p.connected {
		return lifecycleError(op, key, ifrauerrors.ErrAlreadyConnected)
	}
	if h == nil {
		return registrationError(op, key, ifrauerrors.ErrInvalidInput, "nil handler")
	}
	if _, dup := p.requestHandlers[key]; dup {
		return registrationError(op, key, ifrauerrors.ErrAlreadyExists, "")
	}
	return nil
}

// flushLocked drains key's queue against the current handlers.
func (p *Port) flushLocked(key string) []dispatchJob {
	jobs, rest := drain(key, p.requestHandlers, p.waiting.get(key))
	p.waiting.set(key, rest)
	p.metrics.waiting(-len(jobs))
	return jobs
}

func (p *Port) receiveRequest(env *protocol.Envelope) {
	rp, err := env.Request()
	if err != nil {
		p.metrics.dropped("malformed")
		p.trace(context.Background(), "malformed request", slog.String("key", env.Key), slog.Any("error", err))
		return
	}

	p.mu.Lock()
	p.waiting.push(env.Key, waitingRequest{id: rp.ID, args: Args(rp.Args)})
	p.metrics.waiting(1)
	jobs := p.flushLocked(env.Key)
	p.mu.Unlock()

	if len(jobs) == 0 {
		p.trace(context.Background(), "buffered request", slog.String("key", env.Key), slog.String("id", rp.ID))
	}
	p.run(jobs)
}

// Waiting returns the number of inbound requests buffered for key.
func (p *Port) Waiting(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting.len(key)
}

func (p *Port) run(jobs []dispatchJob) {
	for _, job := range jobs {
		go p.serve(job)
	}
}

// serve invokes the handler, waits on a deferred result, and posts the response.
func (p *Port) serve(job dispatchJob) {
	ctx, span := p.tracer.Start(context.Background(), "ifrau.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ifrau.key", job.key),
			attribute.String("ifrau.id", job.req.id),
		),
	)
	defer span.End()

	log := p.log.WithKey(job.key).WithCorrelation(job.req.id)

	val, err := p.invoke(ctx, job)
	if err == nil {
		if d, ok := val.(deferred); ok {
			val, err = d.awaitAny(ctx)
		}
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		val = nil
		p.metrics.handlerFailed()
		span.RecordError(err)
		span.SetStatus(codes.Error, errMsg)
		log.WithError(err).WarnContext(ctx, "request handler failed")
	}

	env, encErr := protocol.NewResponse(job.key, job.req.id, val, errMsg)
	if encErr != nil {
		log.ErrorContext(ctx, "encode response", "error", encErr)
		env, _ = protocol.NewResponse(job.key, job.req.id, nil, encErr.Error())
	}
	if err := p.send(ctx, env); err != nil {
		log.ErrorContext(ctx, "send response", "error", err)
	}
}

func (p *Port) invoke(ctx context.Context, job dispatchJob) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return job.handler.ServeRequest(ctx, &Request{
		Key:  job.key,
		ID:   job.req.id,
		Args: job.req.args,
	})
}
