// Package middleware gates channel streams with ordered hooks that run when
// a counterpart opens a stream and after it ends.
package middleware

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/gezibash/ifrau/pkg/channel"
	"github.com/gezibash/ifrau/pkg/channel/grpcchan"
)

// CallInfo describes a stream for hook processing.
type CallInfo struct {
	FullMethod string
	// Peer is the endpoint the counterpart announced in stream metadata.
	Peer channel.Endpoint
	// Err is the stream's result. Only post-hooks see it.
	Err error
}

// Hook processes a call. Return a gRPC status error to reject.
type Hook func(ctx context.Context, info *CallInfo) (context.Context, error)

// Chain holds ordered pre and post hooks.
type Chain struct {
	Pre  []Hook
	Post []Hook
}

// RunPre executes pre-hooks in order. Stops on first error.
func (c *Chain) RunPre(ctx context.Context, info *CallInfo) (context.Context, error) {
	return run(ctx, c.Pre, info)
}

// RunPost executes post-hooks in order. Stops on first error.
func (c *Chain) RunPost(ctx context.Context, info *CallInfo) (context.Context, error) {
	return run(ctx, c.Post, info)
}

func run(ctx context.Context, hooks []Hook, info *CallInfo) (context.Context, error) {
	for _, h := range hooks {
		var err error
		ctx, err = h(ctx, info)
		if err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// StreamServerInterceptor runs the chain around every stream. A pre-hook
// error rejects the stream before the channel sees it. Post-hooks always
// run, with the rejection or the stream's result in CallInfo.Err; their
// own errors are dropped.
func (c *Chain) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()
		md, _ := metadata.FromIncomingContext(ctx)
		call := &CallInfo{
			FullMethod: info.FullMethod,
			Peer: channel.Endpoint{
				ID:     first(md, grpcchan.MDSource),
				Origin: first(md, grpcchan.MDOrigin),
			},
		}

		ctx, err := c.RunPre(ctx, call)
		if err == nil {
			err = handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
		}
		call.Err = err
		_, _ = c.RunPost(ctx, call)
		return err
	}
}

// RequireOrigin rejects counterparts whose announced origin differs from
// origin, unless origin is the wildcard.
func RequireOrigin(origin string) Hook {
	return func(ctx context.Context, info *CallInfo) (context.Context, error) {
		if !channel.OriginAllowed(origin, info.Peer.Origin) {
			return ctx, status.Errorf(codes.PermissionDenied, "origin %q not accepted", info.Peer.Origin)
		}
		return ctx, nil
	}
}

// OnlyOne rejects a stream while another accepted one is still open.
func OnlyOne() (pre, post Hook) {
	sem := make(chan struct{}, 1)
	pre = func(ctx context.Context, _ *CallInfo) (context.Context, error) {
		select {
		case sem <- struct{}{}:
			return context.WithValue(ctx, slotKey{}, true), nil
		default:
			return ctx, status.Error(codes.ResourceExhausted, "a counterpart is already attached")
		}
	}
	post = func(ctx context.Context, _ *CallInfo) (context.Context, error) {
		if held, _ := ctx.Value(slotKey{}).(bool); held {
			<-sem
		}
		return ctx, nil
	}
	return pre, post
}

type slotKey struct{}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context { return w.ctx }

func first(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}
