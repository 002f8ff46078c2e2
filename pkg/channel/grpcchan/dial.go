package grpcchan

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/gezibash/ifrau/pkg/channel"
)

// Dial opens a channel stream to the server at target and announces self.
// Without dial options the connection is insecure. ctx bounds only the
// handshake; the stream lives until Close.
func Dial(ctx context.Context, target string, self channel.Endpoint, opts ...grpc.DialOption) (*Conn, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	streamCtx = metadata.AppendToOutgoingContext(streamCtx, MDSource, self.ID, MDOrigin, self.Origin)

	stream, err := cc.NewStream(streamCtx, connectStreamDesc, connectMethod)
	if err != nil {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("open stream %s: %w", target, err)
	}

	type headerResult struct {
		md  metadata.MD
		err error
	}
	hc := make(chan headerResult, 1)
	go func() {
		md, err := stream.Header()
		hc <- headerResult{md, err}
	}()

	var md metadata.MD
	select {
	case r := <-hc:
		if r.err != nil {
			cancel()
			_ = cc.Close()
			return nil, fmt.Errorf("handshake %s: %w", target, r.err)
		}
		md = r.md
	case <-ctx.Done():
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("handshake %s: %w", target, ctx.Err())
	}

	peer := channel.Endpoint{ID: first(md, MDSource), Origin: first(md, MDOrigin)}
	if peer.ID == "" {
		cancel()
		_ = cc.Close()
		return nil, fmt.Errorf("handshake %s: server sent no %s", target, MDSource)
	}

	c := newConn(self, peer, stream.SendMsg)
	c.onClose(func() {
		_ = stream.CloseSend()
		cancel()
		_ = cc.Close()
	})
	go func() { _ = c.recvLoop(stream.RecvMsg) }()
	return c, nil
}
