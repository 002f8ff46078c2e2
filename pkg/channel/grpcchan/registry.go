package grpcchan

import (
	"context"
	"fmt"
	"net"

	"github.com/gezibash/ifrau/pkg/channel"
)

const (
	KeyMode   = "mode"
	KeyAddr   = "addr"
	KeyID     = "id"
	KeyOrigin = "origin"

	ModeDial   = "dial"
	ModeListen = "listen"

	DefaultAddr = "127.0.0.1:7420"
)

func init() {
	channel.Register("grpc", NewFactory, Defaults)
}

// Defaults returns the default configuration for the grpc backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyMode: ModeDial,
		KeyAddr: DefaultAddr,
	}
}

// NewFactory dials or listens according to config. In listen mode it
// blocks until the first counterpart connects or ctx ends, and closing the
// returned channel stops the server.
func NewFactory(ctx context.Context, config map[string]string) (channel.Channel, error) {
	self, err := channel.EndpointFrom("grpc", config)
	if err != nil {
		return nil, err
	}
	addr := channel.GetString(config, KeyAddr, DefaultAddr)

	switch mode := channel.GetString(config, KeyMode, ModeDial); mode {
	case ModeDial:
		return Dial(ctx, addr, self)
	case ModeListen:
		return listenOnce(ctx, addr, self)
	default:
		return nil, channel.NewConfigError("grpc", KeyMode, fmt.Sprintf("unknown mode %q (want %s or %s)", mode, ModeDial, ModeListen))
	}
}

func listenOnce(ctx context.Context, addr string, self channel.Endpoint) (*Conn, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := NewServer(self)
	go func() { _ = srv.Serve(lis) }()

	c, err := srv.Accept(ctx)
	if err != nil {
		srv.Stop()
		return nil, err
	}
	c.onClose(srv.Stop)
	return c, nil
}
