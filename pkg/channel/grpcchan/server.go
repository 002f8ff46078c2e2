package grpcchan

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

const (
	serviceName   = "ifrau.channel.v1.Channel"
	connectMethod = "/" + serviceName + "/Connect"
)

type connector interface {
	connect(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*connector)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "ifrau/channel/v1/channel.proto",
}

var connectStreamDesc = &serviceDesc.Streams[0]

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(connector).connect(stream)
}

// Server accepts channel streams from dialing counterparts.
type Server struct {
	self  channel.Endpoint
	grpc  *grpc.Server
	conns chan *Conn
	stop  chan struct{}
}

// NewServer creates a server announcing self to every counterpart.
// Server options such as interceptors are passed through to gRPC.
func NewServer(self channel.Endpoint, opts ...grpc.ServerOption) *Server {
	s := &Server{
		self:  self,
		grpc:  grpc.NewServer(opts...),
		conns: make(chan *Conn, 1),
		stop:  make(chan struct{}),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// GRPC returns the underlying server for registering extra services.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Serve accepts connections on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Accept waits for the next counterpart to connect.
func (s *Server) Accept(ctx context.Context) (*Conn, error) {
	select {
	case c := <-s.conns:
		return c, nil
	case <-s.stop:
		return nil, ifrauerrors.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop closes all streams and the listener.
func (s *Server) Stop() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	s.grpc.Stop()
}

func (s *Server) connect(stream grpc.ServerStream) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	peer := channel.Endpoint{ID: first(md, MDSource), Origin: first(md, MDOrigin)}
	if peer.ID == "" {
		return status.Errorf(codes.InvalidArgument, "missing %s metadata", MDSource)
	}

	if err := stream.SendHeader(metadata.Pairs(MDSource, s.self.ID, MDOrigin, s.self.Origin)); err != nil {
		return err
	}

	c := newConn(s.self, peer, stream.SendMsg)
	select {
	case s.conns <- c:
	default:
		return status.Error(codes.Unavailable, "a counterpart is already waiting to be accepted")
	}

	errc := make(chan error, 1)
	go func() { errc <- c.recvLoop(stream.RecvMsg) }()

	select {
	case err := <-errc:
		return err
	case <-c.Done():
		return nil
	case <-stream.Context().Done():
		c.Close()
		return nil
	}
}

func first(md metadata.MD, key string) string {
	if vs := md.Get(key); len(vs) > 0 {
		return vs[0]
	}
	return ""
}
