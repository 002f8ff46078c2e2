package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/gezibash/ifrau/internal/config"
	"github.com/gezibash/ifrau/internal/middleware"
	"github.com/gezibash/ifrau/internal/observability"
	"github.com/gezibash/ifrau/pkg/channel"
	"github.com/gezibash/ifrau/pkg/channel/grpcchan"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
	"github.com/gezibash/ifrau/pkg/host"
	"github.com/gezibash/ifrau/pkg/logging"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/protocol"
	"github.com/gezibash/ifrau/pkg/runtime"
)

func newHostCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run the host role",
		Long: `Run the host role: wait for a client's hello, then serve requests
until the client goes away.

The host only accepts messages from the origin of --src. It answers "ping",
logs "navigate" and "title" events, and exposes the "system" service
(version 1: echo, time, id).

With the grpc backend the host listens on --addr and serves one client
after another; other backends serve a single session.

Examples:
  ifrau host --src https://app.example/index.html
  ifrau host --src https://app.example --addr :7420 --metrics-addr :9090
  ifrau host --src https://app.example --backend redis --id host --counterpart client`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if a.cfg.Src == "" {
				return fmt.Errorf("--src is required")
			}
			if addr := a.cfg.Observability.MetricsAddr; addr != "" {
				a.obs.ServeMetrics(a.rt.Context(), addr)
			}

			if a.cfg.Transport.Backend == "grpc" {
				return a.listen(once)
			}
			if err := a.openChannel(defaultHostID, defaultClientID); err != nil {
				return err
			}
			return a.session(a.rt.Context(), runtime.ChannelFrom(a.rt), nil)
		},
	}

	config.AddHostFlags(cmd)
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first client disconnects (grpc)")
	return cmd
}

// listen serves host sessions over gRPC, one accepted stream at a time.
func (a *app) listen(once bool) error {
	ctx := a.rt.Context()
	log := a.rt.Log()

	tc := transportConfig(a.cfg, defaultHostID, "")
	self, err := channel.EndpointFrom("grpc", tc)
	if err != nil {
		return err
	}
	addr := channel.GetString(tc, grpcchan.KeyAddr, grpcchan.DefaultAddr)

	origin, ok := protocol.TryGetOrigin(a.cfg.Src)
	if !ok {
		return fmt.Errorf("%w: unable to extract origin from %q", ifrauerrors.ErrInvalidInput, a.cfg.Src)
	}
	onePre, onePost := middleware.OnlyOne()
	gate := &middleware.Chain{
		Pre: []middleware.Hook{middleware.RequireOrigin(origin), onePre},
		Post: []middleware.Hook{onePost, func(ctx context.Context, info *middleware.CallInfo) (context.Context, error) {
			if info.Err != nil {
				log.Debug("stream refused or failed", "peer", info.Peer.ID, "origin", info.Peer.Origin, "error", info.Err)
			}
			return ctx, nil
		}},
	}

	srv := grpcchan.NewServer(self, grpc.ChainStreamInterceptor(
		observability.StreamServerInterceptor(a.obs.Metrics),
		gate.StreamServerInterceptor(),
	))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv.GRPC(), hs)

	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(lis) }()
	defer srv.Stop()

	log.Info("host listening", "addr", lis.Addr().String(), "src", a.cfg.Src)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	defer hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	for {
		conn, err := srv.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case serveErr := <-errCh:
				return serveErr
			default:
			}
			return err
		}

		log.Info("client attached", "peer", conn.Peer().ID, "origin", conn.Peer().Origin)
		err = a.session(ctx, conn, conn.Done())
		_ = conn.Close()
		if err != nil {
			log.Warn("session ended", "error", err)
		}
		if once || ctx.Err() != nil {
			return nil
		}
	}
}

// session runs one host conversation on ch until ctx ends or done closes.
// A nil done means the session lasts as long as ctx.
func (a *app) session(ctx context.Context, ch channel.Channel, done <-chan struct{}) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if done != nil {
		go func() {
			select {
			case <-done:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	op, ctx := observability.StartOperation(ctx, a.obs.Metrics, "host.session",
		attribute.String("src", a.cfg.Src),
		attribute.String("counterpart", ch.Counterpart()))
	defer func() { op.End(err) }()

	h, err := newHost(ch, a.cfg.Src, a.rt.Log(), a.portOptions()...)
	if err != nil {
		return err
	}
	defer func() { _ = h.Close() }()

	if err := h.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			// Shut down or detached before saying hello.
			return nil
		}
		return fmt.Errorf("wait for hello: %w", err)
	}
	a.rt.Log().Info("client connected", "origin", h.Origin())

	<-ctx.Done()
	if isDetached(done) {
		a.rt.Log().Info("client detached")
	}
	return nil
}

func isDetached(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// newHost builds a host role with the built-in handlers registered.
func newHost(ch channel.Channel, src string, log *logging.Logger, opts ...port.Option) (*host.Host, error) {
	h, err := host.New(ch, src, logWindow{log: log.WithComponent("window")}, opts...)
	if err != nil {
		return nil, err
	}
	p := h.Port()
	if _, err := p.OnRequest("ping", port.Value("pong")); err != nil {
		return nil, err
	}
	sys := &systemService{id: p.ID(), started: time.Now()}
	methods, err := port.Methods(sys)
	if err != nil {
		return nil, err
	}
	methods["id"] = port.HandlerFunc(func(context.Context, *port.Request) (any, error) {
		return sys.info(), nil
	})
	if _, err := p.RegisterService("system", "1", methods); err != nil {
		return nil, err
	}
	return h, nil
}

// logWindow stands in for a browser window: it logs what the client asks.
type logWindow struct {
	log *logging.Logger
}

func (w logWindow) Navigate(url string)   { w.log.Info("navigate", "url", url) }
func (w logWindow) SetTitle(title string) { w.log.Info("title", "title", title) }

// systemService is exposed as service "system" version "1".
type systemService struct {
	id      string
	started time.Time
}

// Echo returns its argument unchanged.
func (s *systemService) Echo(v any) any { return v }

// Time returns the host's clock in RFC 3339 with nanoseconds.
func (s *systemService) Time() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func (s *systemService) info() systemInfo {
	return systemInfo{
		Port:    s.id,
		Version: version,
		Uptime:  time.Since(s.started).Round(time.Millisecond).String(),
	}
}

type systemInfo struct {
	Port    string `json:"port"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}
