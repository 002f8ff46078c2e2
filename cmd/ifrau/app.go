package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"github.com/spf13/cobra"

	"github.com/gezibash/ifrau/internal/cli"
	"github.com/gezibash/ifrau/internal/config"
	"github.com/gezibash/ifrau/internal/observability"
	"github.com/gezibash/ifrau/pkg/logging"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/runtime"
)

// Default endpoint ids when the config names none.
const (
	defaultHostID   = "host"
	defaultClientID = "client"
)

// app is what every command runs on: merged config, observability, and a
// runtime that owns the channel.
type app struct {
	cfg config.Config
	obs *observability.Observability
	rt  *runtime.Runtime
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Observability.ServiceVersion == "dev" {
		cfg.Observability.ServiceVersion = version
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	obs, err := observability.New(ctx, cfg.Observability.ObsConfig(), cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(obs.Logger)

	opts := []runtime.Option{
		runtime.WithLogger(logging.New(obs.Logger)),
		// Registered first so it runs after everything else has closed.
		runtime.WithExtension(func(r *runtime.Runtime) error {
			r.OnClose(func() error { return obs.Close(context.Background()) })
			return nil
		}),
	}
	rt, err := runtime.Compose(cmd.Name(), opts...)
	if err != nil {
		_ = obs.Close(context.Background())
		return nil, err
	}
	return &app{cfg: cfg, obs: obs, rt: rt}, nil
}

func (a *app) Close() error { return a.rt.Close() }

// openChannel opens the configured backend's channel and ties it to the
// runtime.
func (a *app) openChannel(id, counterpart string) error {
	return runtime.Channel(a.cfg.Transport.Backend, transportConfig(a.cfg, id, counterpart))(a.rt)
}

func (a *app) output(w io.Writer) *cli.Output {
	return cli.NewOutput(cli.ParseFormat(a.cfg.Output), w)
}

// portOptions wires a port into the app's logging, metrics, and tracing,
// plus the configured debug and filter settings.
func (a *app) portOptions() []port.Option {
	opts := a.obs.PortOptions()
	opts = append(opts, port.WithDebug(a.cfg.Debug))
	if a.cfg.Filter != "" {
		opts = append(opts, port.WithFilter(a.cfg.Filter))
	}
	return opts
}

// transportConfig returns the backend config with role defaults filled in
// where the user gave none.
func transportConfig(cfg config.Config, id, counterpart string) map[string]string {
	out := maps.Clone(cfg.Transport.Config)
	if out == nil {
		out = make(map[string]string)
	}
	if out["id"] == "" {
		out["id"] = id
	}
	if out["counterpart"] == "" {
		out["counterpart"] = counterpart
	}
	return out
}
