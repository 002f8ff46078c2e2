package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/gezibash/ifrau/internal/cli"
	"github.com/gezibash/ifrau/internal/config"
	"github.com/gezibash/ifrau/internal/observability"
	"github.com/gezibash/ifrau/pkg/client"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/runtime"
)

const defaultTimeout = 10 * time.Second

// clientFunc does one thing with a connected client and renders the
// outcome to out.
type clientFunc func(ctx context.Context, c *client.Client, args []string, out *cli.Output) error

// newClientCmd builds a command that connects as a client, runs fn, and
// disconnects.
func newClientCmd(use, short, long string, args cobra.PositionalArgs, fn clientFunc) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			ctx, cancel := context.WithTimeout(a.rt.Context(), timeout)
			defer cancel()

			op, ctx := observability.StartOperation(ctx, a.obs.Metrics, "client."+cmd.Name(),
				attribute.String("backend", a.cfg.Transport.Backend),
				attribute.String("target_origin", a.cfg.TargetOrigin))
			err = a.runClient(ctx, args, a.output(cmd.OutOrStdout()), fn)
			op.End(err)
			return err
		},
	}

	config.AddClientFlags(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "how long to wait for the host")
	return cmd
}

func (a *app) runClient(ctx context.Context, args []string, out *cli.Output, fn clientFunc) error {
	if err := a.openChannel(defaultClientID, defaultHostID); err != nil {
		return err
	}
	c, err := client.NewTo(runtime.ChannelFrom(a.rt), a.cfg.TargetOrigin, a.portOptions()...)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	a.rt.Log().Debug("connected", "port", c.ID())
	return fn(ctx, c, args, out)
}

func newCallCmd() *cobra.Command {
	return newClientCmd("call TYPE [ARGS...]", "Send a request and print the response",
		`Send a request of TYPE to the host and print the response value as JSON.

Examples:
  ifrau call ping
  ifrau call service:system:1:echo '{"a":1}'`,
		cobra.MinimumNArgs(1), call)
}

func newEmitCmd() *cobra.Command {
	return newClientCmd("emit EVENT [ARGS...]", "Send an event",
		`Send EVENT to the host. Hosts understand "navigate" and "title".

Examples:
  ifrau emit title "Inbox (3)"
  ifrau emit navigate https://app.example/settings`,
		cobra.MinimumNArgs(1), emit)
}

func newInvokeCmd() *cobra.Command {
	return newClientCmd("invoke SERVICE VERSION METHOD [ARGS...]", "Call a host service method",
		`Look up SERVICE at VERSION, then call METHOD and print its result as JSON.

Examples:
  ifrau invoke system 1 time
  ifrau invoke system 1 echo '[1,2,3]'`,
		cobra.MinimumNArgs(3), invoke)
}

func newDescribeCmd() *cobra.Command {
	return newClientCmd("describe SERVICE VERSION", "List a host service's methods",
		`Print the methods SERVICE exposes at VERSION with their request keys.`,
		cobra.ExactArgs(2), describe)
}

func call(ctx context.Context, c *client.Client, args []string, out *cli.Output) error {
	fut, err := c.Request(ctx, args[0], parseArgs(args[1:])...)
	if err != nil {
		return err
	}
	res, err := fut.Await(ctx)
	if err != nil {
		return err
	}
	return out.Value("response", args[0], res.Raw()).Render()
}

func emit(ctx context.Context, c *client.Client, args []string, _ *cli.Output) error {
	return c.Port().SendEvent(ctx, args[0], parseArgs(args[1:])...)
}

func invoke(ctx context.Context, c *client.Client, args []string, out *cli.Output) error {
	name, version, method := args[0], args[1], args[2]
	svc, err := lookup(ctx, c, name, version)
	if err != nil {
		return err
	}
	res, err := svc.Call(ctx, method, parseArgs(args[3:])...)
	if err != nil {
		return err
	}
	return out.Value("response", port.MethodKey(name, version, method), res.Raw()).Render()
}

func describe(ctx context.Context, c *client.Client, args []string, out *cli.Output) error {
	name, version := args[0], args[1]
	svc, err := lookup(ctx, c, name, version)
	if err != nil {
		return err
	}
	t := out.Table("service", "Method", "Key")
	for _, m := range svc.Methods() {
		t.AddRow(m, port.MethodKey(name, version, m))
	}
	return t.Render()
}

func lookup(ctx context.Context, c *client.Client, name, version string) (*port.Service, error) {
	fut, err := c.GetService(ctx, name, version)
	if err != nil {
		return nil, err
	}
	return fut.Await(ctx)
}

// parseArgs treats each argument as JSON and falls back to a plain string
// when it does not parse.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if json.Valid([]byte(a)) {
			out[i] = json.RawMessage(a)
		} else {
			out[i] = a
		}
	}
	return out
}
