package client_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/gezibash/ifrau/pkg/channel"
	"github.com/gezibash/ifrau/pkg/channel/mem"
	"github.com/gezibash/ifrau/pkg/client"
	"github.com/gezibash/ifrau/pkg/port"
	"github.com/gezibash/ifrau/pkg/protocol"
)

func setup(t *testing.T, hello port.Handler) *client.Client {
	t.Helper()
	hs, cs := mem.Pipe(
		channel.Endpoint{ID: "host", Origin: "https://host.example"},
		channel.Endpoint{ID: "frame", Origin: "https://client.example"},
	)
	t.Cleanup(func() {
		hs.Close()
		cs.Close()
	})

	hp, err := port.New(hs, "https://client.example")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := hp.OnRequest(protocol.Hello, hello); err != nil {
		t.Fatal(err)
	}
	if err := hp.Open(); err != nil {
		t.Fatal(err)
	}

	c, err := client.New(cs)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestConnectSendsOwnID(t *testing.T) {
	got := make(chan string, 1)
	c := setup(t, port.HandlerFunc(func(_ context.Context, req *port.Request) (any, error) {
		got <- req.Args.String(0)
		return req.Args.String(0), nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if id := <-got; id != c.ID() {
		t.Fatalf("hello carried %q, want %q", id, c.ID())
	}
	if c.Port().TargetOrigin() != channel.Wildcard {
		t.Fatalf("target origin = %q", c.Port().TargetOrigin())
	}
}

func TestConnectRejectsWrongEcho(t *testing.T) {
	c := setup(t, port.Value("someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Connect(ctx)
	if err == nil || !strings.Contains(err.Error(), "echoed") {
		t.Fatalf("err = %v", err)
	}
	if s := c.Port().State(); s != port.StateClosed {
		t.Fatalf("state after failed handshake = %v, want closed", s)
	}

	// The port was rolled back, so a retry runs the handshake again.
	err = c.Connect(ctx)
	if err == nil || !strings.Contains(err.Error(), "echoed") {
		t.Fatalf("retry: err = %v", err)
	}
}

func TestConnectTwiceFails(t *testing.T) {
	c := setup(t, port.HandlerFunc(func(_ context.Context, req *port.Request) (any, error) {
		return req.Args.String(0), nil
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Connect(ctx); !port.IsLifecycle(err) {
		t.Fatalf("second connect: err = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNewToTargetsOrigin(t *testing.T) {
	a, b := mem.Pipe(channel.Endpoint{ID: "a", Origin: "https://a.example"}, channel.Endpoint{ID: "b", Origin: "https://b.example"})
	defer a.Close()
	defer b.Close()

	c, err := client.NewTo(a, "https://b.example")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Port().TargetOrigin(); got != "https://b.example" {
		t.Fatalf("target origin = %q", got)
	}
	c, err = client.NewTo(a, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Port().TargetOrigin(); got != channel.Wildcard {
		t.Fatalf("empty target origin = %q, want *", got)
	}
}
