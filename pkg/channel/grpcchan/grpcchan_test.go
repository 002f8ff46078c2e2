package grpcchan

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

const bufSize = 1024 * 1024

var (
	hostEP   = channel.Endpoint{ID: "host-1", Origin: "https://host.example"}
	clientEP = channel.Endpoint{ID: "client-1", Origin: "https://client.example"}
)

func setupPair(t *testing.T) (host, client *Conn) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	srv := NewServer(hostEP)
	go func() {
		if err := srv.Serve(lis); err != nil {
			t.Logf("server exited: %v", err)
		}
	}()
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	client, err := Dial(ctx, "passthrough://bufnet", clientEP,
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	host, err = srv.Accept(ctx)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { host.Close() })
	return host, client
}

func receiveOne(t *testing.T, c *Conn) <-chan channel.Message {
	t.Helper()
	got := make(chan channel.Message, 4)
	if _, err := c.Subscribe(func(m channel.Message) { got <- m }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return got
}

func waitMessage(t *testing.T, ch <-chan channel.Message) channel.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no message")
		return channel.Message{}
	}
}

func TestHandshakeExchangesEndpoints(t *testing.T) {
	host, client := setupPair(t)

	if host.Peer() != clientEP {
		t.Errorf("host peer = %+v", host.Peer())
	}
	if client.Peer() != hostEP {
		t.Errorf("client peer = %+v", client.Peer())
	}
	if client.Counterpart() != hostEP.ID || host.Counterpart() != clientEP.ID {
		t.Error("counterparts not exchanged")
	}
}

func TestPostBothDirections(t *testing.T) {
	host, client := setupPair(t)
	ctx := context.Background()

	hostIn := receiveOne(t, host)
	clientIn := receiveOne(t, client)

	if err := client.Post(ctx, []byte("to host"), hostEP.Origin); err != nil {
		t.Fatalf("client post: %v", err)
	}
	m := waitMessage(t, hostIn)
	if string(m.Data) != "to host" || m.Source != clientEP.ID || m.Origin != clientEP.Origin {
		t.Fatalf("host got %+v", m)
	}

	if err := host.Post(ctx, []byte("to client"), channel.Wildcard); err != nil {
		t.Fatalf("host post: %v", err)
	}
	m = waitMessage(t, clientIn)
	if string(m.Data) != "to client" || m.Source != hostEP.ID {
		t.Fatalf("client got %+v", m)
	}
}

func TestFramesBeforeSubscribeAreHeld(t *testing.T) {
	host, client := setupPair(t)
	ctx := context.Background()

	if err := client.Post(ctx, []byte("early"), channel.Wildcard); err != nil {
		t.Fatal(err)
	}
	m := waitMessage(t, receiveOne(t, host))
	if string(m.Data) != "early" {
		t.Fatalf("got %q", m.Data)
	}
}

func TestPostToWrongOriginIsDropped(t *testing.T) {
	host, client := setupPair(t)
	ctx := context.Background()
	hostIn := receiveOne(t, host)

	if err := client.Post(ctx, []byte("wrong"), "https://elsewhere.example"); err != nil {
		t.Fatal(err)
	}
	if err := client.Post(ctx, []byte("right"), hostEP.Origin); err != nil {
		t.Fatal(err)
	}
	if m := waitMessage(t, hostIn); string(m.Data) != "right" {
		t.Fatalf("first delivered = %q", m.Data)
	}
}

func TestCloseEndsPeer(t *testing.T) {
	host, client := setupPair(t)
	receiveOne(t, host)

	client.Close()
	if err := client.Post(context.Background(), []byte("x"), channel.Wildcard); !errors.Is(err, ifrauerrors.ErrClosed) {
		t.Fatalf("post after close: err = %v", err)
	}
	select {
	case <-host.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("host side did not observe close")
	}
}

func TestAcceptAfterStop(t *testing.T) {
	srv := NewServer(hostEP)
	srv.Stop()
	if _, err := srv.Accept(context.Background()); !errors.Is(err, ifrauerrors.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
}

func TestFactoryConfig(t *testing.T) {
	ctx := context.Background()
	if _, err := NewFactory(ctx, map[string]string{KeyMode: ModeDial}); err == nil {
		t.Error("missing id accepted")
	}
	var ce *channel.ConfigError
	_, err := NewFactory(ctx, map[string]string{KeyID: "x", KeyMode: "carrier-pigeon"})
	if !errors.As(err, &ce) || ce.Field != KeyMode {
		t.Errorf("bad mode: err = %v", err)
	}
	if !channel.IsRegistered("grpc") {
		t.Error("grpc backend not registered")
	}
}
