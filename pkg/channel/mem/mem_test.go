package mem

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

var (
	hostEP   = channel.Endpoint{ID: "host", Origin: "https://host.example"}
	clientEP = channel.Endpoint{ID: "client", Origin: "https://client.example"}
)

func collect(t *testing.T, s *Side) <-chan channel.Message {
	t.Helper()
	ch := make(chan channel.Message, 8)
	if _, err := s.Subscribe(func(m channel.Message) { ch <- m }); err != nil {
		t.Fatal(err)
	}
	return ch
}

func next(t *testing.T, ch <-chan channel.Message) channel.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return channel.Message{}
	}
}

func TestPipeDelivers(t *testing.T) {
	h, c := Pipe(hostEP, clientEP)
	defer h.Close()
	defer c.Close()

	if h.Counterpart() != "client" || c.Counterpart() != "host" {
		t.Fatalf("counterparts = %q, %q", h.Counterpart(), c.Counterpart())
	}

	in := collect(t, h)
	data := []byte("hi")
	if err := c.Post(context.Background(), data, hostEP.Origin); err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'

	m := next(t, in)
	if string(m.Data) != "hi" {
		t.Fatalf("data = %q, posted buffer was not copied", m.Data)
	}
	if m.Source != "client" || m.Origin != clientEP.Origin {
		t.Fatalf("msg = %+v", m)
	}
}

func TestPostRespectsTargetOrigin(t *testing.T) {
	h, c := Pipe(hostEP, clientEP)
	defer h.Close()
	defer c.Close()
	in := collect(t, h)
	ctx := context.Background()

	c.Post(ctx, []byte("lost"), "https://other.example")
	c.Post(ctx, []byte("kept"), channel.Wildcard)
	if m := next(t, in); string(m.Data) != "kept" {
		t.Fatalf("first message = %q", m.Data)
	}
}

func TestUnsubscribe(t *testing.T) {
	h, c := Pipe(hostEP, clientEP)
	defer h.Close()
	defer c.Close()

	dropped := make(chan channel.Message, 1)
	cancel, _ := h.Subscribe(func(m channel.Message) { dropped <- m })
	cancel()
	in := collect(t, h)

	c.Post(context.Background(), []byte("x"), channel.Wildcard)
	next(t, in)
	select {
	case <-dropped:
		t.Fatal("cancelled subscriber still called")
	default:
	}
}

func TestClosedSide(t *testing.T) {
	h, c := Pipe(hostEP, clientEP)
	h.Close()
	defer c.Close()

	if err := h.Post(context.Background(), []byte("x"), channel.Wildcard); !errors.Is(err, ifrauerrors.ErrClosed) {
		t.Fatalf("post: err = %v", err)
	}
	if _, err := h.Subscribe(func(channel.Message) {}); !errors.Is(err, ifrauerrors.ErrClosed) {
		t.Fatalf("subscribe: err = %v", err)
	}
	if err := c.Post(context.Background(), []byte("x"), channel.Wildcard); err != nil {
		t.Fatalf("post to closed peer: err = %v", err)
	}
}

func TestJoinPairsNamedSides(t *testing.T) {
	name := t.Name()
	h, err := Join(name, hostEP, clientEP.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if _, err := Join(name, channel.Endpoint{ID: "stranger"}, hostEP.ID); err == nil {
		t.Fatal("mismatched endpoint joined")
	}

	c, err := Join(name, clientEP, hostEP.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := Join(name, clientEP, hostEP.ID); err == nil {
		t.Fatal("third side joined")
	}

	in := collect(t, h)
	c.Post(context.Background(), []byte("joined"), channel.Wildcard)
	if m := next(t, in); string(m.Data) != "joined" {
		t.Fatalf("got %q", m.Data)
	}
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	if _, err := channel.New(ctx, "mem", map[string]string{KeyID: "a"}); err == nil {
		t.Fatal("missing counterpart accepted")
	}

	name := t.Name()
	a, err := channel.New(ctx, "mem", map[string]string{KeyName: name, KeyID: "a", KeyCounterpart: "b"})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := channel.New(ctx, "mem", map[string]string{KeyName: name, KeyID: "b", KeyCounterpart: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	if a.Counterpart() != "b" || b.Counterpart() != "a" {
		t.Fatal("factory sides not paired")
	}
}
