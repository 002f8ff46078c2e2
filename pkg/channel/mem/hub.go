package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/gezibash/ifrau/pkg/channel"
)

const (
	KeyName        = "name"
	KeyID          = "id"
	KeyOrigin      = "origin"
	KeyCounterpart = "counterpart"
)

func init() {
	channel.Register("mem", NewFactory, Defaults)
}

// Defaults returns the default configuration for the mem backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyName:   "default",
		KeyOrigin: "",
	}
}

// NewFactory joins the named in-process pipe described by config.
func NewFactory(_ context.Context, config map[string]string) (channel.Channel, error) {
	ep, err := channel.EndpointFrom("mem", config)
	if err != nil {
		return nil, err
	}
	counterpart := channel.GetString(config, KeyCounterpart, "")
	if counterpart == "" {
		return nil, channel.NewConfigError("mem", KeyCounterpart, "is required")
	}
	return Join(channel.GetString(config, KeyName, "default"), ep, counterpart)
}

var hub = struct {
	mu    sync.Mutex
	pipes map[string][]*Side
}{pipes: make(map[string][]*Side)}

// Join attaches ep to the named pipe. The first side to join waits for the
// second; posts made before the second side joins are dropped.
func Join(name string, ep channel.Endpoint, counterpart string) (*Side, error) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	sides := hub.pipes[name]
	if len(sides) >= 2 {
		return nil, fmt.Errorf("mem pipe %q already has two sides", name)
	}

	if len(sides) == 1 {
		other := sides[0]
		if other.counterpart != ep.ID || counterpart != other.self.ID {
			return nil, fmt.Errorf("mem pipe %q: endpoint %q does not match waiting side %q", name, ep.ID, other.self.ID)
		}
	}

	s := newSide(ep, counterpart)
	s.onClose = func() { leave(name, s) }
	if len(sides) == 1 {
		s.link(sides[0])
		sides[0].link(s)
	}
	hub.pipes[name] = append(sides, s)
	return s, nil
}

func leave(name string, s *Side) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	sides := hub.pipes[name]
	kept := sides[:0]
	for _, other := range sides {
		if other != s {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(hub.pipes, name)
		return
	}
	hub.pipes[name] = kept
}
