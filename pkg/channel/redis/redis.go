// Package redis carries a channel over Redis pub/sub. Each endpoint
// subscribes to "<prefix><id>" and publishes to its counterpart's topic, so
// two processes sharing a Redis can talk without a direct connection.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gezibash/ifrau/pkg/channel"
	ifrauerrors "github.com/gezibash/ifrau/pkg/errors"
)

const (
	KeyAddr        = "addr"
	KeyPassword    = "password"
	KeyDB          = "db"
	KeyDialTimeout = "dial_timeout"
	KeyKeyPrefix   = "key_prefix"
	KeyID          = "id"
	KeyOrigin      = "origin"
	KeyCounterpart = "counterpart"

	defaultPrefix = "ifrau:"
)

func init() {
	channel.Register("redis", NewFactory, Defaults)
}

// Defaults returns the default configuration for the redis backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAddr:        "localhost:6379",
		KeyPassword:    "",
		KeyDB:          "0",
		KeyDialTimeout: "5s",
		KeyKeyPrefix:   defaultPrefix,
	}
}

// NewFactory connects to Redis and subscribes the endpoint described by config.
func NewFactory(ctx context.Context, config map[string]string) (channel.Channel, error) {
	addr := channel.GetString(config, KeyAddr, "")
	if addr == "" {
		return nil, channel.NewConfigError("redis", KeyAddr, "cannot be empty")
	}
	self, err := channel.EndpointFrom("redis", config)
	if err != nil {
		return nil, err
	}
	counterpart := channel.GetString(config, KeyCounterpart, "")
	if counterpart == "" {
		return nil, channel.NewConfigError("redis", KeyCounterpart, "is required")
	}
	db, err := channel.GetInt(config, KeyDB, 0)
	if err != nil {
		return nil, err
	}
	if db < 0 {
		return nil, &channel.ConfigError{Backend: "redis", Field: KeyDB, Value: config[KeyDB], Message: "must be non-negative"}
	}
	dialTimeout, err := channel.GetDuration(config, KeyDialTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    channel.GetString(config, KeyPassword, ""),
		DB:          db,
		DialTimeout: dialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &channel.ConfigError{Backend: "redis", Field: KeyAddr, Value: addr, Message: "failed to connect", Cause: err}
	}

	c, err := NewWithClient(ctx, client, channel.GetString(config, KeyKeyPrefix, defaultPrefix), self, counterpart)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	c.ownsClient = true
	slog.Info("redis channel subscribed", "addr", addr, "topic", c.topic(self.ID))
	return c, nil
}

// frame is the pub/sub payload.
type frame struct {
	Source       string `json:"source"`
	Origin       string `json:"origin"`
	TargetOrigin string `json:"target_origin"`
	Data         []byte `json:"data"`
}

// Channel is a Redis pub/sub channel endpoint.
type Channel struct {
	client      *redis.Client
	ownsClient  bool
	pubsub      *redis.PubSub
	prefix      string
	self        channel.Endpoint
	counterpart string

	mu      sync.Mutex
	subs    map[uint64]func(channel.Message)
	nextSub uint64
	closed  bool

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

// NewWithClient subscribes self on an existing client. The client is not
// closed by Close.
func NewWithClient(ctx context.Context, client *redis.Client, prefix string, self channel.Endpoint, counterpart string) (*Channel, error) {
	if prefix == "" {
		prefix = defaultPrefix
	}
	c := &Channel{
		client:      client,
		prefix:      prefix,
		self:        self,
		counterpart: counterpart,
		subs:        make(map[uint64]func(channel.Message)),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}

	c.pubsub = client.Subscribe(ctx, c.topic(self.ID))
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", c.topic(self.ID), err)
	}
	go c.receiveLoop()
	return c, nil
}

func (c *Channel) topic(id string) string { return c.prefix + id }

// Counterpart implements channel.Channel.
func (c *Channel) Counterpart() string { return c.counterpart }

// Post implements channel.Channel. The receiver enforces targetOrigin
// because a publisher cannot see its subscriber's origin.
func (c *Channel) Post(ctx context.Context, data []byte, targetOrigin string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ifrauerrors.ErrClosed
	}

	payload, err := encodeFrame(c.self, targetOrigin, data)
	if err != nil {
		return err
	}
	if err := c.client.Publish(ctx, c.topic(c.counterpart), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements channel.Channel.
func (c *Channel) Subscribe(fn func(channel.Message)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ifrauerrors.ErrClosed
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}, nil
}

// Close implements channel.Channel.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		clear(c.subs)
		c.mu.Unlock()
		close(c.done)

		err = c.pubsub.Close()
		if c.ownsClient {
			if cerr := c.client.Close(); err == nil {
				err = cerr
			}
		}
	})
	return err
}

func (c *Channel) receiveLoop() {
	select {
	case <-c.ready:
	case <-c.done:
		return
	}

	for m := range c.pubsub.Channel() {
		msg, ok := decodeFrame(c.self, []byte(m.Payload))
		if !ok {
			continue
		}
		c.mu.Lock()
		subs := make([]func(channel.Message), 0, len(c.subs))
		for _, fn := range c.subs {
			subs = append(subs, fn)
		}
		c.mu.Unlock()
		for _, fn := range subs {
			fn(msg)
		}
	}
}

func encodeFrame(self channel.Endpoint, targetOrigin string, data []byte) ([]byte, error) {
	b, err := json.Marshal(frame{
		Source:       self.ID,
		Origin:       self.Origin,
		TargetOrigin: targetOrigin,
		Data:         data,
	})
	if err != nil {
		return nil, fmt.Errorf("redis frame: %w", err)
	}
	return b, nil
}

// decodeFrame returns the message a frame carries to receiver, or false
// when the frame is malformed or addressed to another origin.
func decodeFrame(receiver channel.Endpoint, payload []byte) (channel.Message, bool) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return channel.Message{}, false
	}
	if !channel.OriginAllowed(f.TargetOrigin, receiver.Origin) {
		return channel.Message{}, false
	}
	return channel.Message{Source: f.Source, Origin: f.Origin, Data: f.Data}, true
}
