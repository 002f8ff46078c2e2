package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/gezibash/ifrau/pkg/channel"
)

func TestFrameRoundTrip(t *testing.T) {
	sender := channel.Endpoint{ID: "a", Origin: "https://a.example"}
	receiver := channel.Endpoint{ID: "b", Origin: "https://b.example"}

	tests := []struct {
		name         string
		targetOrigin string
		ok           bool
	}{
		{"exact origin", "https://b.example", true},
		{"wildcard", channel.Wildcard, true},
		{"other origin", "https://c.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := encodeFrame(sender, tt.targetOrigin, []byte(`{"k":1}`))
			if err != nil {
				t.Fatal(err)
			}
			msg, ok := decodeFrame(receiver, payload)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if msg.Source != "a" || msg.Origin != sender.Origin || string(msg.Data) != `{"k":1}` {
				t.Fatalf("msg = %+v", msg)
			}
		})
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	if _, ok := decodeFrame(channel.Endpoint{ID: "b"}, []byte("not json")); ok {
		t.Fatal("garbage accepted")
	}
}

func TestFactoryValidatesConfig(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		config map[string]string
		field  string
	}{
		{"no addr", map[string]string{KeyAddr: "", KeyID: "a", KeyCounterpart: "b"}, KeyAddr},
		{"no id", map[string]string{KeyAddr: "localhost:6379", KeyCounterpart: "b"}, "id"},
		{"no counterpart", map[string]string{KeyAddr: "localhost:6379", KeyID: "a"}, KeyCounterpart},
		{"negative db", map[string]string{KeyAddr: "localhost:6379", KeyID: "a", KeyCounterpart: "b", KeyDB: "-1"}, KeyDB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFactory(ctx, tt.config)
			var ce *channel.ConfigError
			if !errors.As(err, &ce) || ce.Field != tt.field {
				t.Fatalf("err = %v, want config error on %s", err, tt.field)
			}
		})
	}
}
