// Package channel defines the opaque asynchronous message channel that ports
// run on, and a registry of channel backends.
//
// A channel connects exactly two execution contexts. One side posts a
// message, the other receives it through a subscribed callback. Channels do
// not guarantee delivery and do not order messages belonging to different
// conversations.
package channel

import "context"

// Wildcard is the target origin that matches any receiver.
const Wildcard = "*"

// Message is one inbound delivery, as seen by the receiving side.
type Message struct {
	// Source identifies the sending context.
	Source string
	// Origin is the trust origin of the sender (e.g. "https://app.example").
	Origin string
	// Data is the opaque message body.
	Data []byte
}

// Channel is one side of a message channel.
type Channel interface {
	// Post sends data to the counterpart. The message is only delivered if
	// the counterpart's origin equals targetOrigin or targetOrigin is "*".
	// An origin mismatch is not an error: the message is silently dropped.
	Post(ctx context.Context, data []byte, targetOrigin string) error

	// Subscribe registers fn for every inbound message and returns a
	// function that detaches it. fn may be called from any goroutine.
	Subscribe(fn func(Message)) (cancel func(), err error)

	// Counterpart identifies the expected sender of inbound messages.
	Counterpart() string

	// Close releases the channel.
	Close() error
}

// Endpoint names one side of a channel.
type Endpoint struct {
	ID     string
	Origin string
}

// OriginAllowed reports whether a receiver with origin accepts a message
// posted with targetOrigin.
func OriginAllowed(targetOrigin, origin string) bool {
	return targetOrigin == Wildcard || targetOrigin == origin
}
