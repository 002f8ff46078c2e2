package protocol

import "github.com/gezibash/ifrau/pkg/channel"

// Validate decides whether msg belongs to this protocol instance and
// returns its envelope. A message is accepted only when it comes from the
// expected counterpart, its origin matches targetOrigin (or targetOrigin is
// the wildcard), and it decodes to an envelope carrying this protocol's name
// and version. Rejection is not an error: callers drop the message.
func Validate(targetOrigin, counterpart string, msg channel.Message) (*Envelope, bool) {
	if msg.Source != counterpart {
		return nil, false
	}
	if targetOrigin != channel.Wildcard && targetOrigin != msg.Origin {
		return nil, false
	}
	env, err := Decode(msg.Data)
	if err != nil {
		return nil, false
	}
	if env.Protocol != Name || env.Version != Version {
		return nil, false
	}
	return env, true
}
