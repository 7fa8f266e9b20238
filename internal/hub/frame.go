// Package hub is the websocket relay that fans bus frames out to the
// connections subscribed to a channel.
package hub

import (
	"github.com/dkeye/ringcall/internal/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Client to server ops.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpPing        = "ping"
)

// Server to client ops.
const (
	OpMessage    = "message"
	OpPong       = "pong"
	OpError      = "error"
	OpWelcome    = "welcome"
	OpSubscribed = "subscribed"
)

// Frame is the unit on the relay websocket. Payload is opaque to the relay.
type Frame struct {
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`
	Event   string `json:"event,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	// From is set by the relay to the authenticated sender.
	From  string `json:"from,omitempty"`
	Error string `json:"error,omitempty"`
}

func Encode(f Frame) ([]byte, error) { return json.Marshal(f) }

func Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}

func key(channel, event string) string { return channel + "\x00" + event }

// senderMatches reports whether a JSON payload that names its sender in a
// top-level "from" string names party. Other payloads pass.
func senderMatches(party domain.PartyID, payload []byte) bool {
	from := json.Get(payload, "from")
	if from.ValueType() != jsoniter.StringValue {
		return true
	}
	return from.ToString() == string(party)
}
