// Package protocol defines the JSON frame envelope and the event names
// shared by server and client. The event names are the wire contract with
// the original front end and must not be renamed.
package protocol

import "encoding/json"

// Client-originated events.
const (
	EventSetup       = "setup"
	EventJoinChat    = "join chat"
	EventTyping      = "typing"
	EventStopTyping  = "stop typing"
	EventNewMessage  = "new message"
	EventUserOnline  = "user online"
	EventUserOffline = "user offline"
)

// Server-originated events. EventUserOnline doubles as the server's
// online-id list announcement; EventTyping and EventStopTyping are relayed
// verbatim.
const (
	EventOnlineUsers     = "online users"
	EventMessageReceived = "message received"
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode marshals an event frame. The payload may be any JSON-marshalable
// value or a json.RawMessage to relay bytes untouched.
func Encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Payload: raw})
}

// Decode unmarshals a frame, leaving the payload raw.
func Decode(data []byte) (Frame, error) {
	var f Frame
	err := json.Unmarshal(data, &f)
	return f, err
}
