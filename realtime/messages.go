// Package realtime provides the live push subsystem: the connection registry
// with per-device subscription topics and concurrent fan-out broadcast, the
// WebSocket transport adapter, and the streaming HTTP handlers.
package realtime

import (
	"encoding/json"

	"github.com/c360/telemetry/types"
)

// TopicAll is the reserved wildcard topic meaning "all devices". Connections
// subscribed to it receive every broadcast reading.
const TopicAll = "__all__"

// Message type discriminators for server-to-client frames.
const (
	MessageTypeReading = "reading"
	MessageTypeAck     = "ack"
	MessageTypeError   = "error"
	MessageTypePong    = "pong"
)

// Client actions accepted on the inbound side of a stream connection.
const (
	ActionPing        = "ping"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// ReadingMessage pushes a newly ingested reading to subscribers.
type ReadingMessage struct {
	Type     string        `json:"type"`
	DeviceID string        `json:"device_id"`
	Data     types.Reading `json:"data"`
}

// AckMessage confirms a client action.
type AckMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorMessage reports a client-visible protocol error.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PongMessage is the heartbeat reply to a ping action.
type PongMessage struct {
	Type string `json:"type"`
}

// ClientCommand is a frame received from a stream client.
type ClientCommand struct {
	Action   string `json:"action"`
	DeviceID string `json:"device_id,omitempty"`
}

// EncodeReading marshals the push frame for a reading.
func EncodeReading(reading types.Reading) ([]byte, error) {
	return json.Marshal(ReadingMessage{
		Type:     MessageTypeReading,
		DeviceID: reading.DeviceID,
		Data:     reading,
	})
}

// EncodeAck marshals an acknowledgment frame.
func EncodeAck(message string) ([]byte, error) {
	return json.Marshal(AckMessage{Type: MessageTypeAck, Message: message})
}

// EncodeError marshals an error frame.
func EncodeError(errMsg, code string) ([]byte, error) {
	return json.Marshal(ErrorMessage{Type: MessageTypeError, Error: errMsg, Code: code})
}

// EncodePong marshals a heartbeat reply.
func EncodePong() ([]byte, error) {
	return json.Marshal(PongMessage{Type: MessageTypePong})
}
