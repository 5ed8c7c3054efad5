// Package server defines the wire payloads exchanged with clients and small
// helpers shared by the gateway and client code.
package server

import (
	"encoding/json"
	"strings"
)

// Outbound event names.
const (
	EventClientsUpdated    = "clients-updated"
	EventMessageFromServer = "message-from-server"
)

// PlaceholderMessage replaces a missing or empty message body.
const PlaceholderMessage = "no-message!!"

// IncomingMessage is the payload a client sends to chat.
type IncomingMessage struct {
	Message string `json:"message"`
}

// ChatMessage is broadcast to every connection for each chat event.
type ChatMessage struct {
	FullName string `json:"fullName"`
	Message  string `json:"message"`
}

// Event is the envelope of every outbound frame.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// messageText extracts the chat text from an inbound frame. The frame must be
// a JSON object; a missing, empty, null or non-string message yields
// PlaceholderMessage.
func messageText(raw []byte) (string, error) {
	var in struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(in.Message, &text); err != nil || text == "" {
		return PlaceholderMessage, nil
	}
	return text, nil
}

func encodeEvent(name string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Event{Event: name, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
