// Package server defines the outbound frame encoding and utility helpers
// shared by the hub and client logic.
package server

import (
	"encoding/json"
	"strings"
)

// outboundEnvelope is the JSON frame written to clients.
type outboundEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

func encodeEnvelope(event string, payload any) ([]byte, error) {
	return json.Marshal(outboundEnvelope{Event: event, Data: payload})
}

// delivery is a frame queued for the hub. A nil target with an empty
// userID means every connection.
type delivery struct {
	userID  string
	target  *Client
	payload []byte
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
