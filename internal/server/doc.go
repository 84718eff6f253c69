// Package server implements the HTTP and WebSocket front of the chat relay.
//
// The Hub routes frames to every live connection of an identity and keeps
// the presence registry in step with registration. Each Client runs a read
// pump that hands frames to the chat coordinator one at a time and a write
// pump that drains its buffered send channel. Configuration, origin checks,
// rate limiting and HTTP handlers live in their own files.
package server
