package model

import "time"

// ConnectionEventType classifies a lifecycle event of a realtime session.
type ConnectionEventType string

const (
	// EventConnected is recorded when a session passes admission and is registered.
	EventConnected ConnectionEventType = "connected"

	// EventDisconnected is recorded when a session is unregistered after a
	// clean close or a read/write error.
	EventDisconnected ConnectionEventType = "disconnected"

	// EventEvicted is recorded when the liveness sweep removes a silent session.
	EventEvicted ConnectionEventType = "evicted"

	// EventRejected is recorded when an upgrade request fails admission.
	EventRejected ConnectionEventType = "rejected"
)

// ConnectionEvent is one row of the connection audit log. It records session
// lifecycle transitions only; message payloads are never persisted.
type ConnectionEvent struct {
	ID         int64               `json:"id"`
	SessionID  string              `json:"sessionId"`
	ClientID   string              `json:"clientId"`
	Type       ConnectionEventType `json:"type"`
	RemoteAddr string              `json:"remoteAddr,omitempty"`
	Detail     string              `json:"detail,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
}
