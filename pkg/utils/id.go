package utils

import (
	"github.com/google/uuid"
)

// NewConnectionID identifies one signaling connection.
func NewConnectionID() string {
	return "conn_" + uuid.NewString()
}

// NewPeerID is assigned to connections that do not bring their own peer id.
func NewPeerID() string {
	return uuid.NewString()
}

// NewRequestID identifies an HTTP request for log correlation.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}
