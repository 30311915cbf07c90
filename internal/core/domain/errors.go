package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPeerNotFound          = errors.New("peer not found")
	ErrRoomNotFound          = errors.New("room not found")
	ErrDuplicatePeer         = errors.New("duplicate peer")
	ErrTransportNotFound     = errors.New("transport not found")
	ErrProducerNotFound      = errors.New("producer not found")
	ErrConsumerNotFound      = errors.New("consumer not found")
	ErrCannotConsume         = errors.New("cannot consume")
	ErrTransportNotConnected = errors.New("transport not connected")
	ErrAlreadyJoined         = errors.New("already joined a room")
	ErrSessionClosed         = errors.New("session closed")
	ErrInvalidRequest        = errors.New("invalid request")
)

// EngineError wraps a failure reported by the media engine.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("media engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError returns nil when err is nil.
func NewEngineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Err: err}
}
