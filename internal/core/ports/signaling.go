package ports

import (
	"roomcast/internal/core/domain"
)

// Notifier pushes server-initiated messages to one signaling connection.
// Notify must not block; delivery is fire-and-forget.
type Notifier interface {
	Notify(method string, data interface{})
}

// EventSink receives room lifecycle events. Emit must not block.
type EventSink interface {
	Emit(event domain.RoomEvent)
}
