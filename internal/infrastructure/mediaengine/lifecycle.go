package mediaengine

import (
	"sync"

	"roomcast/internal/core/ports"
)

// lifecycle tracks whether an entity is closed and fans the close out to its
// listeners exactly once.
type lifecycle struct {
	mu        sync.Mutex
	closed    bool
	reason    ports.CloseReason
	listeners []func(ports.CloseReason)
}

// begin marks the entity closed. Only the first caller gets true and must
// call finish once its own teardown is done.
func (l *lifecycle) begin(reason ports.CloseReason) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	l.reason = reason
	return true
}

func (l *lifecycle) finish() {
	l.mu.Lock()
	ls := l.listeners
	l.listeners = nil
	reason := l.reason
	l.mu.Unlock()

	for _, fn := range ls {
		fn(reason)
	}
}

func (l *lifecycle) OnClose(fn func(reason ports.CloseReason)) {
	l.mu.Lock()
	if l.closed {
		reason := l.reason
		l.mu.Unlock()
		fn(reason)
		return
	}
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *lifecycle) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
