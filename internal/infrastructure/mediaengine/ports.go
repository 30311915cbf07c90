package mediaengine

import (
	"errors"
	"sync"
)

var ErrNoPortsAvailable = errors.New("no rtc ports available")

// portAllocator hands out ports from the configured RTC range.
type portAllocator struct {
	min, max uint16

	mu   sync.Mutex
	next uint16
	used map[uint16]bool
}

func newPortAllocator(min, max uint16) *portAllocator {
	return &portAllocator{min: min, max: max, next: min, used: make(map[uint16]bool)}
}

func (a *portAllocator) Acquire() (uint16, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := int(a.max) - int(a.min) + 1
	for i := 0; i < size; i++ {
		port := a.next
		if a.next == a.max {
			a.next = a.min
		} else {
			a.next++
		}
		if !a.used[port] {
			a.used[port] = true
			return port, nil
		}
	}
	return 0, ErrNoPortsAvailable
}

func (a *portAllocator) Release(port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}

func (a *portAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}
