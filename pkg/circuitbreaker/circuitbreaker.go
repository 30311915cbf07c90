package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sasha-s/go-deadlock"
)

// ErrOpen is returned without calling the guarded function while the breaker
// is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // consecutive failures that open the circuit
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // how long the circuit stays open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          10 * time.Second,
	}
}

// CircuitBreaker stops calling a failing dependency for a while. In the
// half-open state a single probe is let through at a time.
type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu        deadlock.Mutex
	state     State
	failures  int
	successes int
	probing   bool
	openedAt  time.Time

	onStateChange func(from, to State)
}

func New(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// OnStateChange registers a callback invoked synchronously after each
// transition, outside the breaker lock.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.onStateChange = fn
	cb.mu.Unlock()
}

// Execute runs fn through the breaker. fn's error is returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrOpen
	}
	err := fn()
	cb.record(err == nil)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return false
		}
		changed = cb.transitionLocked(StateHalfOpen)
		cb.probing = true
		return true
	case StateHalfOpen:
		if cb.probing {
			return false
		}
		cb.probing = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	var changed func()
	switch {
	case cb.state == StateHalfOpen && success:
		cb.probing = false
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			changed = cb.transitionLocked(StateClosed)
		}
	case cb.state == StateHalfOpen:
		cb.probing = false
		changed = cb.transitionLocked(StateOpen)
	case success:
		cb.failures = 0
	default:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			changed = cb.transitionLocked(StateOpen)
		}
	}
	cb.mu.Unlock()

	if changed != nil {
		changed()
	}
}

// transitionLocked returns the callback to run once the lock is released.
func (cb *CircuitBreaker) transitionLocked(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if fn := cb.onStateChange; fn != nil {
		return func() { fn(from, to) }
	}
	return nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transitionLocked(StateClosed)
	cb.probing = false
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}
