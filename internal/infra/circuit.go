// Package infra holds failure-isolation primitives shared by the tool
// executor and model providers.
package infra

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen is returned in place of tool output while a breaker blocks
// calls. It is never retriable.
var ErrCircuitOpen = errors.New("circuit_open")

// CircuitBreakerConfig configures one breaker.
type CircuitBreakerConfig struct {
	// Name identifies the protected tool.
	Name string

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit.
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open before admitting a
	// half-open probe.
	OpenTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int

	// OnStateChange is called on every transition.
	OnStateChange func(name, from, to string)
}

func (c *CircuitBreakerConfig) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// CircuitBreaker tracks consecutive failures for one tool. Closed passes
// calls through; after FailureThreshold consecutive failures it opens and
// blocks until OpenTimeout elapses, then admits HalfOpenMaxCalls probes. A
// probe success closes the circuit, a probe failure reopens it.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         string
	failures      int
	halfOpenCalls int
	openedAt      time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	config.applyDefaults()
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Check reports whether a call may proceed. blocked is true while the
// circuit rejects calls; recovered is true on the transition from open to
// half-open so the caller can log the probe.
func (cb *CircuitBreaker) Check() (blocked, recovered bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return false, false

	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return true, false
		}
		cb.transitionTo(CircuitHalfOpen)
		cb.halfOpenCalls = 1
		return false, true

	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			return true, false
		}
		cb.halfOpenCalls++
		return false, false
	}
	return false, false
}

// RecordSuccess closes a half-open circuit. While closed it changes nothing:
// the failure count only resets through recovery, so intermittent successes
// do not mask a degrading tool.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.failures = 0
		cb.transitionTo(CircuitClosed)
	}
}

// RecordFailure counts one failure, opening the circuit at the threshold. A
// half-open failure reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.open()
		}

	case CircuitHalfOpen:
		cb.failures++
		cb.open()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transitionTo(CircuitOpen)
}

func (cb *CircuitBreaker) transitionTo(state string) {
	from := cb.state
	if from == state {
		return
	}
	cb.state = state
	if state != CircuitHalfOpen {
		cb.halfOpenCalls = 0
	}
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.config.Name, from, state)
	}
}

// BreakerSet holds one breaker per tool name. Each agent owns its own set, so
// a tool failing for one agent does not block siblings.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	defaults CircuitBreakerConfig
}

// NewBreakerSet creates an empty set with shared defaults.
func NewBreakerSet(defaults CircuitBreakerConfig) *BreakerSet {
	defaults.applyDefaults()
	return &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for a tool, creating it closed on first use.
func (s *BreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	config := s.defaults
	config.Name = name
	cb := NewCircuitBreaker(config)
	s.breakers[name] = cb
	return cb
}

// States returns a snapshot of every breaker's state, keyed by tool name.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.State()
	}
	return out
}
