// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fetcher

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of the register circuit breaker.
//
// # State Diagram
//
//	   ┌─────────────────────────────────────┐
//	   │                                     │
//	   ▼                                     │
//	CLOSED ──[failure threshold]──► OPEN ───┘
//	   ▲                              │
//	   │                              │
//	   └───[success]◄── HALF_OPEN ◄──┘
//	                    [cooldown]
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota

	// CircuitOpen means the register is failing and requests are rejected.
	CircuitOpen

	// CircuitHalfOpen means probe requests are let through after the cooldown.
	CircuitHalfOpen
)

// String returns a human-readable state name.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// ErrCircuitOpen is returned instead of issuing a request while the breaker is open.
var ErrCircuitOpen = errors.New("register circuit breaker is open")

// BreakerConfig configures the circuit breaker.
//
// # Example
//
//	cfg := BreakerConfig{
//	    FailureThreshold: 20,               // Open after 20 consecutive transport failures
//	    SuccessThreshold: 2,                // Close after 2 successful probes
//	    Cooldown:         30 * time.Second, // Stay open for 30s
//	}
type BreakerConfig struct {
	// FailureThreshold is consecutive failures before opening.
	// Default: 5
	FailureThreshold int

	// SuccessThreshold is consecutive successes to close from half-open.
	// Default: 2
	SuccessThreshold int

	// Cooldown is how long to stay open before probing.
	// Default: 30 seconds
	Cooldown time.Duration

	// OnStateChange is called asynchronously when the state transitions.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker stops hammering the register once it is clearly down.
//
// # Description
//
// A scan issues tens of thousands of requests. When the register is
// unreachable every one of them would fail after a full timeout; the breaker
// turns that into fast ErrCircuitOpen outcomes until a probe succeeds.
//
// # Thread Safety
//
// CircuitBreaker is safe for concurrent use. A nil *CircuitBreaker is
// valid and lets every request through.
type CircuitBreaker struct {
	config      BreakerConfig
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
	mu          sync.Mutex
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Execute runs fn if the circuit allows it and records the result.
//
// # Outputs
//
//   - error: ErrCircuitOpen if the circuit is open, otherwise fn's error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if cb == nil {
		return fn()
	}
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.config.Cooldown {
			cb.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.successes = 0
		cb.lastFailure = cb.now()
		switch cb.state {
		case CircuitClosed:
			if cb.failures >= cb.config.FailureThreshold {
				cb.transitionTo(CircuitOpen)
			}
		case CircuitHalfOpen:
			cb.transitionTo(CircuitOpen)
		}
		return
	}

	cb.successes++
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		if cb.successes >= cb.config.SuccessThreshold {
			cb.failures = 0
			cb.transitionTo(CircuitClosed)
		}
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(old, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	if cb == nil {
		return CircuitClosed
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
