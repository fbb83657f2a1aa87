// Package breaker implements a per-store circuit breaker and the manager
// that owns one breaker per optional store. Critical stores are never placed
// behind a breaker: they are not allowed to be skipped.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kalambet/quadsync/internal/store"
)

// State is the breaker's resilience state.
type State string

const (
	// StateClosed is normal operation; failures are tracked.
	StateClosed State = "closed"
	// StateOpen fails fast; no calls reach the adapter until the recovery
	// timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen allows trial calls to test recovery.
	StateHalfOpen State = "half_open"
)

// Settings configures a single breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures in closed
	// state that opens the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long an open breaker waits before allowing a
	// trial call (half-open).
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in half-open
	// state that closes the breaker again.
	SuccessThreshold int
}

// DefaultSettings returns the store-specific defaults: graph recovers
// faster than cache because a graph backend restart is typically quick,
// while a cache node coming back cold should not be hammered immediately.
func DefaultSettings(role store.Role) Settings {
	s := Settings{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 2,
	}
	if role == store.RoleCache {
		s.RecoveryTimeout = 60 * time.Second
	}
	return s
}

// OpenError is the fail-fast rejection returned when a call hits an open
// breaker. The wrapped operation was never invoked.
type OpenError struct {
	Role       store.Role
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s store is open, retry in %s", e.Role, e.RetryAfter.Round(time.Millisecond))
}

// Metrics are the breaker's call counters. Mutated only by the owning
// breaker under its lock; reset on transition to closed.
type Metrics struct {
	FailureCount         int       `json:"failure_count"`
	SuccessCount         int       `json:"success_count"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastFailureTime      time.Time `json:"last_failure_time,omitzero"`
	LastSuccessTime      time.Time `json:"last_success_time,omitzero"`
	TotalOperations      int       `json:"total_operations"`
}

// Breaker is the resilience state machine for a single optional store.
// State evaluation and call dispatch are atomic with respect to concurrent
// callers hitting the same store: half-open admits a single trial call at a
// time and fails everyone else fast.
type Breaker struct {
	role     store.Role
	settings Settings
	now      func() time.Time

	mu      sync.Mutex
	state   State
	trial   bool // a half-open trial call is in flight
	metrics Metrics
}

// New creates a closed breaker for the given store role.
func New(role store.Role, settings Settings) *Breaker {
	return &Breaker{
		role:     role,
		settings: settings,
		now:      time.Now,
		state:    StateClosed,
	}
}

// Call runs fn through the breaker. If the breaker is open and the recovery
// timeout has not elapsed, fn is never invoked and *OpenError is returned.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	trial, err := b.before()
	if err != nil {
		return err
	}

	err = fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// before evaluates breaker state on call entry. It either admits the call,
// marking it as the half-open trial when applicable, or returns the open
// rejection.
func (b *Breaker) before() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		elapsed := b.now().Sub(b.metrics.LastFailureTime)
		if elapsed < b.settings.RecoveryTimeout {
			return false, &OpenError{Role: b.role, RetryAfter: b.settings.RecoveryTimeout - elapsed}
		}
		b.state = StateHalfOpen
		b.metrics.ConsecutiveSuccesses = 0
	}
	if b.state == StateHalfOpen {
		if b.trial {
			// A recovering store gets one trial call at a time.
			return false, &OpenError{Role: b.role}
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

// recordSuccess must be called with the lock held.
func (b *Breaker) recordSuccess() {
	b.metrics.SuccessCount++
	b.metrics.TotalOperations++
	b.metrics.ConsecutiveSuccesses++
	b.metrics.ConsecutiveFailures = 0
	b.metrics.LastSuccessTime = b.now()

	if b.state == StateHalfOpen && b.metrics.ConsecutiveSuccesses >= b.settings.SuccessThreshold {
		b.state = StateClosed
		b.metrics = Metrics{}
	}
}

// recordFailure must be called with the lock held.
func (b *Breaker) recordFailure() {
	b.metrics.FailureCount++
	b.metrics.TotalOperations++
	b.metrics.ConsecutiveFailures++
	b.metrics.ConsecutiveSuccesses = 0
	b.metrics.LastFailureTime = b.now()

	switch b.state {
	case StateClosed:
		if b.metrics.ConsecutiveFailures >= b.settings.FailureThreshold {
			b.state = StateOpen
		}
	case StateHalfOpen:
		// One strike in half-open reopens immediately, no partial credit.
		b.state = StateOpen
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's state and a copy of its metrics.
func (b *Breaker) Snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Status{State: b.state, Metrics: b.metrics}
}

// Status is a point-in-time view of one breaker, used in health reports.
type Status struct {
	State   State   `json:"state"`
	Metrics Metrics `json:"metrics"`
}

// Manager owns exactly one breaker per optional store role.
type Manager struct {
	breakers map[store.Role]*Breaker
}

// NewManager creates one breaker per optional role with store-specific
// default settings.
func NewManager() *Manager {
	m := &Manager{breakers: make(map[store.Role]*Breaker)}
	for _, role := range store.OptionalRoles() {
		m.breakers[role] = New(role, DefaultSettings(role))
	}
	return m
}

// NewManagerWith creates a manager from explicit breakers, keyed by role.
// Used by tests that need deterministic clocks or thresholds.
func NewManagerWith(breakers map[store.Role]*Breaker) *Manager {
	return &Manager{breakers: breakers}
}

// For returns the breaker owning the given role, or nil if the role is not
// behind a breaker.
func (m *Manager) For(role store.Role) *Breaker {
	return m.breakers[role]
}

// Snapshot returns per-role breaker status for health reporting.
func (m *Manager) Snapshot() map[store.Role]Status {
	out := make(map[store.Role]Status, len(m.breakers))
	for role, b := range m.breakers {
		out[role] = b.Snapshot()
	}
	return out
}
