// Package authgate lets dependent calls wait for the outcome of the current
// authentication attempt without polling.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Frozertiru-gif/Kina/internal/metrics"
)

// State of the current attempt.
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateMissing State = "missing"
	StateFailed  State = "failed"
)

var (
	// ErrAuthMissing means no host identity was available to authenticate with.
	ErrAuthMissing = errors.New("authgate: identity missing")
	// ErrAuthFailed means the server rejected the identity.
	ErrAuthFailed = errors.New("authgate: authentication failed")
)

// FailedError carries the server's rejection reason (e.g. "init_data_expired").
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return ErrAuthFailed.Error()
	}
	return fmt.Sprintf("%v: %s", ErrAuthFailed, e.Reason)
}

func (e *FailedError) Unwrap() error { return ErrAuthFailed }

// Gate is a single-slot, multi-waiter, reset-per-attempt latch.
// The zero value is not usable; use New.
type Gate struct {
	mu     sync.Mutex
	state  State
	reason string
	done   chan struct{} // closed when the current attempt resolves
}

// New returns a gate in the pending state.
func New() *Gate {
	return &Gate{state: StatePending, done: make(chan struct{})}
}

// Reset begins a new attempt. Waiters of a still-pending previous attempt stay
// attached to it and are released by whichever mark comes next.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StatePending {
		g.reason = ""
		return
	}
	g.state = StatePending
	g.reason = ""
	g.done = make(chan struct{})
}

// MarkReady resolves the current attempt successfully.
func (g *Gate) MarkReady() { g.resolve(StateReady, "") }

// MarkMissing resolves the current attempt with "no identity available".
func (g *Gate) MarkMissing() { g.resolve(StateMissing, "") }

// MarkFailed resolves the current attempt with a server rejection.
func (g *Gate) MarkFailed(reason string) { g.resolve(StateFailed, reason) }

func (g *Gate) resolve(s State, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StatePending {
		// Only the first mark of an attempt counts.
		return
	}
	g.state = s
	g.reason = reason
	close(g.done)
	metrics.RecordAuthGateMark(string(s))
}

// State returns the state of the current attempt and the failure reason, if any.
func (g *Gate) State() (State, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.reason
}

// WaitUntilReady returns nil once the current attempt is ready, ErrAuthMissing
// or a *FailedError for the other terminal states, or ctx.Err().
func (g *Gate) WaitUntilReady(ctx context.Context) error {
	for {
		g.mu.Lock()
		state, reason, done := g.state, g.reason, g.done
		g.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateMissing:
			return ErrAuthMissing
		case StateFailed:
			return &FailedError{Reason: reason}
		}

		select {
		case <-done:
			// re-check under the lock
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
