package watchflow

import (
	"errors"
	"sync"
	"time"
)

// DefaultAdCountdown is how long the ad must be shown before continuing.
const DefaultAdCountdown = 15 * time.Second

var (
	ErrCountdownRunning = errors.New("watchflow: ad countdown still running")
	ErrGateClosed       = errors.New("watchflow: ad gate closed")
	ErrAlreadyContinued = errors.New("watchflow: ad gate already continued")
)

// AdGate is the countdown shown while an ad plays. Continue runs its
// completion at most once; Stop clears the timer when the view goes away.
type AdGate struct {
	mu        sync.Mutex
	timer     *time.Timer
	deadline  time.Time
	ready     chan struct{}
	stopped   bool
	continued bool
}

// NewAdGate starts a countdown of d (DefaultAdCountdown when d <= 0).
func NewAdGate(d time.Duration) *AdGate {
	if d <= 0 {
		d = DefaultAdCountdown
	}
	g := &AdGate{ready: make(chan struct{}), deadline: time.Now().Add(d)}
	g.timer = time.AfterFunc(d, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if !g.stopped {
			close(g.ready)
		}
	})
	return g
}

// Ready is closed when the countdown elapses. It never closes after Stop.
func (g *AdGate) Ready() <-chan struct{} { return g.ready }

// Remaining returns the countdown time left.
func (g *AdGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.ready:
		return 0
	default:
	}
	if g.stopped {
		return 0
	}
	if d := time.Until(g.deadline); d > 0 {
		return d
	}
	return 0
}

// Stop clears the countdown. Safe to call more than once.
func (g *AdGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	g.timer.Stop()
}

// Continue runs fn once the countdown has elapsed. Only the first call that
// gets past the countdown runs fn; later calls get ErrAlreadyContinued.
func (g *AdGate) Continue(fn func() error) error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return ErrGateClosed
	}
	select {
	case <-g.ready:
	default:
		g.mu.Unlock()
		return ErrCountdownRunning
	}
	if g.continued {
		g.mu.Unlock()
		return ErrAlreadyContinued
	}
	g.continued = true
	g.mu.Unlock()
	return fn()
}
