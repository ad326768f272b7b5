package downloader

import (
	"context"
	"sync"
)

// gate blocks callers while paused.
type gate struct {
	mu      sync.Mutex
	paused  bool
	resumed chan struct{}
}

func newGate() *gate {
	return &gate{}
}

// Pause closes the gate. It reports whether the state changed.
func (g *gate) Pause() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return false
	}

	g.paused = true
	g.resumed = make(chan struct{})

	return true
}

// Resume opens the gate. It reports whether the state changed.
func (g *gate) Resume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return false
	}

	g.paused = false
	close(g.resumed)

	return true
}

// Paused reports whether the gate is closed.
func (g *gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.paused
}

// Wait returns once the gate is open or ctx is done.
func (g *gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()

		return ctx.Err()
	}

	resumed := g.resumed
	g.mu.Unlock()

	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
