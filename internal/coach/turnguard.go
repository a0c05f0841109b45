package coach

import (
	"context"
	"sync"
)

// turnGuard serializes generations on one connection. Only one turn may
// hold it; a second begin fails instead of queuing.
type turnGuard struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// begin claims the guard and derives the turn's context. The returned
// finish must be called exactly once when the turn's goroutine exits.
func (g *turnGuard) begin(parent context.Context) (context.Context, func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done != nil {
		select {
		case <-g.done:
		default:
			return nil, nil, false
		}
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done
	finish := func() {
		cancel()
		close(done)
	}
	return ctx, finish, true
}

// cancelActive cancels the in-flight turn, if any. Reports whether a
// turn was actually running.
func (g *turnGuard) cancelActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
	}
	g.cancel()
	return true
}

// wait blocks until the in-flight turn, if any, has finished.
func (g *turnGuard) wait() {
	g.mu.Lock()
	done := g.done
	g.mu.Unlock()
	if done != nil {
		<-done
	}
}
