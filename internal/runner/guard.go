package runner

import (
	"sync"
	"sync/atomic"
)

// RunGuard admits at most one run at a time. A request that finds the guard
// held is turned away rather than queued.
type RunGuard struct {
	busy atomic.Bool
}

// TryAcquire takes the latch. When ok is false the caller must do nothing.
// release is idempotent.
func (g *RunGuard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return func() {}, false
	}
	var once sync.Once
	return func() { once.Do(func() { g.busy.Store(false) }) }, true
}

// Running reports whether a run currently holds the latch.
func (g *RunGuard) Running() bool { return g.busy.Load() }
