// ABOUTME: Lock-free boolean gates
// ABOUTME: Talk and hold flags shared between the UI and the audio paths
package voicecall

import "sync/atomic"

// Gate is a last-writer-wins flag. Readers see the most recent Set.
type Gate struct {
	open atomic.Bool
}

// Set opens or closes the gate
func (g *Gate) Set(open bool) {
	g.open.Store(open)
}

// Open reports the current value
func (g *Gate) Open() bool {
	return g.open.Load()
}

// Toggle flips the gate and returns the new value
func (g *Gate) Toggle() bool {
	for {
		old := g.open.Load()
		if g.open.CompareAndSwap(old, !old) {
			return !old
		}
	}
}
