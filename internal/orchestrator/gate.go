package orchestrator

import "sync"

// serialGate is the mutual-exclusion boundary in front of the shared backend
// device. When disabled it is a no-op and requests overlap freely.
type serialGate struct {
	mu      sync.Mutex
	enabled bool
}

func newSerialGate(enabled bool) *serialGate {
	return &serialGate{enabled: enabled}
}

func (g *serialGate) lock() {
	if g.enabled {
		g.mu.Lock()
	}
}

func (g *serialGate) unlock() {
	if g.enabled {
		g.mu.Unlock()
	}
}
