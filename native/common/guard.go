package common

import (
	"errors"
	"sync"
)

// ErrReentrancy is returned when a guarded operation is entered while another
// guarded operation already holds the flag.
var ErrReentrancy = errors.New("reentrant call")

// CallGuard is a process-wide single-flight flag around operations that hand
// control to an external transfer. The flag is deliberately global rather than
// per borrower: operations are sequential within a unit of work, so the wider
// scope costs nothing and rejects any unexpected nested call.
type CallGuard struct {
	mu   sync.Mutex
	held bool
}

func NewCallGuard() *CallGuard {
	return &CallGuard{}
}

// Enter acquires the flag and returns the release closure. Callers must defer
// the release immediately so it runs on every exit path, error or not.
func (g *CallGuard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, ErrReentrancy
	}
	g.held = true
	return g.release, nil
}

func (g *CallGuard) release() {
	g.mu.Lock()
	g.held = false
	g.mu.Unlock()
}

// Held reports whether the flag is currently taken.
func (g *CallGuard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.held
}
