// Package wakelock implements the named, reference-counted suspend
// inhibitor gateway. It owns the reference counting only: a name's
// Backend.Acquire runs on its first Lock and Backend.Release when its
// count returns to zero. The package ships no platform backend; cmd/mced
// wires NopBackend.
package wakelock

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Backend performs the actual platform suspend-inhibit calls. No
// implementation besides NopBackend is provided here; tests pass nil,
// which NewGateway replaces with NopBackend.
type Backend interface {
	Acquire(name string)
	Release(name string)
}

// NopBackend discards acquire/release calls; useful for wiring a Gateway in
// contexts where the platform backend isn't available (tests, non-Linux).
type NopBackend struct{}

func (NopBackend) Acquire(string) {}
func (NopBackend) Release(string) {}

// Gateway reference-counts named wakelocks and forwards the first
// Lock/last Unlock transition to Backend.
type Gateway struct {
	log     hclog.Logger
	backend Backend

	mu    sync.Mutex
	count map[string]int
}

func NewGateway(log hclog.Logger, backend Backend) *Gateway {
	if backend == nil {
		backend = NopBackend{}
	}
	return &Gateway{
		log:     log.Named("wakelock"),
		backend: backend,
		count:   make(map[string]int),
	}
}

// Lock increments name's reference count, acquiring the platform wakelock
// on the 0->1 transition.
func (g *Gateway) Lock(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.count[name]++
	if g.count[name] == 1 {
		g.log.Debug("acquire", "name", name)
		g.backend.Acquire(name)
	}
}

// Unlock decrements name's reference count, releasing the platform wakelock
// on the 1->0 transition. Unlocking a name with a zero count is a no-op
// logged at Warn: it indicates a caller bug, but the core degrades rather
// than panics on anything short of an exhaustiveness violation.
func (g *Gateway) Unlock(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.count[name] <= 0 {
		g.log.Warn("unlock without matching lock", "name", name)
		return
	}
	g.count[name]--
	if g.count[name] == 0 {
		g.log.Debug("release", "name", name)
		g.backend.Release(name)
		delete(g.count, name)
	}
}

// Held reports whether name currently has a positive reference count.
func (g *Gateway) Held(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count[name] > 0
}

// Outstanding returns the set of names with a positive reference count, for
// diagnostics and teardown.
func (g *Gateway) Outstanding() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.count))
	for name, n := range g.count {
		if n > 0 {
			names = append(names, name)
		}
	}
	return names
}
