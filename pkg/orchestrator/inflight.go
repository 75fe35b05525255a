package orchestrator

import "sync"

// inflightGuard deduplicates concurrent scans of the same (domain, region)
// pair. Provider-side idempotence is not assumed; a duplicate request is
// skipped outright and surfaced in the plan metadata.
type inflightGuard struct {
	mu     sync.Mutex
	active map[string]bool
}

func newInflightGuard() *inflightGuard {
	return &inflightGuard{active: make(map[string]bool)}
}

// TryAcquire claims the key, reporting false when a scan for it is already
// in flight
func (g *inflightGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[key] {
		return false
	}
	g.active[key] = true
	return true
}

// Release frees the key
func (g *inflightGuard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, key)
}
