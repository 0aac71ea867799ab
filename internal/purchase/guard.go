package purchase

import "sync"

// Guard admits one run per key at a time. It stands in for disabling the
// purchase button until the run reaches a terminal state.
type Guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewGuard returns an empty guard.
func NewGuard() *Guard {
	return &Guard{active: make(map[string]struct{})}
}

// Acquire claims key. The returned release must be called exactly once.
func (g *Guard) Acquire(key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[key]; busy {
		return nil, false
	}
	g.active[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, key)
			g.mu.Unlock()
		})
	}, true
}

// Active reports whether key is claimed.
func (g *Guard) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.active[key]
	return busy
}
