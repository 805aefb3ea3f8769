// Package dedup provides the short-lived idempotency lock that guarantees at
// most one concurrent processing attempt per message id.
package dedup

import (
	"sync"
	"time"
)

// Guard is a concurrent TTL claim map keyed by message id. TryStart is an
// atomic check-and-set; the TTL is a safety net so a claim orphaned by a
// crash between claiming and finalizing eventually frees itself.
type Guard struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

// TryStart claims the id for ttl if it is not already claimed. Returns false
// when another caller holds a live claim.
func (g *Guard) TryStart(id string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expiry, claimed := g.claims[id]; claimed && expiry.After(now) {
		return false
	}

	g.claims[id] = now.Add(ttl)
	return true
}

// Complete releases the claim immediately. No-op for unclaimed ids.
func (g *Guard) Complete(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, id)
}

// Len reports the number of live claims, dropping expired ones on the way.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, expiry := range g.claims {
		if !expiry.After(now) {
			delete(g.claims, id)
		}
	}
	return len(g.claims)
}
