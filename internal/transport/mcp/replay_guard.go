package mcp

import (
	"sync"
	"time"
)

// replayGuard remembers recently accepted signatures per client so a
// captured request cannot be sent twice inside the clock skew window.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	ttl       time.Duration
	lastPrune time.Time
	maxKeys   int
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * clockSkew
	}
	return &replayGuard{
		seen:    map[string]time.Time{},
		ttl:     ttl,
		maxKeys: 65536,
	}
}

func (g *replayGuard) allow(clientID, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := clientID + "|" + signature

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > 4096 || now.Sub(g.lastPrune) > g.ttl/2 {
		for k, exp := range g.seen {
			if !exp.After(now) {
				delete(g.seen, k)
			}
		}
		g.lastPrune = now
	}
	if exp, ok := g.seen[key]; ok && exp.After(now) {
		return false
	}
	if len(g.seen) >= g.maxKeys {
		// hard cap for unexpectedly high-cardinality traffic
		g.seen = map[string]time.Time{}
	}
	g.seen[key] = now.Add(g.ttl)
	return true
}
