package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs hands out a fixed list of ids, then falls back to
// "<prefix>-N" so a run that creates more entities than declared still
// gets distinct, reproducible ids.
//
// SequenceIDs satisfies engine.IDGenerator and is safe for concurrent use.
type SequenceIDs struct {
	mu     sync.Mutex
	fixed  []string
	prefix string
	n      int
}

// NewSequenceIDs creates a generator that returns fixed in order, then
// "id-1", "id-2" and so on.
func NewSequenceIDs(fixed ...string) *SequenceIDs {
	return &SequenceIDs{fixed: fixed, prefix: "id"}
}

// WithPrefix changes the fallback prefix.
func (g *SequenceIDs) WithPrefix(prefix string) *SequenceIDs {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prefix = prefix
	return g
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.fixed) {
		return g.fixed[g.n-1]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n-len(g.fixed))
}

// Issued returns how many ids have been generated.
func (g *SequenceIDs) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
