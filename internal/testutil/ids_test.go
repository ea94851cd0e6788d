package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDs_FixedThenFallback(t *testing.T) {
	g := NewSequenceIDs("p1", "t1")

	assert.Equal(t, "p1", g.Generate())
	assert.Equal(t, "t1", g.Generate())
	assert.Equal(t, "id-1", g.Generate())
	assert.Equal(t, "id-2", g.Generate())
	assert.Equal(t, 4, g.Issued())
}

func TestSequenceIDs_Prefix(t *testing.T) {
	g := NewSequenceIDs().WithPrefix("gen")
	assert.Equal(t, "gen-1", g.Generate())
}

func TestSequenceIDs_ConcurrentIDsAreUnique(t *testing.T) {
	g := NewSequenceIDs("a", "b", "c")

	const goroutines = 40
	ids := make(chan string, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- g.Generate()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, goroutines)
	assert.True(t, seen["a"] && seen["b"] && seen["c"])
}
